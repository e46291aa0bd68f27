// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a shared validator instance; validator caches struct
// metadata so a single instance is cheaper than per-call construction.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and semantic errors.
// Struct tags cover ranges and required fields; cross-field rules that
// tags cannot express are checked explicitly.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("field %s failed rule %q (value %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}

	// Positive results must outlive negative ones so known-bad keys are
	// retried before good data expires.
	if c.Cache.PositiveTTL <= c.Cache.NegativeTTL {
		return fmt.Errorf("cache.positive_ttl (%s) must exceed cache.negative_ttl (%s)",
			c.Cache.PositiveTTL, c.Cache.NegativeTTL)
	}

	return nil
}
