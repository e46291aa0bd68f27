// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package identity

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tomtom215/lobbyscope/internal/logging"
)

// Override pins a displayed alias to a real account id. Users maintain
// these by hand for aliases they have identified themselves.
type Override struct {
	ID      string `yaml:"id"`
	Comment string `yaml:"comment,omitempty"`
}

// overridesFile is the on-disk shape: a map from alias to override.
type overridesFile struct {
	Aliases map[string]Override `yaml:"aliases"`
}

// OverrideTable is a reloadable alias-to-account mapping. Lookups are
// case-insensitive. Safe for concurrent use.
//
// Two layers: aliases come from the user's file and are replaced on
// Reload; pins are registered at runtime (the local player's own
// nickname) and survive reloads. Pins win over file entries.
type OverrideTable struct {
	mu      sync.RWMutex
	path    string
	aliases map[string]Override
	pins    map[string]Override
}

// NewOverrideTable loads the table from path. An empty path or a missing
// file yields an empty table; a present but unparseable file is an error
// so typos do not silently disable overrides.
func NewOverrideTable(path string) (*OverrideTable, error) {
	t := &OverrideTable{
		path:    path,
		aliases: make(map[string]Override),
		pins:    make(map[string]Override),
	}
	if path == "" {
		return t, nil
	}
	if err := t.Reload(); err != nil {
		if os.IsNotExist(err) {
			logging.Debug().Str("path", path).Msg("No alias override file, starting empty")
			return t, nil
		}
		return nil, err
	}
	return t, nil
}

// Reload re-reads the file, replacing the table atomically.
func (t *OverrideTable) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}

	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing alias overrides %s: %w", t.path, err)
	}

	aliases := make(map[string]Override, len(file.Aliases))
	for alias, ov := range file.Aliases {
		if ov.ID == "" {
			logging.Warn().Str("alias", alias).Msg("Alias override without an id, skipping")
			continue
		}
		aliases[strings.ToLower(alias)] = ov
	}

	t.mu.Lock()
	t.aliases = aliases
	t.mu.Unlock()

	logging.Info().Str("path", t.path).Int("count", len(aliases)).Msg("Loaded alias overrides")
	return nil
}

// Register pins an alias at runtime. Any existing pin for the same
// account id is dropped first: a player carries one nickname at a time,
// so a new nick supersedes the old one.
func (t *OverrideTable) Register(alias string, ov Override) {
	key := strings.ToLower(alias)

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, existing := range t.pins {
		if existing.ID == ov.ID {
			delete(t.pins, k)
		}
	}
	t.pins[key] = ov
}

// Lookup returns the override for an alias, if one exists.
func (t *OverrideTable) Lookup(alias string) (Override, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key := strings.ToLower(alias)
	if ov, ok := t.pins[key]; ok {
		return ov, true
	}
	ov, ok := t.aliases[key]
	return ov, ok
}

// Len returns the number of known overrides across both layers.
func (t *OverrideTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aliases) + len(t.pins)
}
