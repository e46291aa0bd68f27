// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package identity resolves displayed player names to canonical account
// ids. Three layers in order: the user's alias override table, the
// shared cache, and finally the accounts API. Unknown names are
// negative-cached so lobbies full of aliased players do not hammer the
// API on every roster refresh.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomtom215/lobbyscope/internal/cache"
	"github.com/tomtom215/lobbyscope/internal/httpclient"
	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/parser"
)

// ErrUnknownName means the accounts API has no record for the name. For
// this game that almost always means the player is using an alias.
var ErrUnknownName = errors.New("no account for that name")

// Account is a resolved player identity.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Overridden marks identities taken from the user's alias table
	// rather than the accounts API.
	Overridden bool `json:"overridden,omitempty"`
}

// Resolver turns display names into Accounts.
type Resolver struct {
	client    *httpclient.Client
	baseURL   string
	cache     *cache.Store[Account]
	overrides *OverrideTable
}

// NewResolver wires the resolver from its collaborators. The cache store
// is owned by the resolver; overrides may be shared.
func NewResolver(client *httpclient.Client, baseURL string, store *cache.Store[Account], overrides *OverrideTable) *Resolver {
	return &Resolver{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		cache:     store,
		overrides: overrides,
	}
}

// Resolve maps a display name to an account. Returns ErrUnknownName for
// names the upstream does not know; other errors are transient and the
// caller may retry on the next refresh.
func (r *Resolver) Resolve(ctx context.Context, name string) (Account, error) {
	if !parser.ValidUsername(name) {
		return Account{}, ErrUnknownName
	}

	if ov, ok := r.overrides.Lookup(name); ok {
		return Account{ID: ov.ID, Name: name, Overridden: true}, nil
	}

	key := strings.ToLower(name)
	account, err := r.cache.GetOrCompute(key,
		func() (Account, error) { return r.fetch(ctx, name) },
		isUnknownName,
	)
	if err != nil {
		if errors.Is(err, cache.ErrNegative) || isUnknownName(err) {
			return Account{}, ErrUnknownName
		}
		return Account{}, err
	}
	return account, nil
}

// Invalidate drops a cached resolution, used when the user corrects an
// alias mapping.
func (r *Resolver) Invalidate(name string) {
	r.cache.Delete(strings.ToLower(name))
}

// RegisterAlias pins alias to accountID at runtime, so a nicked player
// whose identity is known (the local player after assuming a nickname)
// still resolves. Any cached result for the alias is dropped; the pin
// takes effect on the next lookup.
func (r *Resolver) RegisterAlias(alias, accountID, comment string) {
	r.overrides.Register(alias, Override{ID: accountID, Comment: comment})
	r.cache.Delete(strings.ToLower(alias))
}

func (r *Resolver) fetch(ctx context.Context, name string) (Account, error) {
	reqURL := r.baseURL + "/" + url.PathEscape(name)

	var account Account
	if err := r.client.GetJSON(ctx, reqURL, nil, &account); err != nil {
		return Account{}, err
	}
	if account.ID == "" {
		return Account{}, fmt.Errorf("accounts API returned an empty id for %q", name)
	}

	logger := logging.Ctx(ctx)
	logger.Debug().Str("name", name).Str("account_id", account.ID).Msg("Resolved account")
	return account, nil
}

// isUnknownName classifies a fetch failure as a definitive "no such
// account" answer. The accounts API uses 404, historically also 204.
func isUnknownName(err error) bool {
	var reqErr *httpclient.RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.Kind == httpclient.KindClient &&
		(reqErr.StatusCode == http.StatusNotFound || reqErr.StatusCode == http.StatusNoContent)
}
