// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package stats fetches game statistics for resolved accounts and
// normalizes the raw upstream payload into the derived ratios the
// roster sorts by.
package stats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tomtom215/lobbyscope/internal/cache"
	"github.com/tomtom215/lobbyscope/internal/httpclient"
	"github.com/tomtom215/lobbyscope/internal/logging"
)

// ErrPlayerNotFound means the stats API has no record for the account
// id. Negative-cached: the answer will not change within a session.
var ErrPlayerNotFound = errors.New("no stats record for that account")

// Stats is the normalized per-player stat line.
type Stats struct {
	Stars float64 `json:"stars"`

	// Index is the composite threat score the roster sorts by:
	// stars weighted by the square of the final kill/death ratio.
	Index float64 `json:"index"`

	FKDR float64 `json:"fkdr"`
	KDR  float64 `json:"kdr"`
	BBLR float64 `json:"bblr"`
	WLR  float64 `json:"wlr"`

	Kills  int64 `json:"kills"`
	Finals int64 `json:"finals"`
	Beds   int64 `json:"beds"`
	Wins   int64 `json:"wins"`

	// Winstreak is nil when the upstream omits the field (the player
	// disabled it, or the API tier does not serve it).
	Winstreak         *int64 `json:"winstreak,omitempty"`
	WinstreakAccurate bool   `json:"winstreak_accurate"`
}

// Fetcher retrieves and caches stat lines by account id.
type Fetcher struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	cache   *cache.Store[Stats]
}

// NewFetcher wires the fetcher. apiKey may be empty; the upstream then
// serves a reduced field set, which normalization tolerates.
func NewFetcher(client *httpclient.Client, baseURL, apiKey string, store *cache.Store[Stats]) *Fetcher {
	return &Fetcher{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
		cache:   store,
	}
}

// Fetch returns the stat line for an account id, from cache when fresh.
// Returns ErrPlayerNotFound for ids the upstream does not know.
func (f *Fetcher) Fetch(ctx context.Context, accountID string) (Stats, error) {
	s, err := f.cache.GetOrCompute(accountID,
		func() (Stats, error) { return f.fetch(ctx, accountID) },
		func(err error) bool { return errors.Is(err, ErrPlayerNotFound) },
	)
	if err != nil {
		if errors.Is(err, cache.ErrNegative) {
			return Stats{}, ErrPlayerNotFound
		}
		return Stats{}, err
	}
	return s, nil
}

// Invalidate drops a cached stat line so the next fetch is fresh.
func (f *Fetcher) Invalidate(accountID string) {
	f.cache.Delete(accountID)
}

type playerResponse struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause"`
	Player  *struct {
		Displayname string `json:"displayname"`
		Stats       struct {
			Bedwars map[string]any `json:"Bedwars"`
		} `json:"stats"`
	} `json:"player"`
}

func (f *Fetcher) fetch(ctx context.Context, accountID string) (Stats, error) {
	reqURL := f.baseURL + "?uuid=" + url.QueryEscape(accountID)

	var header http.Header
	if f.apiKey != "" {
		header = http.Header{}
		header.Set("API-Key", f.apiKey)
	}

	var resp playerResponse
	if err := f.client.GetJSON(ctx, reqURL, header, &resp); err != nil {
		var reqErr *httpclient.RequestError
		if errors.As(err, &reqErr) && reqErr.Kind == httpclient.KindClient &&
			reqErr.StatusCode == http.StatusNotFound {
			return Stats{}, ErrPlayerNotFound
		}
		return Stats{}, err
	}

	if !resp.Success {
		return Stats{}, fmt.Errorf("stats API refused the request: %s", resp.Cause)
	}
	if resp.Player == nil {
		return Stats{}, ErrPlayerNotFound
	}

	s := Normalize(resp.Player.Stats.Bedwars)
	logger := logging.Ctx(ctx)
	logger.Debug().Str("account_id", accountID).
		Float64("stars", s.Stars).Float64("index", s.Index).
		Msg("Fetched player stats")
	return s, nil
}

// Normalize derives the stat line from the raw per-mode payload. A nil
// or empty payload (account exists, never played) yields all zeros with
// an accurate zero winstreak.
func Normalize(raw map[string]any) Stats {
	if len(raw) == 0 {
		zero := int64(0)
		return Stats{Winstreak: &zero, WinstreakAccurate: true}
	}

	exp := intField(raw, "Experience", 500)
	kills := intField(raw, "kills_bedwars", 0)
	finals := intField(raw, "final_kills_bedwars", 0)
	beds := intField(raw, "beds_broken_bedwars", 0)
	wins := intField(raw, "wins_bedwars", 0)

	winstreak := optionalIntField(raw, "winstreak")
	if winstreak == nil && wins == 0 {
		// The field is only populated after a first win.
		zero := int64(0)
		winstreak = &zero
	}

	stars := LevelFromExp(exp)
	fkdr := Div(float64(finals), float64(intField(raw, "final_deaths_bedwars", 0)))

	return Stats{
		Stars:             stars,
		Index:             stars * fkdr * fkdr,
		FKDR:              fkdr,
		KDR:               Div(float64(kills), float64(intField(raw, "deaths_bedwars", 0))),
		BBLR:              Div(float64(beds), float64(intField(raw, "beds_lost_bedwars", 0))),
		WLR:               Div(float64(wins), float64(intField(raw, "losses_bedwars", 0))),
		Kills:             kills,
		Finals:            finals,
		Beds:              beds,
		Wins:              wins,
		Winstreak:         winstreak,
		WinstreakAccurate: winstreak != nil,
	}
}

// Div is ratio division with the stat-line convention: a zero divisor
// returns the dividend unchanged, so 5/0 reads as 5 and 0/0 as 0.
func Div(dividend, divisor float64) float64 {
	if divisor == 0 {
		return dividend
	}
	return dividend / divisor
}

// intField reads a numeric field from the decoded payload. JSON numbers
// decode as float64; upstream occasionally serves them as strings too,
// which counts as absent here.
func intField(raw map[string]any, key string, fallback int64) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return fallback
	}
}

func optionalIntField(raw map[string]any, key string) *int64 {
	switch v := raw[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case int64:
		n := v
		return &n
	default:
		return nil
	}
}
