// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package config handles layered configuration loading for Lobbyscope.
//
// Precedence, lowest to highest: built-in defaults, optional YAML config
// file, LOBBYSCOPE_* environment variables. All operational tuning knobs
// (cache TTLs, retry limits, worker counts) live here rather than being
// hard-coded in the components that use them.
package config

import (
	"time"
)

// Config is the root configuration for the whole process.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Client   ClientConfig   `koanf:"client"`
	Accounts AccountsConfig `koanf:"accounts"`
	Stats    StatsConfig    `koanf:"stats"`
	Cache    CacheConfig    `koanf:"cache"`
	Roster   RosterConfig   `koanf:"roster"`
	Server   ServerConfig   `koanf:"server"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ClientConfig describes the game client whose log is tailed.
type ClientConfig struct {
	// LogPath is the path of the client's live log file.
	LogPath string `koanf:"log_path" validate:"required"`

	// PollInterval is how often the tailer checks for new content.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	// OverridesPath points to the operator-edited nickname override table.
	// Empty disables the override layer.
	OverridesPath string `koanf:"overrides_path"`
}

// AccountsConfig configures the name-resolution API (display name to
// canonical account id).
type AccountsConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimit and RateBurst bound outbound calls per second.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	RetryLimit   int           `koanf:"retry_limit" validate:"gte=1,lte=10"`
	RetryBackoff time.Duration `koanf:"retry_backoff" validate:"gt=0"`
}

// StatsConfig configures the game-stats API.
type StatsConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// APIKey is optional. Without it the API serves a reduced field set
	// (no winstreaks); that is a valid mode, not an error.
	APIKey string `koanf:"api_key"`

	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	RetryLimit   int           `koanf:"retry_limit" validate:"gte=1,lte=10"`
	RetryBackoff time.Duration `koanf:"retry_backoff" validate:"gt=0"`
}

// CacheConfig tunes the shared cache stores. PositiveTTL must exceed
// NegativeTTL: failed lookups are re-tried sooner than successes expire.
type CacheConfig struct {
	IdentityCapacity int           `koanf:"identity_capacity" validate:"gte=16"`
	StatsCapacity    int           `koanf:"stats_capacity" validate:"gte=16"`
	PositiveTTL      time.Duration `koanf:"positive_ttl" validate:"gt=0"`
	NegativeTTL      time.Duration `koanf:"negative_ttl" validate:"gt=0"`
}

// RosterConfig tunes the resolution pipeline.
type RosterConfig struct {
	// Workers bounds concurrent in-flight resolutions.
	Workers int `koanf:"workers" validate:"gte=1,lte=64"`

	// LobbyCapacity is the join heuristic: LobbyJoin events reporting a
	// lobby larger than this are treated as noise until a who-reply
	// reconciles.
	LobbyCapacity int `koanf:"lobby_capacity" validate:"gte=2"`
}

// ServerConfig configures the local consumer-facing HTTP surface.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// CORSOrigins allows a browser-based renderer on another origin.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs caps inbound requests per minute per client.
	RateLimitReqs int `koanf:"rate_limit_reqs" validate:"gte=1"`
}

// defaultConfig returns a Config with all default values. Cache TTLs
// follow the original operational values; only positive > negative is a
// hard requirement.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Client: ClientConfig{
			LogPath:       "",
			PollInterval:  100 * time.Millisecond,
			OverridesPath: "",
		},
		Accounts: AccountsConfig{
			BaseURL:      "https://api.mojang.com/users/profiles/minecraft",
			Timeout:      7 * time.Second,
			RateLimit:    1.0, // 600 requests / 10 minutes
			RateBurst:    50,
			RetryLimit:   3,
			RetryBackoff: 2 * time.Second,
		},
		Stats: StatsConfig{
			BaseURL:      "https://api.hypixel.net/player",
			Timeout:      10 * time.Second,
			APIKey:       "",
			RateLimit:    1.0, // 60 requests / minute
			RateBurst:    10,
			RetryLimit:   5,
			RetryBackoff: 2 * time.Second,
		},
		Cache: CacheConfig{
			IdentityCapacity: 512,
			StatsCapacity:    512,
			PositiveTTL:      10 * time.Minute,
			NegativeTTL:      2 * time.Minute,
		},
		Roster: RosterConfig{
			Workers:       8,
			LobbyCapacity: 16,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:3876",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
		},
	}
}
