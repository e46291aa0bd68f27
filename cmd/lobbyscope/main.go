// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package main is the entry point for the lobbyscope daemon.
//
// Lobbyscope tails a Minecraft client's live log, tracks the current
// lobby and party through chat events, resolves each player's account
// and Bedwars stats through the public APIs, and serves the ranked
// roster to local renderers over HTTP and WebSocket.
//
// The process initializes in order: configuration (koanf, YAML file
// plus LOBBYSCOPE_* environment), logging (zerolog), the nickname
// override table, the outbound API clients with their caches, the
// roster orchestrator, and the HTTP server. Everything long-running
// runs under a suture supervisor tree and shuts down on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/lobbyscope/internal/cache"
	"github.com/tomtom215/lobbyscope/internal/config"
	"github.com/tomtom215/lobbyscope/internal/httpclient"
	"github.com/tomtom215/lobbyscope/internal/identity"
	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/logwatch"
	"github.com/tomtom215/lobbyscope/internal/roster"
	"github.com/tomtom215/lobbyscope/internal/server"
	"github.com/tomtom215/lobbyscope/internal/stats"
	"github.com/tomtom215/lobbyscope/internal/supervisor"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: search config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lobbyscope " + version)
		return
	}

	if err := run(*configPath); err != nil {
		logging.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("log_path", cfg.Client.LogPath).
		Msg("Starting lobbyscope")

	overrides, err := identity.NewOverrideTable(cfg.Client.OverridesPath)
	if err != nil {
		return fmt.Errorf("loading override table: %w", err)
	}
	if overrides.Len() > 0 {
		logging.Info().Int("aliases", overrides.Len()).Msg("Nickname overrides loaded")
	}

	accountsClient := httpclient.New(httpclient.Config{
		Name:         "accounts",
		Timeout:      cfg.Accounts.Timeout,
		RateLimit:    cfg.Accounts.RateLimit,
		RateBurst:    cfg.Accounts.RateBurst,
		RetryLimit:   cfg.Accounts.RetryLimit,
		RetryBackoff: cfg.Accounts.RetryBackoff,
	})
	statsClient := httpclient.New(httpclient.Config{
		Name:         "stats",
		Timeout:      cfg.Stats.Timeout,
		RateLimit:    cfg.Stats.RateLimit,
		RateBurst:    cfg.Stats.RateBurst,
		RetryLimit:   cfg.Stats.RetryLimit,
		RetryBackoff: cfg.Stats.RetryBackoff,
	})

	identityCache := cache.New[identity.Account]("identity",
		cfg.Cache.IdentityCapacity, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL)
	statsCache := cache.New[stats.Stats]("stats",
		cfg.Cache.StatsCapacity, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL)

	resolver := identity.NewResolver(accountsClient, cfg.Accounts.BaseURL, identityCache, overrides)
	fetcher := stats.NewFetcher(statsClient, cfg.Stats.BaseURL, cfg.Stats.APIKey, statsCache)
	if cfg.Stats.APIKey == "" {
		logging.Warn().Msg("No stats API key configured; winstreaks will be unavailable")
	}

	tailer := logwatch.New(cfg.Client.LogPath, cfg.Client.PollInterval)
	orchestrator := roster.New(roster.Config{
		Workers:       int64(cfg.Roster.Workers),
		LobbyCapacity: cfg.Roster.LobbyCapacity,
	}, resolver, fetcher, tailer.Lines(), tailer.Restarts())

	httpServer := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
	}, orchestrator, version)

	tree := supervisor.New(supervisor.DefaultConfig())
	tree.AddPipelineService(tailer)
	tree.AddPipelineService(orchestrator)
	tree.AddAPIService(httpServer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Stopped")
	return nil
}
