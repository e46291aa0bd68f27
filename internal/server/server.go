// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package server exposes the roster to renderers: a small JSON API for
// polling clients and a websocket feed for push. Binds to loopback by
// default since the payload includes other players' stat lines.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/roster"
)

// RosterSource is the read side of the orchestrator.
type RosterSource interface {
	Snapshot() roster.Roster
	Subscribe() (<-chan roster.Roster, func())
}

// Config carries the HTTP server settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimitReqs   int
}

// Server is the HTTP front of the roster pipeline.
type Server struct {
	cfg     Config
	source  RosterSource
	version string
	log     zerolog.Logger
	started time.Time
}

// New builds the server. version is reported by the status endpoint.
func New(cfg Config, source RosterSource, version string) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimitReqs < 1 {
		cfg.RateLimitReqs = 300
	}
	return &Server{
		cfg:     cfg,
		source:  source,
		version: version,
		log:     logging.With().Str("component", "server").Logger(),
		started: time.Now(),
	}
}

// Routes assembles the router. Exposed separately from Serve so tests
// can drive it with httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(correlationID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, time.Minute))
		r.Get("/roster", s.handleRoster)
		r.Get("/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
	})

	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Serve runs the listener until ctx is canceled, then drains within the
// configured shutdown timeout. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(ctx.Err(), err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor log messages.
func (s *Server) String() string {
	return "http-server"
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Snapshot())
}

type statusResponse struct {
	Version   string    `json:"version"`
	UptimeSec int64     `json:"uptime_sec"`
	Epoch     uint64    `json:"epoch"`
	WorldID   string    `json:"world_id,omitempty"`
	InQueue   bool      `json:"in_queue"`
	OutOfSync bool      `json:"out_of_sync"`
	Players   int       `json:"players"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Version:   s.version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Epoch:     snap.Epoch,
		WorldID:   snap.WorldID,
		InQueue:   snap.InQueue,
		OutOfSync: snap.OutOfSync,
		Players:   len(snap.Players),
		UpdatedAt: snap.UpdatedAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Response write failed")
	}
}

// correlationID tags each request with a short id for log correlation
// and echoes it back to the client.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateCorrelationID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithCorrelationID(r.Context(), id)))
	})
}
