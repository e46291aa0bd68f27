// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package httpclient wraps outbound calls to the accounts and stats APIs
// with rate limiting, retries, and a circuit breaker. Both upstreams are
// third-party services with strict quotas; a misbehaving poll loop must
// degrade here rather than get the user's address banned.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/metrics"
)

// maxResponseBody bounds how much of a response is read into memory.
// Player payloads are a few KB; anything near this limit is garbage.
const maxResponseBody = 4 * 1024 * 1024

// Config carries the per-upstream tuning knobs.
type Config struct {
	// Name labels the upstream in logs and metrics ("accounts", "stats").
	Name string

	Timeout time.Duration

	// RateLimit is requests per second; RateBurst allows short bursts
	// (a full lobby resolving at once) without tripping the quota.
	RateLimit float64
	RateBurst int

	// RetryLimit is the number of attempts per request. RetryBackoff is
	// the first retry delay; it doubles per attempt with jitter.
	RetryLimit   int
	RetryBackoff time.Duration
}

// Client issues GET requests against one upstream API. Safe for
// concurrent use.
type Client struct {
	name         string
	http         *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[[]byte]
	retryLimit   int
	retryBackoff time.Duration
	log          zerolog.Logger
}

// New builds a client for one upstream. Zero config fields fall back to
// conservative defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst < 1 {
		cfg.RateBurst = 1
	}
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}

	c := &Client{
		name:         cfg.Name,
		http:         &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		retryLimit:   cfg.RetryLimit,
		retryBackoff: cfg.RetryBackoff,
		log:          logging.With().Str("component", "httpclient").Str("destination", cfg.Name).Logger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Rate limiting and 4xx answers mean the upstream is healthy;
		// only transport and 5xx failures count toward opening.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				return reqErr.Kind == KindRateLimited || reqErr.Kind == KindClient
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return c
}

// GetJSON performs a GET with retries and decodes the body into out.
// A *RequestError describes any failure; callers branch on its Kind.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	body, err := c.get(ctx, url, header)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		metrics.ObserveAPIRequest(c.name, KindMalformed.String(), 0)
		return &RequestError{Kind: KindMalformed, Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr *RequestError

	for attempt := 0; attempt < c.retryLimit; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			c.log.Debug().Int("attempt", attempt).Dur("wait", wait).
				Str("outcome", lastErr.Kind.String()).
				Str("correlation_id", logging.CorrelationIDFromContext(ctx)).
				Msg("Retrying upstream request")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &RequestError{Kind: KindTimeout, Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &RequestError{Kind: KindTimeout, Err: err}
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.doOnce(ctx, url, header)
		})
		if err == nil {
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = &RequestError{Kind: KindConnection, Err: err}
			metrics.ObserveAPIRequest(c.name, "breaker_open", 0)
			continue
		}

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Kind: KindConnection, Err: err}
		}
		if !reqErr.Retryable() {
			return nil, reqErr
		}
		lastErr = reqErr
	}

	return nil, lastErr
}

// doOnce performs a single HTTP round trip and classifies the result.
func (c *Client) doOnce(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &RequestError{Kind: KindClient, Err: fmt.Errorf("building request: %w", err)}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)

	if err != nil {
		reqErr := classifyTransportError(err)
		metrics.ObserveAPIRequest(c.name, reqErr.Kind.String(), duration)
		if reqErr.Kind == KindCertificate {
			c.log.Error().Err(err).
				Msg("TLS verification failed; the local CA bundle is likely missing or stale")
		}
		return nil, reqErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.StatusCode == http.StatusNoContent {
		reqErr := classifyStatus(resp)
		metrics.ObserveAPIRequest(c.name, reqErr.Kind.String(), duration)
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck
		return nil, reqErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		reqErr := classifyTransportError(err)
		metrics.ObserveAPIRequest(c.name, reqErr.Kind.String(), duration)
		return nil, reqErr
	}

	metrics.ObserveAPIRequest(c.name, "success", duration)
	return body, nil
}

// backoff doubles per attempt from the configured base, jittered to
// 75-125% so concurrent workers do not retry in lockstep. A server
// Retry-After longer than the computed wait takes precedence.
func (c *Client) backoff(attempt int, lastErr *RequestError) time.Duration {
	wait := c.retryBackoff << (attempt - 1)
	wait = time.Duration(float64(wait) * (0.75 + 0.5*rand.Float64()))
	if lastErr != nil && lastErr.RetryAfter > wait {
		wait = lastErr.RetryAfter
	}
	return wait
}
