// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failed upstream request. Callers branch on the kind
// rather than inspecting status codes or error strings.
type Kind int

const (
	// KindRateLimited means the upstream answered 429. RetryAfter holds
	// the server-suggested wait when one was sent.
	KindRateLimited Kind = iota

	// KindTimeout covers request deadlines and context timeouts.
	KindTimeout

	// KindConnection covers DNS, dial, and transport-level failures.
	KindConnection

	// KindCertificate is a connection failure caused by TLS verification,
	// typically a missing local issuer certificate. Separated because the
	// fix is local (install CA certs), not upstream.
	KindCertificate

	// KindServer covers 5xx responses.
	KindServer

	// KindClient covers non-retryable 4xx responses (and 204, which the
	// accounts API uses to signal an unknown name).
	KindClient

	// KindMalformed means the response arrived but could not be decoded.
	KindMalformed
)

// String returns the kind as a metrics-friendly label.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindCertificate:
		return "certificate"
	case KindServer:
		return "server_error"
	case KindClient:
		return "client_error"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// RequestError is the classified failure of an upstream call.
type RequestError struct {
	Kind       Kind
	StatusCode int           // set for status-derived kinds, 0 otherwise
	RetryAfter time.Duration // set for KindRateLimited when the server sent one
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream request failed (%s, status %d)", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream request failed (%s)", e.Kind)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a fresh attempt could plausibly succeed.
// Client errors and malformed bodies are deterministic and never retried.
func (e *RequestError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindConnection, KindServer:
		return true
	default:
		return false
	}
}

// classifyTransportError maps an error from http.Client.Do to a kind.
func classifyTransportError(err error) *RequestError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{Kind: KindTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestError{Kind: KindTimeout, Err: err}
	}

	if isCertificateError(err) {
		return &RequestError{Kind: KindCertificate, Err: err}
	}

	return &RequestError{Kind: KindConnection, Err: err}
}

func isCertificateError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	// Some platforms surface verification failure only as text.
	return strings.Contains(err.Error(), "certificate")
}

// classifyStatus maps a non-2xx response to a kind.
func classifyStatus(resp *http.Response) *RequestError {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RequestError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &RequestError{Kind: KindServer, StatusCode: resp.StatusCode}
	default:
		return &RequestError{Kind: KindClient, StatusCode: resp.StatusCode}
	}
}

// parseRetryAfter handles the delta-seconds form. The HTTP-date form is
// rare on these APIs and falls back to zero (caller uses its own backoff).
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
