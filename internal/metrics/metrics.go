// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package metrics exposes Prometheus instrumentation for the pipeline:
// log parsing throughput, cache efficiency, upstream API outcomes, and
// roster churn. All metrics are registered on the default registry and
// served from the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Log pipeline

	LogLinesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobbyscope_log_lines_total",
			Help: "Total log lines read from the client log",
		},
	)

	LogEventsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyscope_log_events_total",
			Help: "Total parsed log events by kind",
		},
		[]string{"kind"},
	)

	LogRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobbyscope_log_restarts_total",
			Help: "Detected client restarts (log truncation or rotation)",
		},
	)

	// Cache

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyscope_cache_hits_total",
			Help: "Cache hits by store",
		},
		[]string{"store"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyscope_cache_misses_total",
			Help: "Cache misses by store",
		},
		[]string{"store"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyscope_cache_evictions_total",
			Help: "Capacity evictions by store",
		},
		[]string{"store"},
	)

	// Upstream APIs

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyscope_api_requests_total",
			Help: "Outbound API calls by destination and outcome class",
		},
		[]string{"destination", "outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lobbyscope_api_request_duration_seconds",
			Help:    "Outbound API call latency by destination",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	// Roster

	RosterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobbyscope_roster_size",
			Help: "Players in the current display roster",
		},
	)

	RosterUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobbyscope_roster_updates_total",
			Help: "Published display roster snapshots",
		},
	)

	StaleResultsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobbyscope_stale_results_total",
			Help: "Resolution results discarded for belonging to a dead epoch",
		},
	)
)

// ObserveAPIRequest records one outbound call with its outcome class.
func ObserveAPIRequest(destination, outcome string, duration time.Duration) {
	APIRequests.WithLabelValues(destination, outcome).Inc()
	APIRequestDuration.WithLabelValues(destination).Observe(duration.Seconds())
}
