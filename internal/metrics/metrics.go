// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the sync core:
// - Query cache efficiency and load outcomes
// - Push listener connection lifecycle and event throughput
// - Optimistic mutation commits and rollbacks
// - HTTP client latency and circuit breaker state

var (
	// Query Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "choresync_cache_hits_total",
			Help: "Total number of fetches served from a live cache entry",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "choresync_cache_misses_total",
			Help: "Total number of fetches that required a load",
		},
	)

	CacheLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_cache_loads_total",
			Help: "Total number of loader executions by outcome",
		},
		[]string{"outcome"}, // "success", "error", "discarded"
	)

	CacheLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "choresync_cache_load_duration_seconds",
			Help:    "Duration of cache loads including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "choresync_cache_invalidated_entries_total",
			Help: "Total number of cache entries marked stale",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "choresync_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	// Push Listener Metrics
	PushState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "choresync_push_state",
			Help: "Push connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		},
	)

	PushConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_push_connect_attempts_total",
			Help: "Total number of push connect attempts by outcome",
		},
		[]string{"outcome"}, // "success", "error"
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "choresync_push_reconnects_total",
			Help: "Total number of connections established after a prior connection",
		},
	)

	PushExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "choresync_push_reconnect_exhausted_total",
			Help: "Total number of connect cycles that ran out of attempts",
		},
	)

	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_push_events_total",
			Help: "Total number of push events received by type",
		},
		[]string{"type"},
	)

	// Optimistic Mutation Metrics
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_mutations_total",
			Help: "Total number of optimistic mutations by outcome",
		},
		[]string{"outcome"}, // "committed", "rolled_back"
	)

	MutationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "choresync_mutation_duration_seconds",
			Help:    "Duration from optimistic apply to commit or rollback",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP Client Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_http_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"method", "status"}, // status is the HTTP code or "transport_error"
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "choresync_http_request_duration_seconds",
			Help:    "Gateway request latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "choresync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Gateway Simulator Metrics
	SimulatorBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "choresync_simulator_broadcasts_total",
			Help: "Total number of push events broadcast by the gateway simulator",
		},
		[]string{"type"},
	)

	SimulatorClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "choresync_simulator_push_clients",
			Help: "Current number of push clients connected to the gateway simulator",
		},
	)
)

// RecordCacheLoad records the outcome of one cache load.
func RecordCacheLoad(outcome string, duration time.Duration) {
	CacheLoads.WithLabelValues(outcome).Inc()
	CacheLoadDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records a gateway request. A status of 0 means no response was received.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	HTTPRequestsTotal.WithLabelValues(method, label).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordConnectAttempt records a push connect attempt.
func RecordConnectAttempt(err error) {
	if err != nil {
		PushConnectAttempts.WithLabelValues("error").Inc()
		return
	}
	PushConnectAttempts.WithLabelValues("success").Inc()
}

// RecordMutation records the outcome of an optimistic mutation.
func RecordMutation(committed bool, duration time.Duration) {
	if committed {
		Mutations.WithLabelValues("committed").Inc()
	} else {
		Mutations.WithLabelValues("rolled_back").Inc()
	}
	MutationDuration.Observe(duration.Seconds())
}
