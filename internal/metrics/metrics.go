// Package metrics provides Prometheus metrics for the incident chain service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "incidentchain"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Chain metrics
var (
	// ChainAppendsTotal counts appended chain entries by event type.
	ChainAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "appends_total",
			Help:      "Total chain entries appended",
		},
		[]string{"event_type"},
	)

	// ChainVerificationsTotal counts chain verification walks by result.
	ChainVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "verifications_total",
			Help:      "Total chain verification runs",
		},
		[]string{"result"}, // valid, broken, error
	)
)

// SSE metrics
var (
	// SSEConnectionsActive tracks open stream connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "connections_active",
			Help:      "Number of open SSE connections",
		},
	)

	// SSEEventsSentTotal counts delivered SSE events by event name.
	SSEEventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "events_sent_total",
			Help:      "Total SSE events delivered",
		},
		[]string{"event"},
	)

	// SSEDroppedTotal counts events dropped on slow subscriber buffers.
	SSEDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "dropped_total",
			Help:      "Total events dropped due to slow subscribers",
		},
	)
)

// Agent metrics
var (
	// AgentRunsTotal counts agent runs by agent and status.
	AgentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "runs_total",
			Help:      "Total agent runs",
		},
		[]string{"agent", "status"},
	)

	// AgentIncidentsResolved counts incidents auto-resolved by agents.
	AgentIncidentsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "incidents_resolved_total",
			Help:      "Total incidents auto-resolved by agents",
		},
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal counts authentication attempts.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total authentication attempts",
		},
		[]string{"result"}, // success, failure
	)
)
