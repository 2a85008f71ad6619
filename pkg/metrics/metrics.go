// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// UpstreamCallDuration tracks completion service call duration.
	UpstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_upstream_duration_seconds",
			Help:    "Completion service call duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 100},
		},
		[]string{"status"},
	)

	// RelayTurnsTotal tracks relayed turns by outcome.
	RelayTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_turns_total",
			Help: "Total relayed turns",
		},
		[]string{"outcome"},
	)

	// RelayChunksForwarded tracks chunk frames forwarded downstream.
	RelayChunksForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_chunks_forwarded_total",
			Help: "Total chunk frames forwarded downstream",
		},
	)

	// MalformedStreamLines tracks upstream lines skipped by the decoder.
	MalformedStreamLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_malformed_lines_total",
			Help: "Upstream stream lines skipped as malformed",
		},
	)

	// FinalizeTotal tracks finalizer commits.
	FinalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_finalize_total",
			Help: "Total finalizer commits",
		},
		[]string{"outcome"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ChatsTotal tracks total chats created.
	ChatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chats_total",
			Help: "Total chats created",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpstreamCall records metrics for one completion service call.
func RecordUpstreamCall(status string, duration float64) {
	UpstreamCallDuration.WithLabelValues(status).Observe(duration)
}

// RecordTurn records the outcome of a relayed turn.
func RecordTurn(outcome string) {
	RelayTurnsTotal.WithLabelValues(outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
