// Package metrics declares the Prometheus metrics for the signaling service.
//
// Naming convention: namespace_subsystem_name
//   - namespace: voicepair (application-level grouping)
//   - subsystem: ws, match, room, circuit_breaker, rate_limit, sss (feature-level grouping)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicepair",
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// QueueSize tracks the current number of clients waiting for a partner.
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicepair",
		Subsystem: "match",
		Name:      "queue_size",
		Help:      "Current number of clients waiting in the FIFO queue",
	})

	// ActiveRooms tracks the current number of active (paired) rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicepair",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomsTotal tracks the cumulative number of rooms ever created.
	RoomsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicepair",
		Subsystem: "room",
		Name:      "rooms_total",
		Help:      "Total number of rooms created since startup",
	})

	// WebsocketEvents tracks inbound/outbound event counts by type and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepair",
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent handling inbound events.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voicepair",
		Subsystem: "ws",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// CircuitBreakerState tracks the SSS circuit breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voicepair",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepair",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests that exceeded a rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepair",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// SSSOperationsTotal tracks SSS operation outcomes.
	SSSOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepair",
		Subsystem: "sss",
		Name:      "operations_total",
		Help:      "Total number of shared-store operations",
	}, []string{"operation", "status"})

	// SSSOperationDuration tracks SSS operation latency.
	SSSOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voicepair",
		Subsystem: "sss",
		Name:      "operation_duration_seconds",
		Help:      "Duration of shared-store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
