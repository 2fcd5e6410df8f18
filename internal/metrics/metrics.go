// Package metrics defines the Prometheus metrics this module exposes:
// queue depth, DLQ depth, circuit breaker state, rate limiter current
// rate, and outage counters. Metric naming follows Prometheus
// conventions (syncqueue_ prefix, _total suffix for counters, _seconds
// suffix for durations).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is this module's own Prometheus registry rather than the
// global default, so an embedding host controls whether/how it exposes
// a /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	QueueDepth = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "syncqueue_queue_depth",
		Help: "Number of jobs currently ready or in-flight in the persistent queue.",
	})

	DLQDepth = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "syncqueue_dlq_depth",
		Help: "Number of dead-letter entries currently retained.",
	})

	CircuitBreakerState = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "syncqueue_circuit_breaker_state",
		Help: "Current circuit breaker state: 0=CLOSED, 1=HALF_OPEN, 2=OPEN.",
	})

	RateLimiterCurrentRate = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "syncqueue_rate_limiter_current_rate",
		Help: "Current effective rate limiter throughput, in jobs per second.",
	})

	JobsProcessedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "syncqueue_jobs_processed_total",
		Help: "Total sync jobs processed, labeled by outcome.",
	}, []string{"outcome"})

	OutagesTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "syncqueue_outages_total",
		Help: "Total number of outages recorded (circuit breaker CLOSED->OPEN transitions).",
	})

	DLQRecoveredTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "syncqueue_dlq_recovered_total",
		Help: "Total dead-letter entries successfully re-queued by the recovery pipeline.",
	})
)

// CircuitBreakerStateValue maps a breaker state name to the numeric
// value CircuitBreakerState expects.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return 0
	}
}

// RecordJobOutcome increments the processed-jobs counter for outcome
// (one of "success", "retried", "permanent_failure").
func RecordJobOutcome(outcome string) {
	JobsProcessedTotal.WithLabelValues(outcome).Inc()
}
