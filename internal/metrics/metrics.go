// Package metrics publishes Prometheus metrics for gate outcomes, review
// phase transitions, and event-bus health, grounded on the pack's
// CounterVec/HistogramVec-with-namespace metrics registry shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "overseer"

	subsystemGate     = "gate"
	subsystemReview   = "review"
	subsystemEventbus = "eventbus"
	subsystemSession  = "session"
)

var (
	// DurationBuckets covers gate runs from sub-second checks to
	// multi-minute test suites.
	DurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	GateRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGate,
			Name:      "runs_total",
			Help:      "Total gate invocations by outcome",
		},
		[]string{"gate", "status"},
	)

	GateRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemGate,
			Name:      "run_duration_seconds",
			Help:      "Gate invocation wall time",
			Buckets:   DurationBuckets,
		},
		[]string{"gate"},
	)

	ReviewPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemReview,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in a review phase before transitioning",
			Buckets:   DurationBuckets,
		},
		[]string{"phase"},
	)

	ReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReview,
			Name:      "total",
			Help:      "Reviews reaching a terminal or escalated status",
		},
		[]string{"status"},
	)

	EventbusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEventbus,
			Name:      "published_total",
			Help:      "Events published by type",
		},
		[]string{"type"},
	)

	EventbusDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEventbus,
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber's queue was full",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "active",
			Help:      "Sessions currently Pending or Active",
		},
	)

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		GateRunsTotal,
		GateRunDuration,
		ReviewPhaseDuration,
		ReviewsTotal,
		EventbusPublished,
		EventbusDropped,
		SessionsActive,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func RecordGateRun(gate, status string, seconds float64) {
	GateRunsTotal.WithLabelValues(gate, status).Inc()
	GateRunDuration.WithLabelValues(gate).Observe(seconds)
}

func RecordReviewPhase(phase string, seconds float64) {
	ReviewPhaseDuration.WithLabelValues(phase).Observe(seconds)
}

func RecordReviewTerminal(status string) {
	ReviewsTotal.WithLabelValues(status).Inc()
}

func RecordEventPublished(eventType string) {
	EventbusPublished.WithLabelValues(eventType).Inc()
}

func RecordEventDropped() {
	EventbusDropped.Inc()
}

func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
}
