package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for backend dispatching.
type Metrics struct {
	// CallsTotal counts backend calls by provider and outcome
	// (succeeded, degraded, retried).
	CallsTotal *prometheus.CounterVec

	// CallLatency observes end-to-end call latency in seconds, including
	// retries and pacing waits.
	CallLatency *prometheus.HistogramVec

	// DegradedTotal counts metric evaluations absorbed as degraded
	// results, by reason.
	DegradedTotal *prometheus.CounterVec
}

// NewMetrics registers the dispatcher collectors. Pass nil to register on
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraise",
			Subsystem: "dispatcher",
			Name:      "calls_total",
			Help:      "Backend calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appraise",
			Subsystem: "dispatcher",
			Name:      "call_latency_seconds",
			Help:      "Backend call latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		DegradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraise",
			Subsystem: "dispatcher",
			Name:      "degraded_total",
			Help:      "Metric evaluations absorbed as degraded results.",
		}, []string{"reason"}),
	}
}

// NopMetrics returns collectors registered on a throwaway registry, for
// tests and for callers that do not export metrics.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
