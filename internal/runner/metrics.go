package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the run controller.
type Metrics struct {
	// RunsCompleted counts completed analysis runs by mode and
	// cancellation.
	RunsCompleted *prometheus.CounterVec
}

// NewMetrics registers the runner collectors. Pass nil to register on the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appraise",
			Subsystem: "runner",
			Name:      "runs_completed_total",
			Help:      "Completed analysis runs by mode and cancellation.",
		}, []string{"mode", "cancelled"}),
	}
}

// NopMetrics returns collectors registered on a throwaway registry, for
// tests and for callers that do not export metrics.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
