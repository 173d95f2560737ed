package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the drift engine.
type Metrics struct {
	// Recompute pass latency
	RecomputeLatency prometheus.Histogram

	// Items created or refreshed by recompute passes
	ItemsDetected *prometheus.CounterVec

	// Resolutions by terminal status
	ResolutionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all drift engine metrics registered.
func New() *Metrics {
	return &Metrics{
		RecomputeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "redline_drift_recompute_duration_seconds",
			Help:    "Duration of full drift recompute passes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ItemsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_drift_items_detected_total",
			Help: "Drift items created or refreshed, by severity",
		}, []string{"severity"}),

		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_drift_resolutions_total",
			Help: "Drift resolutions by terminal status",
		}, []string{"status"}),
	}
}

// ObserveRecompute records the duration of one recompute pass.
func (m *Metrics) ObserveRecompute(d time.Duration) {
	if m != nil {
		m.RecomputeLatency.Observe(d.Seconds())
	}
}

// IncrementDetected records one created or refreshed drift item.
func (m *Metrics) IncrementDetected(severity string) {
	if m != nil {
		m.ItemsDetected.WithLabelValues(severity).Inc()
	}
}

// IncrementResolution records one terminal transition.
func (m *Metrics) IncrementResolution(status string) {
	if m != nil {
		m.ResolutionsTotal.WithLabelValues(status).Inc()
	}
}
