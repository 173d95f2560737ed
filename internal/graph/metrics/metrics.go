package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for graph rebuilds and reads.
type Metrics struct {
	RebuildLatency prometheus.Histogram
	IntegrityScore *prometheus.GaugeVec
	CacheHits      *prometheus.CounterVec
}

// New creates a Metrics instance with all graph metrics registered.
func New() *Metrics {
	return &Metrics{
		RebuildLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "redline_graph_rebuild_duration_seconds",
			Help:    "Duration of full graph rebuilds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		IntegrityScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redline_graph_integrity_score",
			Help: "Last computed integrity score per workspace",
		}, []string{"workspace_id"}),

		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_graph_cache_requests_total",
			Help: "Graph snapshot cache lookups by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRebuild records one rebuild's duration and resulting score.
func (m *Metrics) ObserveRebuild(workspaceID string, score int, d time.Duration) {
	if m != nil {
		m.RebuildLatency.Observe(d.Seconds())
		m.IntegrityScore.WithLabelValues(workspaceID).Set(float64(score))
	}
}

// IncrementCache records one cache lookup outcome ("hit" or "miss").
func (m *Metrics) IncrementCache(outcome string) {
	if m != nil {
		m.CacheHits.WithLabelValues(outcome).Inc()
	}
}
