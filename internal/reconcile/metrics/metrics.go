package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reconciliation engine.
type Metrics struct {
	UploadsTotal         *prometheus.CounterVec
	DecisionsTotal       *prometheus.CounterVec
	SuggestionsDiscarded prometheus.Counter
}

// New creates a Metrics instance with all reconciliation metrics registered.
func New() *Metrics {
	return &Metrics{
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_recon_uploads_total",
			Help: "Reconciliation uploads by outcome",
		}, []string{"outcome"}),

		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_recon_decisions_total",
			Help: "Reconciliation item decisions by kind",
		}, []string{"decision"}),

		SuggestionsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redline_recon_suggestions_discarded_total",
			Help: "Parser suggestions discarded for referencing unknown records",
		}),
	}
}

// IncrementUpload records one upload outcome ("ok", "file_parse_error",
// "ai_parse_error", "no_clauses").
func (m *Metrics) IncrementUpload(outcome string) {
	if m != nil {
		m.UploadsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncrementDecision records one applied or rejected item.
func (m *Metrics) IncrementDecision(decision string) {
	if m != nil {
		m.DecisionsTotal.WithLabelValues(decision).Inc()
	}
}

// AddDiscarded records suggestions dropped by reference validation.
func (m *Metrics) AddDiscarded(n int) {
	if m != nil && n > 0 {
		m.SuggestionsDiscarded.Add(float64(n))
	}
}
