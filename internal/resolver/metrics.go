package resolver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/imgref/internal/collector"
	"github.com/nao1215/imgref/internal/model"
)

// Metrics counts resolver outcomes per pattern kind.
type Metrics struct {
	candidates *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	accepted   *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgref",
			Name:      "candidates_total",
			Help:      "Raw image-reference matches found by the scanner.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgref",
			Name:      "rejected_total",
			Help:      "Matches whose URL could not be normalized.",
		}, []string{"kind"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgref",
			Name:      "accepted_total",
			Help:      "Deduplicated image references returned to callers.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.candidates, m.rejected, m.accepted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observe adds the final counts of a finished session.
func (m *Metrics) observe(stats collector.Stats, images []model.ImageReference) {
	if m == nil {
		return
	}
	for kind, n := range stats.Candidates {
		m.candidates.WithLabelValues(kind.String()).Add(float64(n))
	}
	for kind, n := range stats.Rejected {
		m.rejected.WithLabelValues(kind.String()).Add(float64(n))
	}
	for _, img := range images {
		m.accepted.WithLabelValues(img.Kind.String()).Inc()
	}
}
