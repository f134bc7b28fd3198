package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the matching module.
type Metrics struct {
	// Operation outcomes; outcome is "ok" or an error code
	Operations *prometheus.CounterVec

	// Score of every proposed match
	MatchScore prometheus.Histogram

	// Recipients scored per find_best_match
	MatchCandidates prometheus.Histogram

	// Selection latency, reads and commit included
	FindMatchLatency prometheus.Histogram

	// Optimistic commits rejected by the backend
	CommitConflicts *prometheus.CounterVec
}

// New registers the matching metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the matching metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "organmatch_operations_total",
			Help: "Total matching operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		MatchScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "organmatch_match_score",
			Help:    "Compatibility score of proposed matches",
			Buckets: []float64{10, 25, 50, 100, 150, 200, 300, 500, 1000},
		}),

		MatchCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "organmatch_match_candidates",
			Help:    "Number of eligible recipients scored per match search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. 16384
		}),

		FindMatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "organmatch_find_match_duration_seconds",
			Help:    "Duration of find_best_match including store reads and commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		CommitConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "organmatch_kv_commit_conflicts_total",
			Help: "Commits rejected because a read version changed",
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncOperation(operation, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) ObserveMatch(score uint64, candidates int) {
	if m != nil {
		m.MatchScore.Observe(float64(score))
		m.MatchCandidates.Observe(float64(candidates))
	}
}

func (m *Metrics) ObserveFindMatchLatency(d time.Duration) {
	if m != nil {
		m.FindMatchLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncCommitConflict(operation string) {
	if m != nil {
		m.CommitConflicts.WithLabelValues(operation).Inc()
	}
}
