package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cartograph/internal/domain"
)

// Outcome label values
const (
	outcomeCreated = "created"
	outcomeMerged  = "merged"
	outcomeFailed  = "failed"
)

type metrics struct {
	reconcileTotal    *prometheus.CounterVec
	revisitsTotal     *prometheus.CounterVec
	retriesTotal      prometheus.Counter
	reconcileDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		reconcileTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartograph_reconcile_total",
				Help: "Entities reconciled, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		revisitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartograph_reconcile_revisits_total",
				Help: "Entities reached again within one merge transaction",
			},
			[]string{"kind"},
		),
		retriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cartograph_reconcile_retries_total",
				Help: "Merge transactions retried after a uniqueness conflict",
			},
		),
		reconcileDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cartograph_reconcile_duration_seconds",
				Help:    "Top-level reconciliation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"kind"},
		),
	}
}

// record flushes a committed transaction's counters
func (m *metrics) record(kind domain.Kind, st *txStats, duration time.Duration) {
	for _, c := range st.changes {
		outcome := outcomeMerged
		if c.Created {
			outcome = outcomeCreated
		}
		m.reconcileTotal.WithLabelValues(string(c.Handle.Kind), outcome).Inc()
	}
	for k, n := range st.revisits {
		m.revisitsTotal.WithLabelValues(string(k)).Add(float64(n))
	}
	m.reconcileDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (m *metrics) failed(kind domain.Kind, duration time.Duration) {
	m.reconcileTotal.WithLabelValues(string(kind), outcomeFailed).Inc()
	m.reconcileDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}
