package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "craftcost"
	subsystem = "save"
)

// Metrics is the collector set for the save subsystem. It is built from an
// injected registerer so tests can use a private registry instead of the
// process-wide default.
type Metrics struct {
	SaveLatency    prometheus.Histogram
	ConflictTotal  prometheus.Counter
	OverrideTotal  prometheus.Counter
	PruneTotal     prometheus.Counter
	PendingChanges prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SaveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "save_latency_ms",
			Help:      "Latency of executeBatchSave in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		ConflictTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "save_conflict_total",
			Help:      "Batch saves rejected with version conflicts",
		}),
		OverrideTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "save_override_total",
			Help:      "Conflict overrides forced by users",
		}),
		PruneTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "audit_prune_total",
			Help:      "Audit retention pruning runs",
		}),
		PendingChanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "in_memory_pending_changes_count",
			Help:      "Speculative entity edits currently awaiting commit or rollback",
		}),
	}
	reg.MustRegister(m.SaveLatency, m.ConflictTotal, m.OverrideTotal, m.PruneTotal, m.PendingChanges)
	return m
}

// NewNop returns collectors bound to a throwaway registry, for tests that do
// not assert on metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
