package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics covers source syncs: run outcomes, durations, per-record
// outcomes and lock contention.
type SyncMetrics struct {
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	records    *prometheus.CounterVec
	contention *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Completed source syncs by terminal status.",
	}, []string{"source", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Wall time of a single source sync.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"source"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_records_total",
		Help:      "Records seen during syncs by outcome (created, duplicate, skipped).",
	}, []string{"source", "outcome"})
	contention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_lock_contention_total",
		Help:      "Sync requests rejected because the source was already syncing.",
	}, []string{"source"})
	reg.MustRegister(runs, duration, records, contention)
	return &SyncMetrics{runs: runs, duration: duration, records: records, contention: contention}
}

// ObserveRun records a finished sync and its elapsed time.
func (m *SyncMetrics) ObserveRun(source, status string, elapsed time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	source = normalizeLabel(source)
	m.runs.WithLabelValues(source, normalizeLabel(status)).Inc()
	m.duration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// AddRecords adds n records with the given outcome.
func (m *SyncMetrics) AddRecords(source, outcome string, n int) {
	if m == nil || m.records == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Add(float64(n))
}

func (m *SyncMetrics) IncContention(source string) {
	if m == nil || m.contention == nil {
		return
	}
	m.contention.WithLabelValues(normalizeLabel(source)).Inc()
}
