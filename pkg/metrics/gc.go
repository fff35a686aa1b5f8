package metrics

import (
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gcMetrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	deleted  prometheus.Counter
	failed   prometheus.Counter
	orphans  prometheus.Gauge
}

// NewGCMetrics creates a Prometheus-backed gc.Metrics.
// Returns nil when metrics are disabled.
func NewGCMetrics() gc.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newGCMetrics(GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_gc_runs_total",
				Help: "Garbage collection runs by status",
			},
			[]string{"status"},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittodrive_gc_run_duration_seconds",
				Help:    "Duration of garbage collection runs",
				Buckets: prometheus.DefBuckets,
			},
		),
		deleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_gc_blobs_deleted_total",
				Help: "Orphaned blobs deleted",
			},
		),
		failed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_gc_delete_failures_total",
				Help: "Orphaned blobs that could not be deleted",
			},
		),
		orphans: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_gc_orphaned_blobs",
				Help: "Orphaned blobs found by the last run",
			},
		),
	}
}

func (m *gcMetrics) RecordRun(stats *gc.Stats, err error) {
	m.runs.WithLabelValues(statusLabel(err)).Inc()
	if stats == nil {
		return
	}
	m.duration.Observe(stats.Duration().Seconds())
	m.deleted.Add(float64(stats.DeletedCount))
	m.failed.Add(float64(stats.FailedCount))
	m.orphans.Set(float64(stats.OrphanedCount))
}
