package metrics

import (
	"time"

	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type uploadMetrics struct {
	chunksTotal     *prometheus.CounterVec
	chunkBytes      prometheus.Counter
	sessionsStarted prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionsDone    *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	fileSize        prometheus.Histogram
}

// NewUploadMetrics creates a Prometheus-backed upload.Metrics.
// Returns nil when metrics are disabled.
func NewUploadMetrics() upload.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newUploadMetrics(GetRegistry())
}

func newUploadMetrics(reg prometheus.Registerer) *uploadMetrics {
	return &uploadMetrics{
		chunksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_chunks_total",
				Help: "Chunks received, split by whether the index was already stored",
			},
			[]string{"duplicate"},
		),
		chunkBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_chunk_bytes_total",
				Help: "Payload bytes written to blob storage by upload sessions",
			},
		),
		sessionsStarted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_sessions_started_total",
				Help: "Upload sessions created",
			},
		),
		sessionsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_upload_sessions_active",
				Help: "Upload sessions currently held in memory",
			},
		),
		sessionsDone: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_sessions_finished_total",
				Help: "Upload sessions that left the manager, by outcome",
			},
			[]string{"outcome"},
		),
		sessionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittodrive_upload_session_duration_seconds",
				Help:    "Time from first chunk to session end",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 9), // 100ms .. ~1.8h
			},
			[]string{"outcome"},
		),
		fileSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittodrive_upload_file_size_bytes",
				Help:    "Size of completed uploads",
				Buckets: prometheus.ExponentialBuckets(1024, 8, 9), // 1KB .. 16GB
			},
		),
	}
}

func (m *uploadMetrics) RecordChunk(bytes int, duplicate bool) {
	if duplicate {
		m.chunksTotal.WithLabelValues("true").Inc()
		return
	}
	m.chunksTotal.WithLabelValues("false").Inc()
	m.chunkBytes.Add(float64(bytes))
}

func (m *uploadMetrics) RecordSessionStarted() {
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

func (m *uploadMetrics) RecordSessionFinished(outcome string, size int64, duration time.Duration) {
	m.sessionsActive.Dec()
	m.sessionsDone.WithLabelValues(outcome).Inc()
	m.sessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "completed" {
		m.fileSize.Observe(float64(size))
	}
}
