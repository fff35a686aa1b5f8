package metrics

import (
	"github.com/marmos91/dittodrive/pkg/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type streamMetrics struct {
	opened      *prometheus.CounterVec
	bytesServed prometheus.Counter
}

// NewStreamMetrics creates a Prometheus-backed stream.Metrics.
// Returns nil when metrics are disabled.
func NewStreamMetrics() stream.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newStreamMetrics(GetRegistry())
}

func newStreamMetrics(reg prometheus.Registerer) *streamMetrics {
	return &streamMetrics{
		opened: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_streams_opened_total",
				Help: "Streams opened by kind (range, full) and resolution",
			},
			[]string{"kind", "resolution"},
		),
		bytesServed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_stream_bytes_served_total",
				Help: "Bytes read from blob storage and handed to clients",
			},
		),
	}
}

func (m *streamMetrics) RecordStreamOpened(kind, resolution string) {
	if resolution == "" {
		resolution = "original"
	}
	m.opened.WithLabelValues(kind, resolution).Inc()
}

func (m *streamMetrics) RecordBytesServed(bytes int64) {
	m.bytesServed.Add(float64(bytes))
}
