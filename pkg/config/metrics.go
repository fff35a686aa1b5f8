package config

import (
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/blob/s3"
	"github.com/marmos91/dittodrive/pkg/stream"
	"github.com/marmos91/dittodrive/pkg/upload"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// HTTP is never nil; a no-op when disabled
	HTTP metrics.HTTPMetrics

	// The engine collectors are nil when disabled, which the engines treat
	// as no-op
	Upload upload.Metrics
	Stream stream.Metrics
	GC     gc.Metrics
	S3     s3.S3Metrics
}

// InitializeMetrics creates all metrics components.
//
// When enabled, the global Prometheus registry is initialized before any
// collector is built; otherwise every constructor returns its no-op form.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{HTTP: metrics.NewNoopHTTPMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		HTTP:   metrics.NewHTTPMetrics(),
		Upload: metrics.NewUploadMetrics(),
		Stream: metrics.NewStreamMetrics(),
		GC:     metrics.NewGCMetrics(),
		S3:     metrics.NewS3Metrics(),
	}
}
