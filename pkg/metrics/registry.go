// Package metrics exposes DittoDrive's Prometheus collectors: HTTP requests,
// upload sessions, stream windows, S3 calls and garbage collection runs.
//
// Collection is opt-in. Until InitRegistry runs, the engine constructors
// return nil and each engine keeps its own no-op recorder:
//
//	metrics.InitRegistry()
//	reg, _ := registry.New(meta, blobs, registry.Config{
//	    UploadMetrics: metrics.NewUploadMetrics(),
//	    StreamMetrics: metrics.NewStreamMetrics(),
//	})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "dittodrive"}),
		)
		registry = r
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return registry != nil
}
