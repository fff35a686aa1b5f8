package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics provides observability for the REST adapter.
//
// The interface is optional: NewHTTPMetrics returns a no-op implementation
// when metrics are disabled, so the adapter never checks for nil.
//
// Example usage:
//
//	adapter := rest.New(config, deps, metrics.NewHTTPMetrics())
type HTTPMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - route: mux route template (e.g. "/file/upload/{folderKey}")
	//   - method: HTTP method
	//   - status: response status code
	//   - duration: time spent in the handler
	RecordRequest(route, method string, status int, duration time.Duration)

	// RecordRequestStart increments the in-flight gauge for route
	RecordRequestStart(route string)

	// RecordRequestEnd decrements the in-flight gauge for route
	RecordRequestEnd(route string)

	// RecordRateLimited counts a request rejected by the rate limiter
	RecordRateLimited(route string)
}

// NewNoopHTTPMetrics returns an HTTPMetrics that discards everything.
func NewNoopHTTPMetrics() HTTPMetrics {
	return noopHTTPMetrics{}
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(string, string, int, time.Duration) {}
func (noopHTTPMetrics) RecordRequestStart(string)                        {}
func (noopHTTPMetrics) RecordRequestEnd(string)                          {}
func (noopHTTPMetrics) RecordRateLimited(string)                         {}

// httpMetrics is the Prometheus implementation of HTTPMetrics.
type httpMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	rateLimited      *prometheus.CounterVec
}

// NewHTTPMetrics creates a new Prometheus-backed HTTPMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewHTTPMetrics() HTTPMetrics {
	if !IsEnabled() {
		return NewNoopHTTPMetrics()
	}
	return newHTTPMetrics(GetRegistry())
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	return &httpMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrive_http_request_duration_milliseconds",
				Help: "Duration of HTTP requests in milliseconds",
				Buckets: []float64{
					1,      // 1ms
					10,     // 10ms
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					100000, // 100s, long downloads
				},
			},
			[]string{"route", "method"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittodrive_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"route"},
		),
		rateLimited: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}
}

func (m *httpMetrics) RecordRequest(route, method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(float64(duration.Milliseconds()))
}

func (m *httpMetrics) RecordRequestStart(route string) {
	m.requestsInFlight.WithLabelValues(route).Inc()
}

func (m *httpMetrics) RecordRequestEnd(route string) {
	m.requestsInFlight.WithLabelValues(route).Dec()
}

func (m *httpMetrics) RecordRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}
