// Package rest exposes the upload, download, streaming and file-update
// operations over HTTP.
//
// Routes:
//
//	POST   /file/upload/{folderKey}              chunked upload (multipart)
//	GET    /file/download/{folderKey}/{fileKey}  full download
//	GET    /file/stream/{folderKey}/{fileKey}    ranged stream (206)
//	DELETE /file/{folderKey}/{fileKey}           delete a file
//	PATCH  /file/rename/{folderKey}/{fileKey}    rename (JSON body)
//	PATCH  /file/move/{folderKey}/{fileKey}      move under targetKey
//	PATCH  /file/name/{fileKey}                  rename (query)
//	PATCH  /file/parent/{fileKey}                move under parent_key
//	GET    /healthz                              store health
//
// Every /file route requires a member identity; see identity.go.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/registry"
)

// RESTAdapter serves the HTTP surface.
//
// Thread safety:
// Stop may be called concurrently with Serve. Handlers share only the
// registry and the rate limiter, both safe for concurrent use.
type RESTAdapter struct {
	config   RESTConfig
	registry *registry.Registry
	metrics  metrics.HTTPMetrics
	limiter  *ratelimiter.Limiter

	// mu guards server between Serve and Stop
	mu     sync.Mutex
	server *http.Server

	// port is the bound port once listening; differs from config.Port when 0
	port atomic.Int32

	shutdownOnce sync.Once
}

// RESTConfig configures the HTTP adapter.
type RESTConfig struct {
	// Enabled controls whether the adapter is started
	Enabled bool `mapstructure:"enabled"`

	// Port to listen on. 0 picks a free port (tests).
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// ReadTimeout bounds reading a whole request, including a chunk upload
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout bounds writing a response, including a full download
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout closes idle keep-alive connections
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout bounds draining in-flight requests on Stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit throttles the upload route per member
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// JWTSecret, when set, requires an HS256 bearer token on every /file
	// route. When empty the member id is read from X-Member-Id or the
	// userId/memberId query parameters.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// RateLimitConfig is a token bucket per member. RequestsPerSecond 0
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`
	Burst             int     `mapstructure:"burst" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
//
// Enabled is left alone so an explicit false in a config file sticks.
func (c *RESTConfig) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(2 * c.RateLimit.RequestsPerSecond)
	}
}

func (c *RESTConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid rate limit %v: must be >= 0", c.RateLimit.RequestsPerSecond)
	}
	return nil
}

// New creates a REST adapter. httpMetrics may be nil.
//
// Panics on an invalid configuration; pkg/config validates it first.
func New(config RESTConfig, httpMetrics metrics.HTTPMetrics) *RESTAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid REST config: %v", err))
	}
	if httpMetrics == nil {
		httpMetrics = metrics.NewNoopHTTPMetrics()
	}

	a := &RESTAdapter{
		config:  config,
		metrics: httpMetrics,
		limiter: ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
	}
	a.port.Store(int32(config.Port))
	return a
}

// SetRegistry injects the shared registry. Called once before Serve.
func (a *RESTAdapter) SetRegistry(reg *registry.Registry) {
	a.registry = reg
}

// Handler builds the routed handler. SetRegistry must have been called.
func (a *RESTAdapter) Handler() http.Handler {
	if a.registry == nil {
		panic("REST adapter used before SetRegistry")
	}
	return a.newRouter()
}

// Serve listens and serves until ctx is cancelled.
func (a *RESTAdapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.config.Port, err)
	}
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		a.port.Store(int32(addr.Port))
	}

	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	logger.Info("REST server listening on port %d", a.Port())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		// ctx is already done; draining gets its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("REST server failed: %w", err)
	}
}

// Stop drains in-flight requests. Safe to call more than once and before
// Serve.
func (a *RESTAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()
	if srv == nil {
		return nil
	}

	var shutdownErr error
	a.shutdownOnce.Do(func() {
		logger.Info("REST server shutting down")
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("REST server shutdown error: %w", err)
			logger.Error("REST server shutdown error: %v", err)
			_ = srv.Close()
		}
	})
	return shutdownErr
}

// Port returns the bound port, or the configured one before Serve.
func (a *RESTAdapter) Port() int {
	return int(a.port.Load())
}

// Protocol returns "REST".
func (a *RESTAdapter) Protocol() string {
	return "REST"
}
