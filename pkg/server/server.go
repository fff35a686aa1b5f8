package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/adapter"
	"github.com/marmos91/dittodrive/pkg/registry"
)

// Worker is a background task whose lifetime follows the server: the
// upload sweeper and the blob garbage collector.
type Worker interface {
	Start()
	Stop(ctx context.Context) error
}

// DriveServer runs protocol adapters and background workers that share one
// registry.
//
// Lifecycle:
//  1. Creation: New() with the registry
//  2. Registration: AddAdapter() and AddWorker()
//  3. Startup: Serve() starts workers, then every adapter concurrently
//  4. Shutdown: context cancellation or an adapter failure stops adapters in
//     reverse order, then workers
//
// Example usage:
//
//	srv := server.New(reg, 30*time.Second)
//	srv.AddAdapter(rest.New(restConfig, metrics.NewHTTPMetrics()))
//	srv.AddWorker(upload.NewSweeper(reg.Uploads()))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type DriveServer struct {
	registry    *registry.Registry
	stopTimeout time.Duration

	// mu protects adapters, workers and served
	mu       sync.Mutex
	adapters []adapter.Adapter
	workers  []Worker
	served   bool
}

// New creates a server around reg. stopTimeout bounds adapter and worker
// shutdown (default: 30s).
//
// Panics if reg is nil.
func New(reg *registry.Registry, stopTimeout time.Duration) *DriveServer {
	if reg == nil {
		panic("registry cannot be nil")
	}
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &DriveServer{
		registry:    reg,
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter injects the registry into a and registers it.
//
// Returns an error if another adapter already uses the same protocol or
// port. Panics if a is nil or Serve() has been called.
func (s *DriveServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() {
			return fmt.Errorf("adapter for protocol %s already registered", a.Protocol())
		}
		if existing.Port() == a.Port() {
			return fmt.Errorf("port %d already in use by %s adapter", a.Port(), existing.Protocol())
		}
	}

	a.SetRegistry(s.registry)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", a.Protocol(), a.Port())
	return nil
}

// AddWorker registers a background worker started by Serve().
func (s *DriveServer) AddWorker(w Worker) {
	if w == nil {
		panic("worker cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add worker after Serve() has been called")
	}
	s.workers = append(s.workers, w)
}

// Serve starts every worker and adapter and blocks until ctx is cancelled
// or an adapter fails.
//
// Returns ctx.Err() on cancellation, or the first adapter error. Calling
// Serve twice returns an error.
func (s *DriveServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	for _, w := range workers {
		w.Start()
	}

	logger.Info("Starting DittoDrive with %d adapter(s) and %d worker(s)", len(adapters), len(workers))

	// Buffered so a failing adapter never blocks after shutdown began
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			logger.Info("Starting %s adapter on port %d", a.Protocol(), a.Port())
			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", a.Protocol())
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped: %v", a.Protocol(), err)
			default:
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				errChan <- adapterError{protocol: a.Protocol(), err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown", adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	s.stopAdapters(stopCtx, adapters)
	wg.Wait()
	s.stopWorkers(stopCtx, workers)

	logger.Info("DittoDrive stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAdapters stops adapters in reverse registration order. Errors are
// logged and do not prevent the remaining adapters from stopping.
func (s *DriveServer) stopAdapters(ctx context.Context, adapters []adapter.Adapter) {
	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

func (s *DriveServer) stopWorkers(ctx context.Context, workers []Worker) {
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(ctx); err != nil {
			logger.Warn("Error stopping worker: %v", err)
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *DriveServer) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}

// Registry returns the shared registry.
func (s *DriveServer) Registry() *registry.Registry {
	return s.registry
}
