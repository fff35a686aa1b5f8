package adapter

import (
	"context"

	"github.com/marmos91/dittodrive/pkg/registry"
)

// Adapter is a client-facing protocol server managed by server.DriveServer.
//
// Every adapter resolves stores and engines through the shared registry, so
// uploads, streams and access checks behave identically whatever the
// transport.
//
// Lifecycle:
//  1. Creation: adapter is built with its protocol configuration
//  2. Registry injection: SetRegistry() is called once before Serve()
//  3. Startup: Serve() blocks until ctx is cancelled
//  4. Shutdown: Stop() drains in-flight requests within the ctx deadline
//
// Implementations must tolerate Stop() running concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs. A return before
	// cancellation is treated as fatal by the server.
	Serve(ctx context.Context) error

	// SetRegistry injects the shared registry.
	SetRegistry(reg *registry.Registry)

	// Stop initiates graceful shutdown. It must be idempotent.
	Stop(ctx context.Context) error

	// Protocol returns a constant name for logging and metrics ("REST").
	Protocol() string

	// Port returns the listening port, or 0 before Serve().
	Port() int
}
