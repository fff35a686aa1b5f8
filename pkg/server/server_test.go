package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/registry"
	blobmemory "github.com/marmos91/dittodrive/pkg/store/blob/memory"
	metamemory "github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	protocol string
	port     int
	failWith error

	registry *registry.Registry
	stopped  atomic.Int32
	stopCh   chan struct{}
}

func newFakeAdapter(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stopCh: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopCh:
		return nil
	}
}

func (f *fakeAdapter) SetRegistry(reg *registry.Registry) { f.registry = reg }

func (f *fakeAdapter) Stop(context.Context) error {
	if f.stopped.Add(1) == 1 {
		close(f.stopCh)
	}
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

type fakeWorker struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (w *fakeWorker) Start()                     { w.started.Store(true) }
func (w *fakeWorker) Stop(context.Context) error { w.stopped.Store(true); return nil }

func newTestServer(t *testing.T) *DriveServer {
	t.Helper()
	reg, err := registry.New(metamemory.NewMemoryMetadataStore(), blobmemory.NewMemoryBlobStore(), registry.Config{})
	require.NoError(t, err)
	return New(reg, time.Second)
}

func TestAddAdapter(t *testing.T) {
	srv := newTestServer(t)

	a := newFakeAdapter("REST", 8080)
	require.NoError(t, srv.AddAdapter(a))
	assert.Same(t, srv.Registry(), a.registry)

	assert.Error(t, srv.AddAdapter(newFakeAdapter("REST", 8081)), "duplicate protocol")
	assert.Error(t, srv.AddAdapter(newFakeAdapter("OTHER", 8080)), "duplicate port")
	assert.Len(t, srv.Adapters(), 1)
}

func TestServeNoAdapters(t *testing.T) {
	srv := newTestServer(t)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServeShutdown(t *testing.T) {
	srv := newTestServer(t)
	a := newFakeAdapter("REST", 8080)
	w := &fakeWorker{}
	require.NoError(t, srv.AddAdapter(a))
	srv.AddWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, w.started.Load, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, int32(1), a.stopped.Load())
	assert.True(t, w.stopped.Load())

	assert.Error(t, srv.Serve(context.Background()), "second Serve")
}

func TestServeAdapterFailure(t *testing.T) {
	srv := newTestServer(t)
	healthy := newFakeAdapter("REST", 8080)
	broken := newFakeAdapter("BROKEN", 8081)
	broken.failWith = errors.New("listen failed")
	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(broken))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen failed")
	assert.Equal(t, int32(1), healthy.stopped.Load())
}
