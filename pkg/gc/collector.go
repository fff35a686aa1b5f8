// Package gc reclaims orphaned blobs.
//
// A blob is orphaned when no file record references it (as its content or
// as a variant) and no upload session holds it. Orphans appear when:
//   - A blob delete fails after its record was removed
//   - The server stops between allocating a blob and promoting it
//   - A sweeper delete fails
//
// Blobs younger than MinAge are never touched, which covers every blob
// allocated after the collector took its snapshots.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// LiveRefSource reports blobs owned by in-flight work. *upload.Manager
// implements it.
type LiveRefSource interface {
	LiveBlobRefs() []blob.Ref
}

// Metrics observes collection runs.
type Metrics interface {
	RecordRun(stats *Stats, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordRun(*Stats, error) {}

// Collector performs periodic garbage collection on a blob store.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	metadataStore metadata.Store
	blobStore     blob.Store
	lister        blob.Lister
	live          LiveRefSource
	config        Config
	metrics       Metrics
	now           func() time.Time
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether background collection runs
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to run garbage collection (default: 24h)
	Interval time.Duration `mapstructure:"interval"`

	// MinAge protects recently modified blobs (default: 1h)
	MinAge time.Duration `mapstructure:"min_age"`

	// BatchSize is how many orphans are deleted between progress logs and
	// cancellation checks (default: 1000)
	BatchSize int `mapstructure:"batch_size"`

	// DryRun logs what would be deleted without deleting
	DryRun bool `mapstructure:"dry_run"`
}

// NewCollector creates a collector. The blob store must implement
// blob.Lister. live and metrics may be nil.
func NewCollector(
	metadataStore metadata.Store,
	blobStore blob.Store,
	live LiveRefSource,
	config Config,
	metrics Metrics,
) (*Collector, error) {
	lister, ok := blobStore.(blob.Lister)
	if !ok {
		return nil, fmt.Errorf("blob store does not implement blob.Lister")
	}

	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.MinAge == 0 {
		config.MinAge = time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Collector{
		metadataStore: metadataStore,
		blobStore:     blobStore,
		lister:        lister,
		live:          live,
		config:        config,
		metrics:       metrics,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins background collection if enabled.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		close(c.doneCh)
		return
	}

	logger.Info("Starting garbage collector: interval=%s min_age=%s batch_size=%d dry_run=%v",
		c.config.Interval, c.config.MinAge, c.config.BatchSize, c.config.DryRun)

	go c.worker()
}

// Stop stops the worker and waits for an in-progress run to finish or ctx
// to expire. It must be called after Start.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	logger.Info("Stopping garbage collector...")
	close(c.stopCh)

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one collection synchronously.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. Snapshot blobs held by upload sessions
//  2. Collect refs from metadata (content and variants)
//  3. List the blob store
//  4. Delete listed blobs that are unreferenced and older than MinAge
//
// Sessions are read first: a session promoted after the snapshot shows up
// in step 2, and one created after it owns a blob younger than MinAge.
func (c *Collector) collect(ctx context.Context) (stats *Stats, err error) {
	stats = &Stats{StartTime: c.now()}
	defer func() {
		stats.EndTime = c.now()
		c.metrics.RecordRun(stats, err)
	}()

	keep := make(map[blob.Ref]struct{})
	if c.live != nil {
		for _, ref := range c.live.LiveBlobRefs() {
			keep[ref] = struct{}{}
		}
	}
	stats.LiveCount = uint64(len(keep))

	referenced, err := c.metadataStore.ListBlobRefs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get referenced blobs: %w", err)
	}
	for _, ref := range referenced {
		keep[ref] = struct{}{}
	}
	stats.ReferencedCount = uint64(len(referenced))

	existing, err := c.lister.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list blobs: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	cutoff := c.now().Add(-c.config.MinAge)
	var orphaned []blob.Ref
	for _, info := range existing {
		if _, ok := keep[info.Ref]; ok {
			continue
		}
		if info.ModTime.After(cutoff) {
			stats.YoungCount++
			continue
		}
		orphaned = append(orphaned, info.Ref)
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if len(orphaned) == 0 {
		logger.Debug("GC: no orphaned blobs (existing=%d referenced=%d live=%d)",
			stats.ExistingCount, stats.ReferencedCount, stats.LiveCount)
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %d blobs:", len(orphaned))
		for i, ref := range orphaned {
			if i == 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s", ref)
		}
		return stats, nil
	}

	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		for _, ref := range orphaned[i:end] {
			if err := c.blobStore.Delete(ctx, ref); err != nil {
				logger.Debug("GC: failed to delete %s: %v", ref, err)
				stats.FailedCount++
				continue
			}
			stats.DeletedCount++
		}
		logger.Debug("GC: processed batch %d-%d", i, end)
	}

	logger.Info("GC: deleted %d orphaned blobs, %d failed", stats.DeletedCount, stats.FailedCount)
	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time
	EndTime         time.Time
	ReferencedCount uint64 // refs held by file records
	LiveCount       uint64 // refs held by upload sessions
	ExistingCount   uint64 // blobs in the store
	YoungCount      uint64 // unreferenced but newer than MinAge
	OrphanedCount   uint64
	DeletedCount    uint64
	FailedCount     uint64
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d live=%d existing=%d young=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.LiveCount, s.ExistingCount, s.YoungCount,
		s.OrphanedCount, s.DeletedCount, s.FailedCount, s.Duration())
}
