package upload

import (
	"context"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Sweeper periodically reclaims idle sessions and deletes their blobs.
//
// It takes each session's lock before deciding, the same lock SubmitChunk
// holds, so a session is either swept or receives the chunk, never both. A
// chunk that arrives after the sweep finds the session closed and starts a
// fresh one.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	ttl      time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates a sweeper for manager using its configured interval
// and TTL. Call Start to run it.
func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: manager.config.SweepInterval,
		ttl:      manager.config.SessionTTL,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker.
func (sw *Sweeper) Start() {
	logger.Info("Starting upload sweeper: interval=%s ttl=%s", sw.interval, sw.ttl)
	go sw.worker()
}

// Stop signals the worker and waits for it to finish or ctx to expire.
func (sw *Sweeper) Stop(ctx context.Context) error {
	close(sw.stopCh)

	select {
	case <-sw.doneCh:
		logger.Info("Upload sweeper stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Upload sweeper shutdown timeout")
		return ctx.Err()
	}
}

func (sw *Sweeper) worker() {
	defer close(sw.doneCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sw.interval)
			if n := sw.RunNow(ctx); n > 0 {
				logger.Info("Upload sweeper reclaimed %d idle sessions", n)
			}
			cancel()
		case <-sw.stopCh:
			return
		}
	}
}

// RunNow performs one sweep and returns how many sessions it reclaimed.
func (sw *Sweeper) RunNow(ctx context.Context) int {
	m := sw.manager

	m.mu.Lock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	reclaimed := 0
	for _, s := range candidates {
		if ctx.Err() != nil {
			break
		}

		s.mu.Lock()
		idle := m.now().Sub(s.lastActive)
		if s.closed || idle <= sw.ttl {
			s.mu.Unlock()
			continue
		}
		m.removeLocked(s)
		ref, sealed, written := s.blobRef, s.sealed, s.bytesWritten
		duration := m.now().Sub(s.createdAt)
		s.mu.Unlock()

		// Closed sessions are unreachable, so the delete can run unlocked
		if sealed && sw.promoted(ctx, s) {
			logger.Info("Sweeper kept blob %s: file %s already references it", ref, s.fileKey)
		} else if err := m.blobs.Delete(ctx, ref); err != nil {
			logger.Warn("Sweeper failed to delete blob %s: %v", ref, err)
		}
		m.metrics.RecordSessionFinished("expired", written, duration)
		logger.Debug("Reclaimed idle upload: member=%d folder=%s name=%q idle=%s sealed=%v blob=%s",
			s.key.memberID, s.key.folderKey, s.key.fileName, idle, sealed, ref)
		reclaimed++
	}
	return reclaimed
}

// promoted reports whether the metadata already references a sealed
// session's blob despite the failed reply. Lookup errors other than
// not-found count as promoted: the blob is left for the orphan collector,
// which checks the metadata itself.
func (sw *Sweeper) promoted(ctx context.Context, s *session) bool {
	file, err := sw.manager.metadata.GetFileByKey(ctx, s.fileKey)
	if err != nil {
		return !metadata.IsNotFound(err)
	}
	if s.isVariant() {
		return file.Variants[s.key.resolution] == s.blobRef
	}
	return file.BlobRef == s.blobRef
}
