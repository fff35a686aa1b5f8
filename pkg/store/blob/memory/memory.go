package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/blob"
)

type entry struct {
	data      []byte
	committed bool
	modTime   time.Time
}

// MemoryBlobStore implements blob.Store using in-memory storage.
//
// Characteristics:
//   - Volatile: data is lost on restart
//   - Memory-bound: every blob is held in full
//   - Thread-safe: protected by a RWMutex; data is copied on write so
//     callers may reuse their buffers
//
// Committed slices are never mutated again, so readers share them without
// copying.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[blob.Ref]*entry
	now   func() time.Time
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[blob.Ref]*entry),
		now:   time.Now,
	}
}

func (s *MemoryBlobStore) Allocate(ctx context.Context) (blob.Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := blob.NewRef()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = &entry{modTime: s.now()}
	return ref, nil
}

// WriteAt grows the buffer as needed; gaps are zero-filled.
func (s *MemoryBlobStore) WriteAt(ctx context.Context, ref blob.Ref, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("write %s at %d: %w", ref, offset, blob.ErrInvalidOffset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[ref]
	if !ok {
		return fmt.Errorf("write %s: %w", ref, blob.ErrBlobNotFound)
	}
	if e.committed {
		return fmt.Errorf("write %s: %w", ref, blob.ErrAlreadyCommitted)
	}

	end := offset + int64(len(data))
	if end > int64(len(e.data)) {
		if end > int64(cap(e.data)) {
			grown := make([]byte, end, end+end/4)
			copy(grown, e.data)
			e.data = grown
		} else {
			e.data = e.data[:end]
		}
	}
	copy(e.data[offset:end], data)
	e.modTime = s.now()
	return nil
}

func (s *MemoryBlobStore) Commit(ctx context.Context, ref blob.Ref) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[ref]
	if !ok {
		return 0, fmt.Errorf("commit %s: %w", ref, blob.ErrBlobNotFound)
	}
	if !e.committed {
		// Drop spare capacity so the committed slice is exact
		e.data = bytes.Clone(e.data)
		e.committed = true
		e.modTime = s.now()
	}
	return int64(len(e.data)), nil
}

func (s *MemoryBlobStore) OpenRange(ctx context.Context, ref blob.Ref, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.committedLocked(ref)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start || end >= int64(len(e.data)) {
		return nil, fmt.Errorf("read %s [%d, %d] of %d: %w", ref, start, end, len(e.data), blob.ErrInvalidOffset)
	}
	return io.NopCloser(bytes.NewReader(e.data[start : end+1])), nil
}

func (s *MemoryBlobStore) Size(ctx context.Context, ref blob.Ref) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.committedLocked(ref)
	if err != nil {
		return 0, err
	}
	return int64(len(e.data)), nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, ref blob.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	return nil
}

// List implements blob.Lister.
func (s *MemoryBlobStore) List(ctx context.Context) ([]blob.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]blob.BlobInfo, 0, len(s.blobs))
	for ref, e := range s.blobs {
		infos = append(infos, blob.BlobInfo{
			Ref:       ref,
			Size:      int64(len(e.data)),
			Committed: e.committed,
			ModTime:   e.modTime,
		})
	}
	return infos, nil
}

func (s *MemoryBlobStore) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryBlobStore) Close() error {
	return nil
}

func (s *MemoryBlobStore) committedLocked(ref blob.Ref) (*entry, error) {
	e, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", ref, blob.ErrBlobNotFound)
	}
	if !e.committed {
		return nil, fmt.Errorf("blob %s: %w", ref, blob.ErrNotCommitted)
	}
	return e, nil
}

var (
	_ blob.Store  = (*MemoryBlobStore)(nil)
	_ blob.Lister = (*MemoryBlobStore)(nil)
)
