package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/marmos91/dittodrive/pkg/store/blob"
)

// Allocate creates an empty staged file.
func (s *FSBlobStore) Allocate(ctx context.Context) (blob.Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := blob.NewRef()
	path, err := s.stagedPath(ref)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to allocate blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to allocate blob: %w", err)
	}
	return ref, nil
}

// WriteAt writes into the staged file. Offsets beyond the end create a hole
// that reads back as zeros.
func (s *FSBlobStore) WriteAt(ctx context.Context, ref blob.Ref, data []byte, offset int64) error {
	// ========================================================================
	// Step 1: Validate arguments
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("write %s at %d: %w", ref, offset, blob.ErrInvalidOffset)
	}

	path, err := s.stagedPath(ref)
	if err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Open the staged file (never create: Allocate owns creation)
	// ========================================================================

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return s.missingStagedErr(ref)
	}
	if err != nil {
		return fmt.Errorf("failed to open blob: %w", err)
	}

	// ========================================================================
	// Step 3: Write and close
	// ========================================================================

	if _, err := f.WriteAt(data, offset); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close blob: %w", err)
	}
	return nil
}

// Commit syncs the staged file and renames it into place.
func (s *FSBlobStore) Commit(ctx context.Context, ref blob.Ref) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	staged, err := s.stagedPath(ref)
	if err != nil {
		return 0, err
	}
	final, _ := s.committedPath(ref)

	f, err := os.OpenFile(staged, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		// Already committed: report the size again
		info, statErr := os.Stat(final)
		if statErr == nil {
			return info.Size(), nil
		}
		return 0, fmt.Errorf("commit %s: %w", ref, blob.ErrBlobNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open blob: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(staged, final); err != nil {
		return 0, fmt.Errorf("failed to commit blob: %w", err)
	}
	return info.Size(), nil
}

// Delete removes both the staged and the committed file.
func (s *FSBlobStore) Delete(ctx context.Context, ref blob.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	final, err := s.committedPath(ref)
	if err != nil {
		// A malformed ref can't exist on disk
		return nil
	}
	for _, p := range []string{final + stagedSuffix, final} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete blob: %w", err)
		}
	}
	return nil
}

func (s *FSBlobStore) missingStagedErr(ref blob.Ref) error {
	final, _ := s.committedPath(ref)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("write %s: %w", ref, blob.ErrAlreadyCommitted)
	}
	return fmt.Errorf("write %s: %w", ref, blob.ErrBlobNotFound)
}
