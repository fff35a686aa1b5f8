package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/marmos91/dittodrive/pkg/store/blob"
)

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (r *sectionReadCloser) Close() error {
	return r.f.Close()
}

// OpenRange opens the committed file and returns a SectionReader over the
// requested bytes. Nothing is read until the caller reads.
func (s *FSBlobStore) OpenRange(ctx context.Context, ref blob.Ref, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, size, err := s.openCommitted(ref)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start || end >= size {
		_ = f.Close()
		return nil, fmt.Errorf("read %s [%d, %d] of %d: %w", ref, start, end, size, blob.ErrInvalidOffset)
	}

	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, start, end-start+1),
		f:             f,
	}, nil
}

func (s *FSBlobStore) Size(ctx context.Context, ref blob.Ref) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path, err := s.committedPath(ref)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, s.notCommittedErr(ref)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

func (s *FSBlobStore) openCommitted(ref blob.Ref) (*os.File, int64, error) {
	path, err := s.committedPath(ref)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, s.notCommittedErr(ref)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// notCommittedErr distinguishes a staged blob from a missing one.
func (s *FSBlobStore) notCommittedErr(ref blob.Ref) error {
	staged, _ := s.stagedPath(ref)
	if _, err := os.Stat(staged); err == nil {
		return fmt.Errorf("blob %s: %w", ref, blob.ErrNotCommitted)
	}
	return fmt.Errorf("blob %s: %w", ref, blob.ErrBlobNotFound)
}
