// Package fs implements filesystem-based blob storage.
//
// Layout under the base directory:
//
//	blobs/<uuid>.part   staged blob, written with WriteAt
//	blobs/<uuid>        committed blob (renamed from .part on Commit)
//
// The rename is atomic on POSIX filesystems, so a reader never observes a
// partially committed blob.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittodrive/pkg/store/blob"
)

const stagedSuffix = ".part"

// FSBlobStore implements blob.Store on a local directory.
//
// Thread Safety:
// Filesystem operations are safe at the OS level. Concurrent writes to the
// same ref must be serialized by the caller (the upload session lock does
// this); writes to different refs touch different files.
type FSBlobStore struct {
	basePath string
}

// FSBlobStoreConfig configures the filesystem store.
type FSBlobStoreConfig struct {
	// Path is the base directory; created with 0755 if missing
	Path string `mapstructure:"path"`
}

// NewFSBlobStore creates the base directory if needed.
func NewFSBlobStore(ctx context.Context, config FSBlobStoreConfig) (*FSBlobStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the blob directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(filepath.Join(config.Path, blob.RefPrefix), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSBlobStore{basePath: config.Path}, nil
}

// committedPath returns the path of a committed blob. Refs are validated
// first so a crafted value can't traverse outside basePath.
func (s *FSBlobStore) committedPath(ref blob.Ref) (string, error) {
	if !blob.ValidRef(ref) {
		return "", fmt.Errorf("malformed ref %q: %w", ref, blob.ErrBlobNotFound)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(string(ref))), nil
}

func (s *FSBlobStore) stagedPath(ref blob.Ref) (string, error) {
	p, err := s.committedPath(ref)
	if err != nil {
		return "", err
	}
	return p + stagedSuffix, nil
}

// Healthcheck verifies the blob directory is still reachable.
func (s *FSBlobStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(filepath.Join(s.basePath, blob.RefPrefix))
	if err != nil {
		return fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: blob path is not a directory", blob.ErrUnavailable)
	}
	return nil
}

func (s *FSBlobStore) Close() error {
	return nil
}

// List implements blob.Lister by scanning the blob directory.
func (s *FSBlobStore) List(ctx context.Context) ([]blob.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.basePath, blob.RefPrefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	infos := make([]blob.BlobInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Deleted or committed between ReadDir and Info
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat blob: %w", err)
		}

		name := e.Name()
		committed := !strings.HasSuffix(name, stagedSuffix)
		ref := blob.Ref(blob.RefPrefix + strings.TrimSuffix(name, stagedSuffix))
		if !blob.ValidRef(ref) {
			continue
		}
		infos = append(infos, blob.BlobInfo{
			Ref:       ref,
			Size:      info.Size(),
			Committed: committed,
			ModTime:   info.ModTime(),
		})
	}
	return infos, nil
}

var (
	_ blob.Store  = (*FSBlobStore)(nil)
	_ blob.Lister = (*FSBlobStore)(nil)
)
