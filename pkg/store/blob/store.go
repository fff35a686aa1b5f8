// Package blob defines byte storage addressed by opaque refs.
//
// A blob has two phases. While staged it accepts WriteAt at arbitrary
// offsets in any order; Commit seals it and fixes its size. Committed blobs
// are immutable and support ranged reads, so concurrent readers need no
// coordination.
//
// Backends: memory, fs (local directory) and s3 (any S3-compatible service).
// All of them run the contract suite in blob/testing.
package blob

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Ref identifies a blob. It is the same value metadata records carry.
type Ref = metadata.BlobRef

// RefPrefix is the namespace every generated ref lives under.
const RefPrefix = "blobs/"

// NewRef generates a fresh random ref.
func NewRef() Ref {
	return Ref(RefPrefix + uuid.NewString())
}

// ValidRef reports whether ref has the shape NewRef produces. Stores reject
// anything else so a crafted ref can never escape their namespace.
func ValidRef(ref Ref) bool {
	s := string(ref)
	if len(s) <= len(RefPrefix) || s[:len(RefPrefix)] != RefPrefix {
		return false
	}
	_, err := uuid.Parse(s[len(RefPrefix):])
	return err == nil
}

// Store is the blob storage contract.
//
// All methods honour context cancellation. Implementations must be safe for
// concurrent use; writes to one ref are serialized by the caller.
type Store interface {
	// Allocate reserves a new staged blob.
	Allocate(ctx context.Context) (Ref, error)

	// WriteAt writes data at offset into a staged blob. Writes past the
	// current end leave a zero-filled gap (sparse semantics).
	WriteAt(ctx context.Context, ref Ref, data []byte, offset int64) error

	// Commit seals a staged blob and returns its final size. Committing an
	// already committed blob returns its size again.
	Commit(ctx context.Context, ref Ref) (int64, error)

	// OpenRange returns a reader over bytes [start, end] (end inclusive) of
	// a committed blob. The reader is lazy where the backend allows; the
	// caller must Close it.
	OpenRange(ctx context.Context, ref Ref, start, end int64) (io.ReadCloser, error)

	// Size returns the size of a committed blob.
	Size(ctx context.Context, ref Ref) (int64, error)

	// Delete removes a blob in either phase. Deleting a missing blob
	// succeeds.
	Delete(ctx context.Context, ref Ref) error

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// BlobInfo describes a stored blob for garbage collection.
type BlobInfo struct {
	Ref       Ref
	Size      int64
	Committed bool
	ModTime   time.Time
}

// Lister is implemented by stores that can enumerate their blobs.
type Lister interface {
	List(ctx context.Context) ([]BlobInfo, error)
}
