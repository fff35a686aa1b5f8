package blob

import "errors"

// ============================================================================
// Standard Blob Store Errors
// ============================================================================

// Implementations wrap these with context so callers can use errors.Is:
//
//	if !exists {
//	    return fmt.Errorf("blob %s: %w", ref, blob.ErrBlobNotFound)
//	}

var (
	// ErrBlobNotFound indicates the ref was never allocated or was deleted.
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidOffset indicates a negative write offset or a read range
	// outside [0, size).
	//
	// Protocol Mapping:
	//   - HTTP: 400 (chunk writes), 416 (range reads)
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrNotCommitted indicates a read or size query on a blob still being
	// written.
	ErrNotCommitted = errors.New("blob not committed")

	// ErrAlreadyCommitted indicates a write to a blob that is already final.
	ErrAlreadyCommitted = errors.New("blob already committed")

	// ErrUnavailable indicates the backend could not be reached.
	//
	// Protocol Mapping:
	//   - HTTP: 503 Service Unavailable
	ErrUnavailable = errors.New("blob store unavailable")
)
