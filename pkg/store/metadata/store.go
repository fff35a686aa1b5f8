// Package metadata defines the file and role-grant records and the Store
// interface every metadata backend implements.
//
// Backends:
//   - memory: maps guarded by a RWMutex, for tests and ephemeral servers
//   - badger: prefixed keys with JSON values
//   - bolt: one bucket per record kind
//   - postgres: database/sql over pgx with goose migrations
//
// All backends run the shared contract suite in metadata/testing.
package metadata

import "context"

// Store persists files and role grants.
//
// Every method honours context cancellation before touching the backend.
// Domain failures are returned as *StoreError; infrastructure failures are
// *StoreError with ErrIOError wrapping the cause.
//
// Structural rules enforced by every implementation:
//   - ParentKey, when set, references an existing folder
//   - a folder with children cannot be deleted (ErrNotEmpty)
//   - a folder cannot be moved under itself or one of its descendants
//   - deleting a file removes every role grant on it
//   - a grant with an empty role set is never stored
type Store interface {
	// GetFileByKey returns the file with the given key, or ErrNotFound.
	GetFileByKey(ctx context.Context, key string) (*File, error)

	// GetRoleGrant returns the grant of memberID on fileID, or ErrNotFound
	// when the member holds no roles on that file.
	GetRoleGrant(ctx context.Context, memberID, fileID int64) (*RoleGrant, error)

	// CreateFile persists a new record and its initial grants atomically.
	//
	// The store assigns ID and, when zero, CreatedAt/UpdatedAt. FileID of
	// every grant is overwritten with the new ID. The returned copy carries
	// the assigned values.
	CreateFile(ctx context.Context, file *File, grants ...RoleGrant) (*File, error)

	// UpdateFileParent moves key under parentKey. An empty parentKey moves
	// the file to the root level.
	UpdateFileParent(ctx context.Context, key, parentKey string) error

	// UpdateFileName renames key. Names are not unique within a folder.
	UpdateFileName(ctx context.Context, key, name string) error

	// DeleteFile removes the record and its grants and returns the removed
	// record so callers can release its content.
	DeleteFile(ctx context.Context, key string) (*File, error)

	// PutRoleGrant replaces the grant for (MemberID, FileID). An empty role
	// set deletes the row.
	PutRoleGrant(ctx context.Context, grant RoleGrant) error

	// SetVariant attaches an alternative encoding to a non-folder file.
	SetVariant(ctx context.Context, key, resolution string, ref BlobRef) error

	// ListBlobRefs returns every blob referenced by any file.
	ListBlobRefs(ctx context.Context) ([]BlobRef, error)

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
