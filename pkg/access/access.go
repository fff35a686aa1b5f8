// Package access resolves a member's effective roles over a file.
//
// Roles come from exactly one place: the (member, file) grant row. There is
// no inheritance from a folder to its children, so a missing row always
// means no access. Every method is a pure read.
package access

import (
	"context"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Resolver answers access questions against a metadata store.
//
// Thread Safety:
// Resolver is stateless and safe for concurrent use.
type Resolver struct {
	store metadata.Store
}

// NewResolver creates a resolver over store.
func NewResolver(store metadata.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the roles memberID holds on fileKey. An unknown file is
// NotFound; a file without a grant row yields the empty set.
func (r *Resolver) Resolve(ctx context.Context, memberID int64, fileKey string) (metadata.RoleSet, error) {
	_, roles, err := r.resolveFile(ctx, "resolve", memberID, fileKey)
	return roles, err
}

// Authorize reports whether memberID holds role on fileKey.
func (r *Resolver) Authorize(ctx context.Context, memberID int64, fileKey string, role metadata.Role) (bool, error) {
	roles, err := r.Resolve(ctx, memberID, fileKey)
	if err != nil {
		return false, err
	}
	return roles.Has(role), nil
}

// Require is Authorize with a Forbidden error in place of false.
func (r *Resolver) Require(ctx context.Context, memberID int64, fileKey string, role metadata.Role) error {
	_, err := r.RequireFile(ctx, memberID, fileKey, role)
	return err
}

// RequireFile checks role like Require and returns the file it loaded, so
// callers that go on to use the record don't fetch it twice.
func (r *Resolver) RequireFile(ctx context.Context, memberID int64, fileKey string, role metadata.Role) (*metadata.File, error) {
	file, roles, err := r.resolveFile(ctx, "authorize", memberID, fileKey)
	if err != nil {
		return nil, err
	}
	if !roles.Has(role) {
		logger.Debug("Access denied: member=%d file=%s role=%s held=%s", memberID, fileKey, role, roles)
		return nil, fileerr.New(fileerr.Forbidden, "authorize", "missing %s permission", role)
	}
	return file, nil
}

// AuthorizeMove checks that memberID may move fileKey under destKey. Update
// is required on both files; lacking it on either is Forbidden. Both files
// are resolved before any verdict so an unknown destination is NotFound
// rather than Forbidden.
func (r *Resolver) AuthorizeMove(ctx context.Context, memberID int64, fileKey, destKey string) error {
	_, srcRoles, err := r.resolveFile(ctx, "authorize move", memberID, fileKey)
	if err != nil {
		return err
	}
	_, destRoles, err := r.resolveFile(ctx, "authorize move", memberID, destKey)
	if err != nil {
		return err
	}

	if !srcRoles.Has(metadata.RoleUpdate) {
		return fileerr.New(fileerr.Forbidden, "authorize move", "missing update permission on file")
	}
	if !destRoles.Has(metadata.RoleUpdate) {
		return fileerr.New(fileerr.Forbidden, "authorize move", "missing update permission on destination")
	}
	return nil
}

func (r *Resolver) resolveFile(ctx context.Context, op string, memberID int64, fileKey string) (*metadata.File, metadata.RoleSet, error) {
	file, err := r.store.GetFileByKey(ctx, fileKey)
	if err != nil {
		return nil, 0, fileerr.FromStore(op, err)
	}

	grant, err := r.store.GetRoleGrant(ctx, memberID, file.ID)
	if metadata.IsNotFound(err) {
		return file, 0, nil
	}
	if err != nil {
		return nil, 0, fileerr.FromStore(op, err)
	}
	return file, grant.Roles, nil
}
