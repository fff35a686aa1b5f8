package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

func putGrant(ctx context.Context, q dbtx, g metadata.RoleGrant) error {
	if g.Roles.Empty() {
		_, err := q.ExecContext(ctx, `DELETE FROM file_role_grants WHERE member_id = $1 AND file_id = $2`,
			g.MemberID, g.FileID)
		if err != nil {
			return fmt.Errorf("failed to delete grant: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO file_role_grants (member_id, file_id, roles)
		VALUES ($1, $2, $3)
		ON CONFLICT (member_id, file_id)
		DO UPDATE SET roles = EXCLUDED.roles`
	if _, err := q.ExecContext(ctx, query, g.MemberID, g.FileID, int16(g.Roles&metadata.AllRoles)); err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) GetRoleGrant(ctx context.Context, memberID, fileID int64) (*metadata.RoleGrant, error) {
	var roles int16
	err := s.db.QueryRowContext(ctx,
		`SELECT roles FROM file_role_grants WHERE member_id = $1 AND file_id = $2`, memberID, fileID).Scan(&roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "role grant not found"}
	}
	if err != nil {
		return nil, storeErr("get role grant", "", fmt.Errorf("failed to select grant: %w", err))
	}
	return &metadata.RoleGrant{MemberID: memberID, FileID: fileID, Roles: metadata.RoleSet(roles)}, nil
}

// PutRoleGrant relies on the file_id foreign key to reject unknown files.
func (s *PostgresMetadataStore) PutRoleGrant(ctx context.Context, grant metadata.RoleGrant) error {
	return storeErr("put role grant", "", putGrant(ctx, s.db, grant))
}
