package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

const selectFile = `SELECT id, key, name, type, parent_key, size, blob_ref, variants, created_at, updated_at
		FROM files WHERE key = $1`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func getFile(ctx context.Context, q dbtx, key string) (*metadata.File, error) {
	var (
		f         metadata.File
		fileType  string
		parentKey sql.NullString
		blobRef   sql.NullString
		variants  []byte
	)
	err := q.QueryRowContext(ctx, selectFile, key).Scan(
		&f.ID, &f.Key, &f.Name, &fileType, &parentKey, &f.Size, &blobRef, &variants, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NewNotFoundError(key, "file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}

	f.Type = metadata.FileType(fileType)
	f.ParentKey = parentKey.String
	f.BlobRef = metadata.BlobRef(blobRef.String)
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &f.Variants); err != nil {
			return nil, fmt.Errorf("failed to decode variants: %w", err)
		}
		if len(f.Variants) == 0 {
			f.Variants = nil
		}
	}
	return &f, nil
}

func (s *PostgresMetadataStore) GetFileByKey(ctx context.Context, key string) (*metadata.File, error) {
	f, err := getFile(ctx, s.db, key)
	if err != nil {
		return nil, storeErr("get file", key, err)
	}
	return f, nil
}

func (s *PostgresMetadataStore) CreateFile(ctx context.Context, file *metadata.File, grants ...metadata.RoleGrant) (*metadata.File, error) {
	f, err := metadata.PrepareNew(file, s.now())
	if err != nil {
		return nil, err
	}

	variants, err := json.Marshal(f.Variants)
	if err != nil {
		return nil, err
	}
	if f.Variants == nil {
		variants = []byte("{}")
	}

	err = withTx(ctx, s.db, func(tx dbtx) error {
		if err := lockTree(ctx, tx); err != nil {
			return err
		}

		if f.ParentKey != "" {
			parent, err := getFile(ctx, tx, f.ParentKey)
			if metadata.IsNotFound(err) {
				return metadata.NewNotFoundError(f.ParentKey, "parent folder")
			}
			if err != nil {
				return err
			}
			if !parent.IsFolder() {
				return metadata.NewInvalidArgumentError(f.ParentKey, "parent is not a folder")
			}
		}

		query := `
		INSERT INTO files (key, name, type, parent_key, size, blob_ref, variants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO NOTHING
		RETURNING id`
		err := tx.QueryRowContext(ctx, query,
			f.Key, f.Name, string(f.Type), nullString(f.ParentKey), f.Size, nullString(string(f.BlobRef)),
			variants, f.CreatedAt, f.UpdatedAt).Scan(&f.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return metadata.NewAlreadyExistsError(f.Key)
		}
		if err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}

		for _, g := range grants {
			g.FileID = f.ID
			if err := putGrant(ctx, tx, g); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("create file", f.Key, err)
	}
	return f, nil
}

func (s *PostgresMetadataStore) UpdateFileParent(ctx context.Context, key, parentKey string) error {
	err := withTx(ctx, s.db, func(tx dbtx) error {
		if err := lockTree(ctx, tx); err != nil {
			return err
		}

		f, err := getFile(ctx, tx, key)
		if err != nil {
			return err
		}
		lookup := func(k string) (*metadata.File, error) { return getFile(ctx, tx, k) }
		if err := metadata.CheckMove(key, parentKey, lookup); err != nil {
			return err
		}
		if f.ParentKey == parentKey {
			return nil
		}

		_, err = tx.ExecContext(ctx, `UPDATE files SET parent_key = $1, updated_at = $2 WHERE key = $3`,
			nullString(parentKey), s.now(), key)
		if err != nil {
			return fmt.Errorf("failed to update parent: %w", err)
		}
		return nil
	})
	return storeErr("update parent", key, err)
}

func (s *PostgresMetadataStore) UpdateFileName(ctx context.Context, key, name string) error {
	if err := metadata.ValidateName(name); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE files SET name = $1, updated_at = $2 WHERE key = $3`, name, s.now(), key)
	if err != nil {
		return storeErr("update name", key, fmt.Errorf("failed to update name: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update name", key, fmt.Errorf("rows affected error: %w", err))
	}
	if n == 0 {
		return metadata.NewNotFoundError(key, "file")
	}
	return nil
}

func (s *PostgresMetadataStore) DeleteFile(ctx context.Context, key string) (*metadata.File, error) {
	var deleted *metadata.File
	err := withTx(ctx, s.db, func(tx dbtx) error {
		if err := lockTree(ctx, tx); err != nil {
			return err
		}

		f, err := getFile(ctx, tx, key)
		if err != nil {
			return err
		}

		var hasChildren bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM files WHERE parent_key = $1)`, key).
			Scan(&hasChildren); err != nil {
			return fmt.Errorf("failed to count children: %w", err)
		}
		if hasChildren {
			return metadata.NewNotEmptyError(key)
		}

		// Grants go with the row (ON DELETE CASCADE)
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE key = $1`, key); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
		deleted = f
		return nil
	})
	if err != nil {
		return nil, storeErr("delete file", key, err)
	}
	return deleted, nil
}

func (s *PostgresMetadataStore) SetVariant(ctx context.Context, key, resolution string, ref metadata.BlobRef) error {
	err := withTx(ctx, s.db, func(tx dbtx) error {
		f, err := getFile(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := metadata.ValidateVariant(f, resolution, ref); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE files SET variants = variants || jsonb_build_object($1::text, $2::text), updated_at = $3 WHERE key = $4`,
			resolution, string(ref), s.now(), key)
		if err != nil {
			return fmt.Errorf("failed to set variant: %w", err)
		}
		return nil
	})
	return storeErr("set variant", key, err)
}

func (s *PostgresMetadataStore) ListBlobRefs(ctx context.Context) ([]metadata.BlobRef, error) {
	query := `
		SELECT blob_ref FROM files WHERE blob_ref IS NOT NULL
		UNION ALL
		SELECT v.value FROM files, jsonb_each_text(files.variants) AS v`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list blob refs", "", fmt.Errorf("failed to select blob refs: %w", err))
	}
	defer rows.Close()

	var refs []metadata.BlobRef
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, storeErr("list blob refs", "", err)
		}
		refs = append(refs, metadata.BlobRef(ref))
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list blob refs", "", err)
	}
	return refs, nil
}
