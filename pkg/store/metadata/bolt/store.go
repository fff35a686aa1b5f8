package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	bbolt "go.etcd.io/bbolt"
)

// Buckets. Keys mirror the badger schema without the prefixes:
//
//	files     <fileKey>                      -> File (JSON)
//	ids       <fileID hex>                   -> fileKey
//	children  <parentKey>:<childKey>         -> empty
//	grants    <fileID hex>:<memberID hex>    -> RoleSet (1 byte)
var (
	filesBucket    = []byte("files")
	idsBucket      = []byte("ids")
	childrenBucket = []byte("children")
	grantsBucket   = []byte("grants")
)

// BoltMetadataStoreConfig configures the bbolt-backed store.
type BoltMetadataStoreConfig struct {
	// Path is the database file; its directory is created if missing
	Path string `mapstructure:"path"`

	// OpenTimeout bounds the wait for the file lock held by another process
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// BoltMetadataStore implements metadata.Store on a single bbolt file.
//
// bbolt allows one writer at a time, so every mutation already sees a
// consistent tree without extra locking.
type BoltMetadataStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltMetadataStore opens the database file and creates missing buckets.
func NewBoltMetadataStore(ctx context.Context, config BoltMetadataStoreConfig) (*BoltMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := config.OpenTimeout
	if timeout == 0 {
		timeout = time.Second
	}

	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create bolt directory: %w", err)
		}
	}

	db, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", config.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{filesBucket, idsBucket, childrenBucket, grantsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	logger.Debug("Bolt metadata store opened at %s", config.Path)

	return &BoltMetadataStore{db: db, now: time.Now}, nil
}

func hexID(id int64) []byte {
	return []byte(fmt.Sprintf("%016x", uint64(id)))
}

func childKey(parentKey, key string) []byte {
	return []byte(parentKey + ":" + key)
}

func grantKey(fileID, memberID int64) []byte {
	return append(append(hexID(fileID), ':'), hexID(memberID)...)
}

func getFile(tx *bbolt.Tx, key string) (*metadata.File, error) {
	data := tx.Bucket(filesBucket).Get([]byte(key))
	if data == nil {
		return nil, metadata.NewNotFoundError(key, "file")
	}
	var f metadata.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func putFile(tx *bbolt.Tx, f *metadata.File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return tx.Bucket(filesBucket).Put([]byte(f.Key), data)
}

// scanPrefix returns copies of every key in bucket starting with prefix.
func scanPrefix(b *bbolt.Bucket, prefix []byte, limit int) [][]byte {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys
}

func (s *BoltMetadataStore) GetFileByKey(ctx context.Context, key string) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var f *metadata.File
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		f, err = getFile(tx, key)
		return err
	})
	if err != nil {
		return nil, storeErr("get file", err)
	}
	return f, nil
}

func (s *BoltMetadataStore) GetRoleGrant(ctx context.Context, memberID, fileID int64) (*metadata.RoleGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grant := &metadata.RoleGrant{MemberID: memberID, FileID: fileID}
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(grantsBucket).Get(grantKey(fileID, memberID))
		if val == nil {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "role grant not found"}
		}
		if len(val) != 1 {
			return errors.New("malformed role grant")
		}
		grant.Roles = metadata.RoleSet(val[0])
		return nil
	})
	if err != nil {
		return nil, storeErr("get role grant", err)
	}
	return grant, nil
}

func (s *BoltMetadataStore) CreateFile(ctx context.Context, file *metadata.File, grants ...metadata.RoleGrant) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := metadata.PrepareNew(file, s.now())
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		files := tx.Bucket(filesBucket)
		if files.Get([]byte(f.Key)) != nil {
			return metadata.NewAlreadyExistsError(f.Key)
		}
		if f.ParentKey != "" {
			parent, err := getFile(tx, f.ParentKey)
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

		seq, err := files.NextSequence()
		if err != nil {
			return err
		}
		f.ID = int64(seq)

		if err := putFile(tx, f); err != nil {
			return err
		}
		if err := tx.Bucket(idsBucket).Put(hexID(f.ID), []byte(f.Key)); err != nil {
			return err
		}
		if err := tx.Bucket(childrenBucket).Put(childKey(f.ParentKey, f.Key), []byte{}); err != nil {
			return err
		}
		for _, g := range grants {
			g.FileID = f.ID
			if err := putGrant(tx, g); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("create file", err)
	}
	return f, nil
}

func (s *BoltMetadataStore) UpdateFileParent(ctx context.Context, key, parentKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		f, err := getFile(tx, key)
		if err != nil {
			return err
		}
		lookup := func(k string) (*metadata.File, error) { return getFile(tx, k) }
		if err := metadata.CheckMove(key, parentKey, lookup); err != nil {
			return err
		}
		if f.ParentKey == parentKey {
			return nil
		}

		children := tx.Bucket(childrenBucket)
		if err := children.Delete(childKey(f.ParentKey, key)); err != nil {
			return err
		}
		if err := children.Put(childKey(parentKey, key), []byte{}); err != nil {
			return err
		}
		f.ParentKey = parentKey
		f.UpdatedAt = s.now()
		return putFile(tx, f)
	})
	return storeErr("update parent", err)
}

func (s *BoltMetadataStore) UpdateFileName(ctx context.Context, key, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := metadata.ValidateName(name); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		f, err := getFile(tx, key)
		if err != nil {
			return err
		}
		f.Name = name
		f.UpdatedAt = s.now()
		return putFile(tx, f)
	})
	return storeErr("update name", err)
}

func (s *BoltMetadataStore) DeleteFile(ctx context.Context, key string) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var deleted *metadata.File
	err := s.db.Update(func(tx *bbolt.Tx) error {
		f, err := getFile(tx, key)
		if err != nil {
			return err
		}

		children := tx.Bucket(childrenBucket)
		if len(scanPrefix(children, childKey(key, ""), 1)) > 0 {
			return metadata.NewNotEmptyError(key)
		}

		grants := tx.Bucket(grantsBucket)
		for _, k := range scanPrefix(grants, append(hexID(f.ID), ':'), 0) {
			if err := grants.Delete(k); err != nil {
				return err
			}
		}
		if err := children.Delete(childKey(f.ParentKey, key)); err != nil {
			return err
		}
		if err := tx.Bucket(idsBucket).Delete(hexID(f.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(filesBucket).Delete([]byte(key)); err != nil {
			return err
		}
		deleted = f
		return nil
	})
	if err != nil {
		return nil, storeErr("delete file", err)
	}
	return deleted, nil
}

func putGrant(tx *bbolt.Tx, g metadata.RoleGrant) error {
	b := tx.Bucket(grantsBucket)
	k := grantKey(g.FileID, g.MemberID)
	if g.Roles.Empty() {
		return b.Delete(k)
	}
	return b.Put(k, []byte{byte(g.Roles & metadata.AllRoles)})
}

func (s *BoltMetadataStore) PutRoleGrant(ctx context.Context, grant metadata.RoleGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(idsBucket).Get(hexID(grant.FileID)) == nil {
			return metadata.NewNotFoundError("", "file")
		}
		return putGrant(tx, grant)
	})
	return storeErr("put role grant", err)
}

func (s *BoltMetadataStore) SetVariant(ctx context.Context, key, resolution string, ref metadata.BlobRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		f, err := getFile(tx, key)
		if err != nil {
			return err
		}
		if err := metadata.ValidateVariant(f, resolution, ref); err != nil {
			return err
		}
		if f.Variants == nil {
			f.Variants = make(map[string]metadata.BlobRef)
		}
		f.Variants[resolution] = ref
		f.UpdatedAt = s.now()
		return putFile(tx, f)
	})
	return storeErr("set variant", err)
}

func (s *BoltMetadataStore) ListBlobRefs(ctx context.Context) ([]metadata.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var refs []metadata.BlobRef
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var f metadata.File
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			refs = append(refs, f.BlobRefs()...)
			return nil
		})
	})
	if err != nil {
		return nil, storeErr("list blob refs", err)
	}
	return refs, nil
}

func (s *BoltMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(filesBucket) == nil {
			return errors.New("files bucket missing")
		}
		return nil
	})
	if err != nil {
		return metadata.NewIOError("healthcheck", err)
	}
	return nil
}

func (s *BoltMetadataStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database: %w", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *metadata.StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return metadata.NewIOError(op, err)
}

var _ metadata.Store = (*BoltMetadataStore)(nil)
