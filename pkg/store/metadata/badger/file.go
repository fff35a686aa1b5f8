package badger

import (
	"context"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

func getFile(txn *badger.Txn, key string) (*metadata.File, error) {
	item, err := txn.Get(keyFile(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError(key, "file")
	}
	if err != nil {
		return nil, err
	}

	var f metadata.File
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &f)
	}); err != nil {
		return nil, err
	}
	return &f, nil
}

func putFile(txn *badger.Txn, f *metadata.File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return txn.Set(keyFile(f.Key), data)
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	return it.Valid()
}

func (s *BadgerMetadataStore) GetFileByKey(ctx context.Context, key string) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var f *metadata.File
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		f, err = getFile(txn, key)
		return err
	})
	if err != nil {
		return nil, storeErr("get file", err)
	}
	return f, nil
}

func (s *BadgerMetadataStore) CreateFile(ctx context.Context, file *metadata.File, grants ...metadata.RoleGrant) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := metadata.PrepareNew(file, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyFile(f.Key)); err == nil {
			return metadata.NewAlreadyExistsError(f.Key)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if f.ParentKey != "" {
			parent, err := getFile(txn, f.ParentKey)
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

		id, err := s.nextID()
		if err != nil {
			return err
		}
		f.ID = id

		if err := putFile(txn, f); err != nil {
			return err
		}
		if err := txn.Set(keyID(f.ID), []byte(f.Key)); err != nil {
			return err
		}
		if err := txn.Set(keyChild(f.ParentKey, f.Key), nil); err != nil {
			return err
		}

		for _, g := range grants {
			g.FileID = f.ID
			if err := putGrant(txn, g); err != nil {
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

func (s *BadgerMetadataStore) UpdateFileParent(ctx context.Context, key, parentKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFile(txn, key)
		if err != nil {
			return err
		}

		lookup := func(k string) (*metadata.File, error) { return getFile(txn, k) }
		if err := metadata.CheckMove(key, parentKey, lookup); err != nil {
			return err
		}
		if f.ParentKey == parentKey {
			return nil
		}

		if err := txn.Delete(keyChild(f.ParentKey, key)); err != nil {
			return err
		}
		if err := txn.Set(keyChild(parentKey, key), nil); err != nil {
			return err
		}
		f.ParentKey = parentKey
		f.UpdatedAt = s.now()
		return putFile(txn, f)
	})
	return storeErr("update parent", err)
}

func (s *BadgerMetadataStore) UpdateFileName(ctx context.Context, key, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := metadata.ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFile(txn, key)
		if err != nil {
			return err
		}
		f.Name = name
		f.UpdatedAt = s.now()
		return putFile(txn, f)
	})
	return storeErr("update name", err)
}

func (s *BadgerMetadataStore) DeleteFile(ctx context.Context, key string) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted *metadata.File
	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFile(txn, key)
		if err != nil {
			return err
		}
		if hasPrefix(txn, keyChildPrefix(key)) {
			return metadata.NewNotEmptyError(key)
		}

		if err := deleteGrants(txn, f.ID); err != nil {
			return err
		}
		for _, k := range [][]byte{keyFile(key), keyID(f.ID), keyChild(f.ParentKey, key)} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		deleted = f
		return nil
	})
	if err != nil {
		return nil, storeErr("delete file", err)
	}
	return deleted, nil
}

func (s *BadgerMetadataStore) SetVariant(ctx context.Context, key, resolution string, ref metadata.BlobRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFile(txn, key)
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
		return putFile(txn, f)
	})
	return storeErr("set variant", err)
}

func (s *BadgerMetadataStore) ListBlobRefs(ctx context.Context) ([]metadata.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var refs []metadata.BlobRef
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFile)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var f metadata.File
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return err
			}
			refs = append(refs, f.BlobRefs()...)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("list blob refs", err)
	}
	return refs, nil
}
