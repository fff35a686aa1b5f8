package badger

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// putGrant writes one role byte, or deletes the row for an empty set.
func putGrant(txn *badger.Txn, g metadata.RoleGrant) error {
	k := keyGrant(g.FileID, g.MemberID)
	if g.Roles.Empty() {
		return txn.Delete(k)
	}
	return txn.Set(k, []byte{byte(g.Roles & metadata.AllRoles)})
}

func deleteGrants(txn *badger.Txn, fileID int64) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyGrantPrefix(fileID)
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerMetadataStore) GetRoleGrant(ctx context.Context, memberID, fileID int64) (*metadata.RoleGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grant := &metadata.RoleGrant{MemberID: memberID, FileID: fileID}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyGrant(fileID, memberID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "role grant not found"}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 1 {
				return errors.New("malformed role grant")
			}
			grant.Roles = metadata.RoleSet(val[0])
			return nil
		})
	})
	if err != nil {
		return nil, storeErr("get role grant", err)
	}
	return grant, nil
}

func (s *BadgerMetadataStore) PutRoleGrant(ctx context.Context, grant metadata.RoleGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyID(grant.FileID)); errors.Is(err, badger.ErrKeyNotFound) {
			return metadata.NewNotFoundError("", "file")
		} else if err != nil {
			return err
		}
		return putGrant(txn, grant)
	})
	return storeErr("put role grant", err)
}
