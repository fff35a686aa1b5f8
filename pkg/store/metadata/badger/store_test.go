package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	storetesting "github.com/marmos91/dittodrive/pkg/store/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dir string) *BadgerMetadataStore {
	t.Helper()
	store, err := NewBadgerMetadataStore(context.Background(), BadgerMetadataStoreConfig{
		DBPath:           dir,
		BlockCacheSizeMB: 8,
		IndexCacheSizeMB: 8,
	})
	require.NoError(t, err)
	return store
}

func TestBadgerMetadataStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			store := newTestStore(t, filepath.Join(t.TempDir(), "meta"))
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
	suite.Run(t)
}

func TestBadgerMetadataStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "meta")

	store := newTestStore(t, dir)
	f, err := store.CreateFile(ctx, &metadata.File{Key: "k1", Name: "root", Type: metadata.FileTypeFolder},
		metadata.RoleGrant{MemberID: 5, Roles: metadata.AllRoles})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store = newTestStore(t, dir)
	defer func() { _ = store.Close() }()

	got, err := store.GetFileByKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	g, err := store.GetRoleGrant(ctx, 5, f.ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.AllRoles, g.Roles)

	// IDs keep increasing after a restart
	next, err := store.CreateFile(ctx, &metadata.File{Key: "k2", Name: "other", Type: metadata.FileTypeFolder})
	require.NoError(t, err)
	assert.Greater(t, next.ID, f.ID)
}
