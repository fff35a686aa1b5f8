package testing

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLifecycleTests executes delete, listing and health tests.
func (suite *StoreTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("DeleteCommitted", suite.testDeleteCommitted)
	t.Run("DeleteStaged", suite.testDeleteStaged)
	t.Run("DeleteMissing", suite.testDeleteMissing)
	t.Run("List", suite.testList)
	t.Run("Healthcheck", suite.testHealthcheck)
}

func (suite *StoreTestSuite) testDeleteCommitted(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("gone soon"))

	require.NoError(t, store.Delete(testContext(), ref))

	_, err := store.Size(testContext(), ref)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
	_, err = store.OpenRange(testContext(), ref, 0, 1)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testDeleteStaged(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, ref, []byte("partial"), 0))

	require.NoError(t, store.Delete(ctx, ref))

	err = store.WriteAt(ctx, ref, []byte("x"), 0)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
	_, err = store.Commit(ctx, ref)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testDeleteMissing(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("twice"))

	require.NoError(t, store.Delete(testContext(), ref))
	assert.NoError(t, store.Delete(testContext(), ref))
	assert.NoError(t, store.Delete(testContext(), blob.NewRef()))
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	store := suite.NewStore(t)
	lister, ok := store.(blob.Lister)
	if !ok {
		t.Skip("store does not implement blob.Lister")
	}
	ctx := testContext()

	committed := writeAndCommit(t, store, []byte("committed"))
	staged, err := store.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, staged, []byte("abc"), 0))

	infos, err := lister.List(ctx)
	require.NoError(t, err)

	byRef := make(map[blob.Ref]blob.BlobInfo)
	for _, info := range infos {
		byRef[info.Ref] = info
	}
	require.Len(t, byRef, 2)

	assert.True(t, byRef[committed].Committed)
	assert.EqualValues(t, 9, byRef[committed].Size)
	assert.False(t, byRef[staged].Committed)
	assert.EqualValues(t, 3, byRef[staged].Size)
	assert.False(t, byRef[staged].ModTime.IsZero())
}

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	store := suite.NewStore(t)
	assert.NoError(t, store.Healthcheck(testContext()))
}
