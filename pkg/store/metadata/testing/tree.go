package testing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTreeTests executes parent/child structure tests.
func (suite *StoreTestSuite) RunTreeTests(t *testing.T) {
	t.Run("MoveFile", suite.testMoveFile)
	t.Run("MoveToRoot", suite.testMoveToRoot)
	t.Run("MoveRejectsCycles", suite.testMoveRejectsCycles)
	t.Run("MoveRejectsNonFolderTarget", suite.testMoveRejectsNonFolderTarget)
	t.Run("DeleteFile", suite.testDeleteFile)
	t.Run("DeleteNonEmptyFolder", suite.testDeleteNonEmptyFolder)
	t.Run("DeleteAfterMoveOut", suite.testDeleteAfterMoveOut)
}

func (suite *StoreTestSuite) testMoveFile(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	b := createFolder(t, store, "", "b")
	doc := createDocument(t, store, a.Key, "doc")

	require.NoError(t, store.UpdateFileParent(testContext(), doc.Key, b.Key))

	got, err := store.GetFileByKey(testContext(), doc.Key)
	require.NoError(t, err)
	assert.Equal(t, b.Key, got.ParentKey)

	// Moving to the current parent is a no-op
	require.NoError(t, store.UpdateFileParent(testContext(), doc.Key, b.Key))
}

func (suite *StoreTestSuite) testMoveToRoot(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	sub := createFolder(t, store, a.Key, "sub")

	require.NoError(t, store.UpdateFileParent(testContext(), sub.Key, ""))

	got, err := store.GetFileByKey(testContext(), sub.Key)
	require.NoError(t, err)
	assert.Empty(t, got.ParentKey)

	// a no longer has children
	_, err = store.DeleteFile(testContext(), a.Key)
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testMoveRejectsCycles(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	b := createFolder(t, store, a.Key, "b")
	c := createFolder(t, store, b.Key, "c")

	requireCode(t, metadata.ErrInvalidArgument, store.UpdateFileParent(testContext(), a.Key, a.Key))
	requireCode(t, metadata.ErrInvalidArgument, store.UpdateFileParent(testContext(), a.Key, c.Key))
	requireCode(t, metadata.ErrInvalidArgument, store.UpdateFileParent(testContext(), b.Key, c.Key))

	got, err := store.GetFileByKey(testContext(), a.Key)
	require.NoError(t, err)
	assert.Empty(t, got.ParentKey)
}

func (suite *StoreTestSuite) testMoveRejectsNonFolderTarget(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	doc := createDocument(t, store, a.Key, "doc")
	other := createDocument(t, store, a.Key, "other")

	requireCode(t, metadata.ErrInvalidArgument, store.UpdateFileParent(testContext(), doc.Key, other.Key))
	requireCode(t, metadata.ErrNotFound, store.UpdateFileParent(testContext(), doc.Key, uuid.NewString()))
	requireCode(t, metadata.ErrNotFound, store.UpdateFileParent(testContext(), uuid.NewString(), a.Key))
}

func (suite *StoreTestSuite) testDeleteFile(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	doc := createDocument(t, store, a.Key, "doc", metadata.RoleGrant{MemberID: 1, Roles: metadata.AllRoles})

	deleted, err := store.DeleteFile(testContext(), doc.Key)
	require.NoError(t, err)
	assert.Equal(t, doc.BlobRef, deleted.BlobRef)

	_, err = store.GetFileByKey(testContext(), doc.Key)
	requireCode(t, metadata.ErrNotFound, err)

	// Grants go with the file
	_, err = store.GetRoleGrant(testContext(), 1, doc.ID)
	requireCode(t, metadata.ErrNotFound, err)

	_, err = store.DeleteFile(testContext(), doc.Key)
	requireCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testDeleteNonEmptyFolder(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	createDocument(t, store, a.Key, "doc")

	_, err := store.DeleteFile(testContext(), a.Key)
	requireCode(t, metadata.ErrNotEmpty, err)

	_, err = store.GetFileByKey(testContext(), a.Key)
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testDeleteAfterMoveOut(t *testing.T) {
	store := suite.NewStore(t)
	a := createFolder(t, store, "", "a")
	b := createFolder(t, store, "", "b")
	doc := createDocument(t, store, a.Key, "doc")

	require.NoError(t, store.UpdateFileParent(testContext(), doc.Key, b.Key))

	_, err := store.DeleteFile(testContext(), a.Key)
	require.NoError(t, err)

	_, err = store.DeleteFile(testContext(), b.Key)
	requireCode(t, metadata.ErrNotEmpty, err)
}
