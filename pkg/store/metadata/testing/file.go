package testing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFileTests executes record-level tests.
func (suite *StoreTestSuite) RunFileTests(t *testing.T) {
	t.Run("CreateAndGet", suite.testCreateAndGet)
	t.Run("GetNotFound", suite.testGetNotFound)
	t.Run("CreateDuplicateKey", suite.testCreateDuplicateKey)
	t.Run("CreateValidation", suite.testCreateValidation)
	t.Run("UpdateFileName", suite.testUpdateFileName)
	t.Run("SetVariant", suite.testSetVariant)
	t.Run("ListBlobRefs", suite.testListBlobRefs)
	t.Run("Healthcheck", suite.testHealthcheck)
}

func (suite *StoreTestSuite) testCreateAndGet(t *testing.T) {
	store := suite.NewStore(t)
	root := createFolder(t, store, "", "root")
	doc := createDocument(t, store, root.Key, "notes.txt")

	assert.NotZero(t, root.ID)
	assert.NotZero(t, doc.ID)
	assert.NotEqual(t, root.ID, doc.ID)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := store.GetFileByKey(testContext(), doc.Key)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "notes.txt", got.Name)
	assert.Equal(t, metadata.FileTypeDocument, got.Type)
	assert.Equal(t, root.Key, got.ParentKey)
	assert.Equal(t, doc.BlobRef, got.BlobRef)
	assert.Equal(t, doc.Size, got.Size)
}

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.GetFileByKey(testContext(), uuid.NewString())
	requireCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testCreateDuplicateKey(t *testing.T) {
	store := suite.NewStore(t)
	root := createFolder(t, store, "", "root")

	_, err := store.CreateFile(testContext(), &metadata.File{Key: root.Key, Name: "again", Type: metadata.FileTypeFolder})
	requireCode(t, metadata.ErrAlreadyExists, err)
}

func (suite *StoreTestSuite) testCreateValidation(test *testing.T) {
	test.Run("UnknownParent", func(t *testing.T) {
		store := suite.NewStore(t)
		_, err := store.CreateFile(testContext(), &metadata.File{
			Key: uuid.NewString(), Name: "orphan", Type: metadata.FileTypeFolder, ParentKey: uuid.NewString(),
		})
		requireCode(t, metadata.ErrNotFound, err)
	})

	test.Run("ParentNotFolder", func(t *testing.T) {
		store := suite.NewStore(t)
		doc := createDocument(t, store, "", "a.txt")
		_, err := store.CreateFile(testContext(), &metadata.File{
			Key: uuid.NewString(), Name: "child", Type: metadata.FileTypeFolder, ParentKey: doc.Key,
		})
		requireCode(t, metadata.ErrInvalidArgument, err)
	})

	test.Run("EmptyName", func(t *testing.T) {
		store := suite.NewStore(t)
		_, err := store.CreateFile(testContext(), &metadata.File{Key: uuid.NewString(), Type: metadata.FileTypeFolder})
		requireCode(t, metadata.ErrInvalidArgument, err)
	})

	test.Run("FolderWithContent", func(t *testing.T) {
		store := suite.NewStore(t)
		_, err := store.CreateFile(testContext(), &metadata.File{
			Key: uuid.NewString(), Name: "f", Type: metadata.FileTypeFolder, BlobRef: "blobs/x",
		})
		requireCode(t, metadata.ErrInvalidArgument, err)
	})
}

func (suite *StoreTestSuite) testUpdateFileName(t *testing.T) {
	store := suite.NewStore(t)
	doc := createDocument(t, store, "", "old.txt")

	require.NoError(t, store.UpdateFileName(testContext(), doc.Key, "new.txt"))

	got, err := store.GetFileByKey(testContext(), doc.Key)
	require.NoError(t, err)
	assert.Equal(t, "new.txt", got.Name)
	assert.Equal(t, doc.ID, got.ID)

	requireCode(t, metadata.ErrInvalidArgument, store.UpdateFileName(testContext(), doc.Key, ""))
	requireCode(t, metadata.ErrNotFound, store.UpdateFileName(testContext(), uuid.NewString(), "x"))
}

func (suite *StoreTestSuite) testSetVariant(t *testing.T) {
	store := suite.NewStore(t)
	root := createFolder(t, store, "", "root")
	doc := createDocument(t, store, root.Key, "clip.mp4")

	require.NoError(t, store.SetVariant(testContext(), doc.Key, "720p", "blobs/720"))

	got, err := store.GetFileByKey(testContext(), doc.Key)
	require.NoError(t, err)
	assert.Equal(t, metadata.BlobRef("blobs/720"), got.Variants["720p"])
	assert.Equal(t, doc.BlobRef, got.BlobRef)

	requireCode(t, metadata.ErrInvalidArgument, store.SetVariant(testContext(), root.Key, "720p", "blobs/y"))
	requireCode(t, metadata.ErrNotFound, store.SetVariant(testContext(), uuid.NewString(), "720p", "blobs/y"))
}

func (suite *StoreTestSuite) testListBlobRefs(t *testing.T) {
	store := suite.NewStore(t)
	root := createFolder(t, store, "", "root")
	a := createDocument(t, store, root.Key, "a")
	b := createDocument(t, store, root.Key, "b")
	require.NoError(t, store.SetVariant(testContext(), b.Key, "480p", "blobs/b-480"))

	refs, err := store.ListBlobRefs(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []metadata.BlobRef{a.BlobRef, b.BlobRef, "blobs/b-480"}, refs)
}

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	store := suite.NewStore(t)
	assert.NoError(t, store.Healthcheck(testContext()))
}
