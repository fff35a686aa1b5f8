package testing

import (
	"bytes"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests executes staging and commit tests.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("SequentialWrites", suite.testSequentialWrites)
	t.Run("OutOfOrderWrites", suite.testOutOfOrderWrites)
	t.Run("RewriteSameOffset", suite.testRewriteSameOffset)
	t.Run("SparseGap", suite.testSparseGap)
	t.Run("EmptyBlob", suite.testEmptyBlob)
	t.Run("CommitIdempotent", suite.testCommitIdempotent)
	t.Run("CommitUnknown", suite.testCommitUnknown)
	t.Run("WriteAfterCommit", suite.testWriteAfterCommit)
	t.Run("WriteUnknown", suite.testWriteUnknown)
	t.Run("NegativeOffset", suite.testNegativeOffset)
}

func (suite *StoreTestSuite) testSequentialWrites(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)
	assert.True(t, blob.ValidRef(ref))

	require.NoError(t, store.WriteAt(ctx, ref, []byte("hello "), 0))
	require.NoError(t, store.WriteAt(ctx, ref, []byte("world"), 6))

	size, err := store.Commit(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)
	assert.Equal(t, "hello world", string(readRange(t, store, ref, 0, 10)))
}

func (suite *StoreTestSuite) testOutOfOrderWrites(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)

	// Chunks of 4 arriving as 2, 0, 1
	require.NoError(t, store.WriteAt(ctx, ref, []byte("ij"), 8))
	require.NoError(t, store.WriteAt(ctx, ref, []byte("abcd"), 0))
	require.NoError(t, store.WriteAt(ctx, ref, []byte("efgh"), 4))

	size, err := store.Commit(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)
	assert.Equal(t, "abcdefghij", string(readRange(t, store, ref, 0, 9)))
}

func (suite *StoreTestSuite) testRewriteSameOffset(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, ref, []byte("abcd"), 0))
	require.NoError(t, store.WriteAt(ctx, ref, []byte("abcd"), 0))

	size, err := store.Commit(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)
	assert.Equal(t, "abcd", string(readRange(t, store, ref, 0, 3)))
}

func (suite *StoreTestSuite) testSparseGap(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, ref, []byte("ab"), 4))

	size, err := store.Commit(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)

	want := append(bytes.Repeat([]byte{0}, 4), 'a', 'b')
	assert.Equal(t, want, readRange(t, store, ref, 0, 5))
}

func (suite *StoreTestSuite) testEmptyBlob(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)

	size, err := store.Commit(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, size)

	size, err = store.Size(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = store.OpenRange(ctx, ref, 0, 0)
	assert.ErrorIs(t, err, blob.ErrInvalidOffset)
}

func (suite *StoreTestSuite) testCommitIdempotent(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("payload"))

	size, err := store.Commit(testContext(), ref)
	require.NoError(t, err)
	assert.EqualValues(t, 7, size)
	assert.Equal(t, "payload", string(readRange(t, store, ref, 0, 6)))
}

func (suite *StoreTestSuite) testCommitUnknown(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Commit(testContext(), blob.NewRef())
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testWriteAfterCommit(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("final"))

	err := store.WriteAt(testContext(), ref, []byte("x"), 0)
	assert.ErrorIs(t, err, blob.ErrAlreadyCommitted)
	assert.Equal(t, "final", string(readRange(t, store, ref, 0, 4)))
}

func (suite *StoreTestSuite) testWriteUnknown(t *testing.T) {
	store := suite.NewStore(t)

	err := store.WriteAt(testContext(), blob.NewRef(), []byte("x"), 0)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	err = store.WriteAt(testContext(), blob.Ref("blobs/../../etc/passwd"), []byte("x"), 0)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testNegativeOffset(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)

	err = store.WriteAt(ctx, ref, []byte("x"), -1)
	assert.ErrorIs(t, err, blob.ErrInvalidOffset)
}
