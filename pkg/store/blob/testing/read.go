package testing

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunReadTests executes ranged read tests.
func (suite *StoreTestSuite) RunReadTests(t *testing.T) {
	t.Run("Ranges", suite.testRanges)
	t.Run("RangeOutOfBounds", suite.testRangeOutOfBounds)
	t.Run("ReadStaged", suite.testReadStaged)
	t.Run("ReadUnknown", suite.testReadUnknown)
	t.Run("ConcurrentReaders", suite.testConcurrentReaders)
}

func (suite *StoreTestSuite) testRanges(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("0123456789"))

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"Full", 0, 9, "0123456789"},
		{"Prefix", 0, 3, "0123"},
		{"Middle", 3, 6, "3456"},
		{"Suffix", 7, 9, "789"},
		{"SingleByte", 5, 5, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(readRange(t, store, ref, tt.start, tt.end)))
		})
	}

	size, err := store.Size(testContext(), ref)
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)
}

func (suite *StoreTestSuite) testRangeOutOfBounds(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("0123456789"))

	for _, r := range [][2]int64{{0, 10}, {10, 12}, {-1, 3}, {5, 4}} {
		_, err := store.OpenRange(testContext(), ref, r[0], r[1])
		assert.ErrorIs(t, err, blob.ErrInvalidOffset, "range %v", r)
	}
}

func (suite *StoreTestSuite) testReadStaged(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, ref, []byte("abc"), 0))

	_, err = store.OpenRange(ctx, ref, 0, 2)
	assert.ErrorIs(t, err, blob.ErrNotCommitted)

	_, err = store.Size(ctx, ref)
	assert.ErrorIs(t, err, blob.ErrNotCommitted)
}

func (suite *StoreTestSuite) testReadUnknown(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.OpenRange(testContext(), blob.NewRef(), 0, 0)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	_, err = store.Size(testContext(), blob.NewRef())
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func (suite *StoreTestSuite) testConcurrentReaders(t *testing.T) {
	store := suite.NewStore(t)
	ref := writeAndCommit(t, store, []byte("shared content"))

	r1, err := store.OpenRange(testContext(), ref, 0, 5)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := store.OpenRange(testContext(), ref, 7, 13)
	require.NoError(t, err)
	defer r2.Close()

	b2 := make([]byte, 7)
	_, err = r2.Read(b2[:3])
	require.NoError(t, err)
	b1 := make([]byte, 6)
	_, err = r1.Read(b1)
	require.NoError(t, err)

	assert.Equal(t, "shared", string(b1))
	assert.Equal(t, "con", string(b2[:3]))
}
