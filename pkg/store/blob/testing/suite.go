package testing

import (
	"context"
	"io"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is the contract test suite for blob.Store implementations.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &blobtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) blob.Store {
//	            return myblob.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test
	NewStore func(t *testing.T) blob.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("ReadOperations", suite.RunReadTests)
	t.Run("Lifecycle", suite.RunLifecycleTests)
}

func testContext() context.Context {
	return context.Background()
}

// writeAndCommit allocates a blob, writes data at offset 0 and commits it.
func writeAndCommit(t *testing.T, store blob.Store, data []byte) blob.Ref {
	t.Helper()
	ctx := testContext()

	ref, err := store.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, ref, data, 0))
	size, err := store.Commit(ctx, ref)
	require.NoError(t, err)
	require.EqualValues(t, len(data), size)
	return ref
}

func readRange(t *testing.T, store blob.Store, ref blob.Ref, start, end int64) []byte {
	t.Helper()
	r, err := store.OpenRange(testContext(), ref, start, end)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}
