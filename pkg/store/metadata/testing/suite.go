package testing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is the contract test suite for metadata.Store
// implementations. It exercises the interface, not backend internals, so
// every backend (memory, badger, bolt) runs the same cases.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.Store {
//	            return mystore.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. Cleanup is the
	// factory's responsibility (t.Cleanup).
	NewStore func(t *testing.T) metadata.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("FileOperations", suite.RunFileTests)
	t.Run("TreeOperations", suite.RunTreeTests)
	t.Run("GrantOperations", suite.RunGrantTests)
}

func testContext() context.Context {
	return context.Background()
}

func createFolder(t *testing.T, store metadata.Store, parentKey, name string) *metadata.File {
	t.Helper()
	f, err := store.CreateFile(testContext(), &metadata.File{
		Key:       uuid.NewString(),
		Name:      name,
		Type:      metadata.FileTypeFolder,
		ParentKey: parentKey,
	})
	require.NoError(t, err)
	return f
}

func createDocument(t *testing.T, store metadata.Store, parentKey, name string, grants ...metadata.RoleGrant) *metadata.File {
	t.Helper()
	f, err := store.CreateFile(testContext(), &metadata.File{
		Key:       uuid.NewString(),
		Name:      name,
		Type:      metadata.FileTypeDocument,
		ParentKey: parentKey,
		Size:      int64(len(name)),
		BlobRef:   metadata.BlobRef("blobs/" + uuid.NewString()),
	}, grants...)
	require.NoError(t, err)
	return f
}

func requireCode(t *testing.T, code metadata.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	var se *metadata.StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, code, se.Code, "unexpected error: %v", err)
}
