package testing

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunGrantTests executes role grant tests.
func (suite *StoreTestSuite) RunGrantTests(t *testing.T) {
	t.Run("GrantOnCreate", suite.testGrantOnCreate)
	t.Run("PutAndReplace", suite.testPutAndReplace)
	t.Run("EmptySetDeletes", suite.testEmptySetDeletes)
	t.Run("GrantsArePerFile", suite.testGrantsArePerFile)
	t.Run("UnknownFile", suite.testGrantUnknownFile)
}

func (suite *StoreTestSuite) testGrantOnCreate(t *testing.T) {
	store := suite.NewStore(t)
	doc := createDocument(t, store, "", "doc", metadata.RoleGrant{MemberID: 42, Roles: metadata.AllRoles})

	g, err := store.GetRoleGrant(testContext(), 42, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, g.FileID)
	assert.Equal(t, metadata.AllRoles, g.Roles)

	_, err = store.GetRoleGrant(testContext(), 43, doc.ID)
	requireCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testPutAndReplace(t *testing.T) {
	store := suite.NewStore(t)
	doc := createDocument(t, store, "", "doc")

	require.NoError(t, store.PutRoleGrant(testContext(), metadata.RoleGrant{
		MemberID: 7, FileID: doc.ID, Roles: metadata.NewRoleSet(metadata.RoleRead, metadata.RoleUpdate),
	}))
	g, err := store.GetRoleGrant(testContext(), 7, doc.ID)
	require.NoError(t, err)
	assert.True(t, g.Roles.Has(metadata.RoleUpdate))
	assert.False(t, g.Roles.Has(metadata.RoleDelete))

	require.NoError(t, store.PutRoleGrant(testContext(), metadata.RoleGrant{
		MemberID: 7, FileID: doc.ID, Roles: metadata.NewRoleSet(metadata.RoleDelete),
	}))
	g, err = store.GetRoleGrant(testContext(), 7, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.NewRoleSet(metadata.RoleDelete), g.Roles)
}

func (suite *StoreTestSuite) testEmptySetDeletes(t *testing.T) {
	store := suite.NewStore(t)
	doc := createDocument(t, store, "", "doc", metadata.RoleGrant{MemberID: 7, Roles: metadata.AllRoles})

	require.NoError(t, store.PutRoleGrant(testContext(), metadata.RoleGrant{MemberID: 7, FileID: doc.ID}))

	_, err := store.GetRoleGrant(testContext(), 7, doc.ID)
	requireCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testGrantsArePerFile(t *testing.T) {
	store := suite.NewStore(t)
	folder := createFolder(t, store, "", "folder")
	require.NoError(t, store.PutRoleGrant(testContext(), metadata.RoleGrant{
		MemberID: 7, FileID: folder.ID, Roles: metadata.AllRoles,
	}))
	doc := createDocument(t, store, folder.Key, "doc")

	// Nothing is inherited from the parent
	_, err := store.GetRoleGrant(testContext(), 7, doc.ID)
	requireCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testGrantUnknownFile(t *testing.T) {
	store := suite.NewStore(t)

	err := store.PutRoleGrant(testContext(), metadata.RoleGrant{MemberID: 1, FileID: 999, Roles: metadata.AllRoles})
	requireCode(t, metadata.ErrNotFound, err)
}
