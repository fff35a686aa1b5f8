package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	blobmemory "github.com/marmos91/dittodrive/pkg/store/blob/memory"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	metamemory "github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(metamemory.NewMemoryMetadataStore(), blobmemory.NewMemoryBlobStore(), Config{})
	require.NoError(t, err)
	return reg
}

func TestNewRejectsNilStores(t *testing.T) {
	_, err := New(nil, blobmemory.NewMemoryBlobStore(), Config{})
	assert.Error(t, err)

	_, err = New(metamemory.NewMemoryMetadataStore(), nil, Config{})
	assert.Error(t, err)
}

func TestAddFolder(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	key := uuid.NewString()

	err := reg.AddFolder(ctx, &FolderConfig{
		Key:    key,
		Name:   "shared",
		Grants: []GrantConfig{{MemberID: 7, Roles: metadata.NewRoleSet(metadata.RoleCreate, metadata.RoleRead)}},
	})
	require.NoError(t, err)

	folder, err := reg.GetFolder(key)
	require.NoError(t, err)
	assert.Equal(t, "shared", folder.Name)
	assert.NotZero(t, folder.FileID)

	file, err := reg.MetadataStore().GetFileByKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, file.IsFolder())

	grant, err := reg.MetadataStore().GetRoleGrant(ctx, 7, folder.FileID)
	require.NoError(t, err)
	assert.True(t, grant.Roles.Has(metadata.RoleCreate))
	assert.False(t, grant.Roles.Has(metadata.RoleDelete))

	assert.Error(t, reg.AddFolder(ctx, &FolderConfig{Key: key, Name: "shared"}), "duplicate add")
	assert.Equal(t, 1, reg.CountFolders())
}

func TestAddFolderExisting(t *testing.T) {
	ctx := context.Background()
	store := metamemory.NewMemoryMetadataStore()
	key := uuid.NewString()

	created, err := store.CreateFile(ctx, &metadata.File{Key: key, Name: "kept", Type: metadata.FileTypeFolder},
		metadata.RoleGrant{MemberID: 1, Roles: metadata.AllRoles})
	require.NoError(t, err)

	reg, err := New(store, blobmemory.NewMemoryBlobStore(), Config{})
	require.NoError(t, err)

	err = reg.AddFolder(ctx, &FolderConfig{
		Key:    key,
		Name:   "renamed-in-config",
		Grants: []GrantConfig{{MemberID: 2, Roles: metadata.NewRoleSet(metadata.RoleRead)}},
	})
	require.NoError(t, err)

	folder, err := reg.GetFolder(key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, folder.FileID)
	assert.Equal(t, "kept", folder.Name)

	_, err = store.GetRoleGrant(ctx, 1, created.ID)
	assert.NoError(t, err, "unlisted grants survive")
	grant, err := store.GetRoleGrant(ctx, 2, created.ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.NewRoleSet(metadata.RoleRead), grant.Roles)
}

func TestAddFolderCanonicalKey(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	key := uuid.NewString()

	require.NoError(t, reg.AddFolder(ctx, &FolderConfig{Key: "{" + strings.ToUpper(key) + "}", Name: "shared"}))

	_, err := reg.MetadataStore().GetFileByKey(ctx, key)
	require.NoError(t, err)
	_, err = reg.GetFolder(key)
	require.NoError(t, err)

	assert.Error(t, reg.AddFolder(ctx, &FolderConfig{Key: key, Name: "shared"}), "same folder in another form")
}

func TestAddFolderValidation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	assert.Error(t, reg.AddFolder(ctx, &FolderConfig{Key: "not-a-uuid", Name: "x"}))
	assert.Error(t, reg.AddFolder(ctx, &FolderConfig{Key: uuid.NewString(), Name: ""}))

	docKey := uuid.NewString()
	_, err := reg.MetadataStore().CreateFile(ctx, &metadata.File{
		Key: docKey, Name: "doc", Type: metadata.FileTypeDocument, BlobRef: "blobs/" + metadata.BlobRef(uuid.NewString()),
	})
	require.NoError(t, err)
	assert.Error(t, reg.AddFolder(ctx, &FolderConfig{Key: docKey, Name: "doc"}))

	_, err = reg.GetFolder(uuid.NewString())
	assert.Error(t, err)
}

func TestListFolders(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.AddFolder(ctx, &FolderConfig{Key: uuid.NewString(), Name: "b"}))
	require.NoError(t, reg.AddFolder(ctx, &FolderConfig{Key: uuid.NewString(), Name: "a"}))

	folders := reg.ListFolders()
	require.Len(t, folders, 2)
	assert.Equal(t, "a", folders[0].Name)
	assert.Equal(t, "b", folders[1].Name)
}

func TestEnginesShareStores(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	key := uuid.NewString()
	require.NoError(t, reg.AddFolder(ctx, &FolderConfig{
		Key: key, Name: "inbox",
		Grants: []GrantConfig{{MemberID: 3, Roles: metadata.AllRoles}},
	}))

	result, err := reg.Uploads().SubmitChunk(ctx, upload.Chunk{
		MemberID: 3, FolderKey: key, FileName: "a.txt", Index: 0, Total: 1, Payload: []byte("hello"),
	})
	require.NoError(t, err)
	require.True(t, result.Done)

	roles, err := reg.Access().Resolve(ctx, 3, result.FileKey)
	require.NoError(t, err)
	assert.Equal(t, metadata.AllRoles, roles)

	st, err := reg.Streams().OpenFullStream(ctx, result.FileKey)
	require.NoError(t, err)
	defer st.Body.Close()
	assert.Equal(t, int64(5), st.TotalSize)
}

func TestHealthcheckAndClose(t *testing.T) {
	reg := newTestRegistry(t)
	assert.NoError(t, reg.Healthcheck(context.Background()))
	assert.NoError(t, reg.Close())
}
