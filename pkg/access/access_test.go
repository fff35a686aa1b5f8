package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner    int64 = 1
	editor   int64 = 2
	stranger int64 = 3
)

type fixture struct {
	store    *memory.MemoryMetadataStore
	resolver *Resolver
	folder   *metadata.File
	dest     *metadata.File
	doc      *metadata.File
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryMetadataStore()

	create := func(f *metadata.File, grants ...metadata.RoleGrant) *metadata.File {
		created, err := store.CreateFile(ctx, f, grants...)
		require.NoError(t, err)
		return created
	}

	folder := create(&metadata.File{Key: uuid.NewString(), Name: "src", Type: metadata.FileTypeFolder},
		metadata.RoleGrant{MemberID: owner, Roles: metadata.AllRoles},
		metadata.RoleGrant{MemberID: editor, Roles: metadata.NewRoleSet(metadata.RoleUpdate)})
	dest := create(&metadata.File{Key: uuid.NewString(), Name: "dst", Type: metadata.FileTypeFolder},
		metadata.RoleGrant{MemberID: owner, Roles: metadata.AllRoles})
	doc := create(&metadata.File{
		Key:       uuid.NewString(),
		Name:      "clip.mp4",
		Type:      metadata.FileTypeVideo,
		ParentKey: folder.Key,
		BlobRef:   metadata.BlobRef("blobs/" + uuid.NewString()),
	},
		metadata.RoleGrant{MemberID: owner, Roles: metadata.AllRoles},
		metadata.RoleGrant{MemberID: editor, Roles: metadata.NewRoleSet(metadata.RoleUpdate)})

	return &fixture{store: store, resolver: NewResolver(store), folder: folder, dest: dest, doc: doc}
}

func TestResolve(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	roles, err := fx.resolver.Resolve(ctx, owner, fx.doc.Key)
	require.NoError(t, err)
	assert.Equal(t, metadata.AllRoles, roles)

	roles, err = fx.resolver.Resolve(ctx, editor, fx.doc.Key)
	require.NoError(t, err)
	assert.Equal(t, metadata.NewRoleSet(metadata.RoleUpdate), roles)

	roles, err = fx.resolver.Resolve(ctx, stranger, fx.doc.Key)
	require.NoError(t, err)
	assert.True(t, roles.Empty())

	_, err = fx.resolver.Resolve(ctx, owner, uuid.NewString())
	assert.True(t, fileerr.Is(err, fileerr.NotFound))
}

func TestResolve_NoInheritance(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// owner holds everything on dest, but a child without its own row is closed
	child, err := fx.store.CreateFile(ctx, &metadata.File{
		Key:       uuid.NewString(),
		Name:      "inner.txt",
		Type:      metadata.FileTypeDocument,
		ParentKey: fx.dest.Key,
		BlobRef:   metadata.BlobRef("blobs/" + uuid.NewString()),
	})
	require.NoError(t, err)

	roles, err := fx.resolver.Resolve(ctx, owner, child.Key)
	require.NoError(t, err)
	assert.True(t, roles.Empty())
}

func TestAuthorize(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		member int64
		role   metadata.Role
		want   bool
	}{
		{"OwnerDelete", owner, metadata.RoleDelete, true},
		{"EditorUpdate", editor, metadata.RoleUpdate, true},
		{"EditorDelete", editor, metadata.RoleDelete, false},
		{"EditorRead", editor, metadata.RoleRead, false},
		{"StrangerRead", stranger, metadata.RoleRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := fx.resolver.Authorize(ctx, tt.member, fx.doc.Key, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestRequire(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, fx.resolver.Require(ctx, editor, fx.doc.Key, metadata.RoleUpdate))

	err := fx.resolver.Require(ctx, editor, fx.doc.Key, metadata.RoleDelete)
	assert.True(t, fileerr.Is(err, fileerr.Forbidden))

	err = fx.resolver.Require(ctx, stranger, uuid.NewString(), metadata.RoleRead)
	assert.True(t, fileerr.Is(err, fileerr.NotFound))

	file, err := fx.resolver.RequireFile(ctx, owner, fx.doc.Key, metadata.RoleRead)
	require.NoError(t, err)
	assert.Equal(t, fx.doc.ID, file.ID)
}

func TestAuthorizeMove(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// owner: update on both
	assert.NoError(t, fx.resolver.AuthorizeMove(ctx, owner, fx.doc.Key, fx.dest.Key))

	// editor: update on the file but nothing on the destination
	err := fx.resolver.AuthorizeMove(ctx, editor, fx.doc.Key, fx.dest.Key)
	assert.True(t, fileerr.Is(err, fileerr.Forbidden))

	// editor: update on the destination only
	require.NoError(t, fx.store.PutRoleGrant(ctx, metadata.RoleGrant{
		MemberID: editor, FileID: fx.dest.ID, Roles: metadata.NewRoleSet(metadata.RoleUpdate),
	}))
	require.NoError(t, fx.store.PutRoleGrant(ctx, metadata.RoleGrant{
		MemberID: editor, FileID: fx.doc.ID, Roles: metadata.NewRoleSet(metadata.RoleRead),
	}))
	err = fx.resolver.AuthorizeMove(ctx, editor, fx.doc.Key, fx.dest.Key)
	assert.True(t, fileerr.Is(err, fileerr.Forbidden))

	err = fx.resolver.AuthorizeMove(ctx, owner, fx.doc.Key, uuid.NewString())
	assert.True(t, fileerr.Is(err, fileerr.NotFound))
}

type failingStore struct {
	metadata.Store
}

func (failingStore) GetFileByKey(ctx context.Context, key string) (*metadata.File, error) {
	return nil, metadata.NewIOError("get file", context.DeadlineExceeded)
}

func TestResolve_StorageError(t *testing.T) {
	resolver := NewResolver(failingStore{})

	_, err := resolver.Resolve(context.Background(), owner, uuid.NewString())
	assert.True(t, fileerr.Is(err, fileerr.StorageError))
}
