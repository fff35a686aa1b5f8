package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

type grantKey struct {
	memberID int64
	fileID   int64
}

// MemoryMetadataStore implements metadata.Store with in-process maps.
//
// It is suitable for tests and ephemeral servers; nothing survives a
// restart.
//
// Storage Model:
//   - files: key -> record (the primary storage)
//   - byID: numeric ID -> key
//   - children: parent key -> set of child keys ("" holds root-level items)
//   - grants: (member, file) -> role set
//   - grantsByFile: file ID -> members holding a grant, for cascade deletes
//
// Thread Safety:
// A single RWMutex protects every map. Returned records are clones.
type MemoryMetadataStore struct {
	mu sync.RWMutex

	files        map[string]*metadata.File
	byID         map[int64]string
	children     map[string]map[string]struct{}
	grants       map[grantKey]metadata.RoleSet
	grantsByFile map[int64]map[int64]struct{}

	nextID int64
	closed bool

	// now is replaceable in tests
	now func() time.Time
}

// NewMemoryMetadataStore creates an empty store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		files:        make(map[string]*metadata.File),
		byID:         make(map[int64]string),
		children:     make(map[string]map[string]struct{}),
		grants:       make(map[grantKey]metadata.RoleSet),
		grantsByFile: make(map[int64]map[int64]struct{}),
		now:          time.Now,
	}
}

func (s *MemoryMetadataStore) GetFileByKey(ctx context.Context, key string) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[key]
	if !ok {
		return nil, metadata.NewNotFoundError(key, "file")
	}
	return f.Clone(), nil
}

func (s *MemoryMetadataStore) GetRoleGrant(ctx context.Context, memberID, fileID int64) (*metadata.RoleGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	roles, ok := s.grants[grantKey{memberID, fileID}]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "role grant not found"}
	}
	return &metadata.RoleGrant{MemberID: memberID, FileID: fileID, Roles: roles}, nil
}

func (s *MemoryMetadataStore) CreateFile(ctx context.Context, file *metadata.File, grants ...metadata.RoleGrant) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := metadata.PrepareNew(file, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[f.Key]; exists {
		return nil, metadata.NewAlreadyExistsError(f.Key)
	}
	if f.ParentKey != "" {
		parent, ok := s.files[f.ParentKey]
		if !ok {
			return nil, metadata.NewNotFoundError(f.ParentKey, "parent folder")
		}
		if !parent.IsFolder() {
			return nil, metadata.NewInvalidArgumentError(f.ParentKey, "parent is not a folder")
		}
	}

	s.nextID++
	f.ID = s.nextID
	s.files[f.Key] = f
	s.byID[f.ID] = f.Key
	s.addChild(f.ParentKey, f.Key)

	for _, g := range grants {
		g.FileID = f.ID
		s.putGrant(g)
	}

	return f.Clone(), nil
}

func (s *MemoryMetadataStore) UpdateFileParent(ctx context.Context, key, parentKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[key]
	if !ok {
		return metadata.NewNotFoundError(key, "file")
	}
	if err := metadata.CheckMove(key, parentKey, s.lookupLocked); err != nil {
		return err
	}
	if f.ParentKey == parentKey {
		return nil
	}

	s.removeChild(f.ParentKey, key)
	s.addChild(parentKey, key)
	f.ParentKey = parentKey
	f.UpdatedAt = s.now()
	return nil
}

func (s *MemoryMetadataStore) UpdateFileName(ctx context.Context, key, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := metadata.ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[key]
	if !ok {
		return metadata.NewNotFoundError(key, "file")
	}
	f.Name = name
	f.UpdatedAt = s.now()
	return nil
}

func (s *MemoryMetadataStore) DeleteFile(ctx context.Context, key string) (*metadata.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[key]
	if !ok {
		return nil, metadata.NewNotFoundError(key, "file")
	}
	if len(s.children[key]) > 0 {
		return nil, metadata.NewNotEmptyError(key)
	}

	delete(s.files, key)
	delete(s.byID, f.ID)
	delete(s.children, key)
	s.removeChild(f.ParentKey, key)

	for memberID := range s.grantsByFile[f.ID] {
		delete(s.grants, grantKey{memberID, f.ID})
	}
	delete(s.grantsByFile, f.ID)

	return f, nil
}

func (s *MemoryMetadataStore) PutRoleGrant(ctx context.Context, grant metadata.RoleGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fileIDExists(grant.FileID) {
		return metadata.NewNotFoundError("", "file")
	}
	s.putGrant(grant)
	return nil
}

func (s *MemoryMetadataStore) SetVariant(ctx context.Context, key, resolution string, ref metadata.BlobRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[key]
	if !ok {
		return metadata.NewNotFoundError(key, "file")
	}
	if err := metadata.ValidateVariant(f, resolution, ref); err != nil {
		return err
	}
	if f.Variants == nil {
		f.Variants = make(map[string]metadata.BlobRef)
	}
	f.Variants[resolution] = ref
	f.UpdatedAt = s.now()
	return nil
}

func (s *MemoryMetadataStore) ListBlobRefs(ctx context.Context) ([]metadata.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]metadata.BlobRef, 0, len(s.files))
	for _, f := range s.files {
		refs = append(refs, f.BlobRefs()...)
	}
	return refs, nil
}

func (s *MemoryMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return metadata.NewIOError("healthcheck", errClosed)
	}
	return nil
}

func (s *MemoryMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ============================================================================
// Helpers (caller holds s.mu)
// ============================================================================

func (s *MemoryMetadataStore) lookupLocked(key string) (*metadata.File, error) {
	f, ok := s.files[key]
	if !ok {
		return nil, metadata.NewNotFoundError(key, "file")
	}
	return f, nil
}

func (s *MemoryMetadataStore) addChild(parentKey, key string) {
	set, ok := s.children[parentKey]
	if !ok {
		set = make(map[string]struct{})
		s.children[parentKey] = set
	}
	set[key] = struct{}{}
}

func (s *MemoryMetadataStore) removeChild(parentKey, key string) {
	set := s.children[parentKey]
	delete(set, key)
	if len(set) == 0 {
		delete(s.children, parentKey)
	}
}

func (s *MemoryMetadataStore) putGrant(g metadata.RoleGrant) {
	k := grantKey{g.MemberID, g.FileID}
	if g.Roles.Empty() {
		delete(s.grants, k)
		if members := s.grantsByFile[g.FileID]; members != nil {
			delete(members, g.MemberID)
			if len(members) == 0 {
				delete(s.grantsByFile, g.FileID)
			}
		}
		return
	}

	s.grants[k] = g.Roles & metadata.AllRoles
	members, ok := s.grantsByFile[g.FileID]
	if !ok {
		members = make(map[int64]struct{})
		s.grantsByFile[g.FileID] = members
	}
	members[g.MemberID] = struct{}{}
}

func (s *MemoryMetadataStore) fileIDExists(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

var _ metadata.Store = (*MemoryMetadataStore)(nil)
