package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/access"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/stream"
	"github.com/marmos91/dittodrive/pkg/upload"
)

// Registry owns the backing stores, the engines built on them and the
// seeded root folders.
//
// It is built once at startup from configuration and handed to the server
// and adapters, which resolve everything they need through it.
//
// Example usage:
//
//	reg, _ := registry.New(badgerStore, s3Store, registry.Config{})
//	reg.AddFolder(ctx, &registry.FolderConfig{Key: key, Name: "shared"})
//
//	result, err := reg.Uploads().SubmitChunk(ctx, chunk)
type Registry struct {
	mu       sync.RWMutex
	metadata metadata.Store
	blobs    blob.Store
	access   *access.Resolver
	uploads  *upload.Manager
	streams  *stream.Server
	folders  map[string]*Folder
}

// Config tunes the engines the registry builds. Nil metrics select the
// engines' no-op implementations.
type Config struct {
	Upload        upload.Config
	Stream        stream.Config
	UploadMetrics upload.Metrics
	StreamMetrics stream.Metrics
}

// New creates a registry around the two stores and builds the access
// resolver, upload manager and stream server on top of them.
func New(metadataStore metadata.Store, blobStore blob.Store, config Config) (*Registry, error) {
	if metadataStore == nil {
		return nil, fmt.Errorf("cannot create registry with nil metadata store")
	}
	if blobStore == nil {
		return nil, fmt.Errorf("cannot create registry with nil blob store")
	}

	resolver := access.NewResolver(metadataStore)
	return &Registry{
		metadata: metadataStore,
		blobs:    blobStore,
		access:   resolver,
		uploads:  upload.NewManager(metadataStore, blobStore, resolver, config.Upload, config.UploadMetrics),
		streams:  stream.NewServer(metadataStore, blobStore, config.Stream, config.StreamMetrics),
		folders:  make(map[string]*Folder),
	}, nil
}

// Access returns the access resolver.
func (r *Registry) Access() *access.Resolver {
	return r.access
}

// Uploads returns the upload session manager.
func (r *Registry) Uploads() *upload.Manager {
	return r.uploads
}

// Streams returns the range stream server.
func (r *Registry) Streams() *stream.Server {
	return r.streams
}

// MetadataStore returns the metadata store.
func (r *Registry) MetadataStore() metadata.Store {
	return r.metadata
}

// BlobStore returns the blob store.
func (r *Registry) BlobStore() blob.Store {
	return r.blobs
}

// AddFolder ensures a root-level folder exists and carries the configured
// grants.
//
// This method:
//  1. Validates the key and name
//  2. Creates the folder with its grants, or reuses it when a previous
//     run already created it
//  3. Replaces the grants listed in config (others are left untouched)
//  4. Registers the folder in the registry
//
// Returns an error if the key is not a UUID, the name is invalid, the key
// belongs to a non-folder, or the folder was already added.
func (r *Registry) AddFolder(ctx context.Context, config *FolderConfig) error {
	u, err := uuid.Parse(config.Key)
	if err != nil {
		return fmt.Errorf("folder key %q is not a UUID: %w", config.Key, err)
	}
	// Routes look keys up in canonical form
	key := u.String()

	if err := metadata.ValidateName(config.Name); err != nil {
		return fmt.Errorf("folder %q: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.folders[key]; exists {
		return fmt.Errorf("folder %q already added", key)
	}

	grants := make([]metadata.RoleGrant, 0, len(config.Grants))
	for _, g := range config.Grants {
		grants = append(grants, metadata.RoleGrant{MemberID: g.MemberID, Roles: g.Roles})
	}

	file, err := r.metadata.GetFileByKey(ctx, key)
	switch {
	case metadata.IsNotFound(err):
		file, err = r.metadata.CreateFile(ctx, &metadata.File{
			Key:  key,
			Name: config.Name,
			Type: metadata.FileTypeFolder,
		}, grants...)
		if err != nil {
			return fmt.Errorf("failed to create folder %q: %w", key, err)
		}
		logger.Info("Created root folder %q (%s)", config.Name, key)

	case err != nil:
		return fmt.Errorf("failed to look up folder %q: %w", key, err)

	default:
		if !file.IsFolder() {
			return fmt.Errorf("key %q belongs to a %s, not a folder", key, file.Type)
		}
		for _, g := range grants {
			g.FileID = file.ID
			if err := r.metadata.PutRoleGrant(ctx, g); err != nil {
				return fmt.Errorf("failed to grant member %d on folder %q: %w", g.MemberID, key, err)
			}
		}
		logger.Debug("Root folder %q (%s) already present", file.Name, key)
	}

	r.folders[key] = &Folder{Key: file.Key, Name: file.Name, FileID: file.ID}
	return nil
}

// GetFolder returns a seeded folder by key.
func (r *Registry) GetFolder(key string) (*Folder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	folder, exists := r.folders[key]
	if !exists {
		return nil, fmt.Errorf("folder %q not found", key)
	}
	copied := *folder
	return &copied, nil
}

// ListFolders returns the seeded folders sorted by name.
func (r *Registry) ListFolders() []Folder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Folder, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CountFolders returns the number of seeded folders.
func (r *Registry) CountFolders() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.folders)
}

// Healthcheck checks both stores.
func (r *Registry) Healthcheck(ctx context.Context) error {
	if err := r.metadata.Healthcheck(ctx); err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	if err := r.blobs.Healthcheck(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	return nil
}

// Close closes both stores and returns every error encountered.
func (r *Registry) Close() error {
	var errs []error
	if err := r.metadata.Close(); err != nil {
		errs = append(errs, fmt.Errorf("metadata store: %w", err))
	}
	if err := r.blobs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("blob store: %w", err))
	}
	return errors.Join(errs...)
}
