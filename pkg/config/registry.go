package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// InitializeRegistry builds a Registry around the given stores and seeds
// the bootstrap folders.
//
// Stores are created by the caller (see CreateMetadataStore and
// CreateBlobStore) so that they can be closed on a failed startup.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeRegistry(ctx, cfg, metaStore, blobStore, m)
func InitializeRegistry(
	ctx context.Context,
	cfg *Config,
	metadataStore metadata.Store,
	blobStore blob.Store,
	m *MetricsResult,
) (*registry.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	regConfig := registry.Config{
		Upload: cfg.Upload,
		Stream: cfg.Stream,
	}
	if m != nil {
		regConfig.UploadMetrics = m.Upload
		regConfig.StreamMetrics = m.Stream
	}

	reg, err := registry.New(metadataStore, blobStore, regConfig)
	if err != nil {
		return nil, err
	}

	if err := addFolders(ctx, reg, cfg.Bootstrap.Folders); err != nil {
		return nil, fmt.Errorf("failed to add bootstrap folders: %w", err)
	}
	logger.Debug("Registered %d bootstrap folder(s)", reg.CountFolders())

	return reg, nil
}

// addFolders converts the configured folders and adds them to the registry.
func addFolders(ctx context.Context, reg *registry.Registry, folders []FolderConfig) error {
	for _, folderCfg := range folders {
		folder, err := toRegistryFolder(folderCfg)
		if err != nil {
			return err
		}
		if err := reg.AddFolder(ctx, folder); err != nil {
			return fmt.Errorf("folder %q: %w", folderCfg.Name, err)
		}
		logger.Debug("Folder %q (%s) added with %d grant(s)", folder.Name, folder.Key, len(folder.Grants))
	}
	return nil
}

func toRegistryFolder(cfg FolderConfig) (*registry.FolderConfig, error) {
	folder := &registry.FolderConfig{Key: cfg.Key, Name: cfg.Name}
	for _, g := range cfg.Grants {
		roles, err := metadata.ParseRoleSet(g.Roles)
		if err != nil {
			return nil, fmt.Errorf("folder %q, member %d: %w", cfg.Name, g.MemberID, err)
		}
		folder.Grants = append(folder.Grants, registry.GrantConfig{MemberID: g.MemberID, Roles: roles})
	}
	return folder, nil
}
