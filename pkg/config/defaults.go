package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/adapter/rest"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/stream"
	"github.com/marmos91/dittodrive/pkg/upload"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are left to the store constructors
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBlobDefaults(&cfg.Blob)
	applyMetadataDefaults(&cfg.Metadata)
	applyUploadDefaults(&cfg.Upload)
	applyStreamDefaults(&cfg.Stream)
	applyGCDefaults(&cfg.GC)
	applyRESTDefaults(&cfg.Adapters.REST)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyBlobDefaults sets blob store defaults. Path defaults are filled for
// every backend so a generated config file documents them.
func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(os.TempDir(), "dittodrive-blobs")
	}

	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(os.TempDir(), "dittodrive-metadata")
	}

	if cfg.Bolt == nil {
		cfg.Bolt = make(map[string]any)
	}
	if _, ok := cfg.Bolt["path"]; !ok {
		cfg.Bolt["path"] = filepath.Join(os.TempDir(), "dittodrive.db")
	}

	if cfg.Postgres == nil {
		cfg.Postgres = make(map[string]any)
	}
	if _, ok := cfg.Postgres["auto_migrate"]; !ok {
		cfg.Postgres["auto_migrate"] = true
	}
}

func applyUploadDefaults(cfg *upload.Config) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = rest.DefaultMaxChunkBytes
	}
	if cfg.MaxFieldBytes == 0 {
		cfg.MaxFieldBytes = rest.DefaultMaxFieldBytes
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = upload.DefaultMaxFileBytes
	}
	if cfg.MaxChunks == 0 {
		cfg.MaxChunks = upload.DefaultMaxChunks
	}
}

func applyStreamDefaults(cfg *stream.Config) {
	if cfg.ChunkWindow == 0 {
		cfg.ChunkWindow = stream.DefaultWindow
	}
}

// applyGCDefaults fills intervals only; Enabled stays as configured.
func applyGCDefaults(cfg *gc.Config) {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.MinAge == 0 {
		cfg.MinAge = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
}

// applyRESTDefaults sets REST adapter defaults.
//
// The adapter is enabled when it looks unconfigured (no port given), so a
// config loaded without a file still serves. An explicit enabled: false
// with a port stays disabled.
func applyRESTDefaults(cfg *rest.RESTConfig) {
	if !cfg.Enabled && cfg.Port == 0 {
		cfg.Enabled = true
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// Used to generate sample configuration files and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
