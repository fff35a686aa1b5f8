package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	ApplyDefaults(cfg)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestApplyDefaults_Stores(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "filesystem", cfg.Blob.Type)
	assert.NotEmpty(t, cfg.Blob.Filesystem["path"])
	assert.Equal(t, "us-east-1", cfg.Blob.S3["region"])

	assert.Equal(t, "badger", cfg.Metadata.Type)
	assert.NotEmpty(t, cfg.Metadata.Badger["db_path"])
	assert.NotEmpty(t, cfg.Metadata.Bolt["path"])
	assert.Equal(t, true, cfg.Metadata.Postgres["auto_migrate"])
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{ShutdownTimeout: 5 * time.Second},
		Blob: BlobConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"path": "/data/blobs"},
		},
		Metadata: MetadataConfig{
			Type:     "postgres",
			Postgres: map[string]any{"dsn": "postgres://x", "auto_migrate": false},
		},
	}
	cfg.Upload.SessionTTL = 10 * time.Minute
	cfg.Stream.ChunkWindow = 4096
	cfg.GC.MinAge = 3 * time.Hour
	cfg.Adapters.REST.Port = 9000
	cfg.Adapters.REST.Enabled = true

	ApplyDefaults(cfg)

	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/data/blobs", cfg.Blob.Filesystem["path"])
	assert.Equal(t, false, cfg.Metadata.Postgres["auto_migrate"])
	assert.Equal(t, 10*time.Minute, cfg.Upload.SessionTTL)
	assert.Equal(t, int64(4096), cfg.Stream.ChunkWindow)
	assert.Equal(t, 3*time.Hour, cfg.GC.MinAge)
	assert.Equal(t, 24*time.Hour, cfg.GC.Interval)
	assert.Equal(t, 9000, cfg.Adapters.REST.Port)
}

func TestApplyDefaults_REST(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	rest := cfg.Adapters.REST
	assert.True(t, rest.Enabled)
	assert.Equal(t, 8080, rest.Port)
	assert.Equal(t, 5*time.Minute, rest.ReadTimeout)
	assert.Equal(t, 30*time.Minute, rest.WriteTimeout)
	assert.Equal(t, 2*time.Minute, rest.IdleTimeout)
	assert.Equal(t, 30*time.Second, rest.ShutdownTimeout)
	assert.Zero(t, rest.RateLimit.RequestsPerSecond)
}

func TestApplyDefaults_RESTExplicitlyDisabled(t *testing.T) {
	cfg := &Config{}
	cfg.Adapters.REST.Port = 8081

	ApplyDefaults(cfg)

	assert.False(t, cfg.Adapters.REST.Enabled)
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 9090, cfg.Server.Metrics.Port)
	assert.False(t, cfg.Server.Metrics.Enabled)
}
