package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/adapter/rest"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/stream"
	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// DITTODRIVE_LOGGING_LEVEL=DEBUG.
const EnvPrefix = "DITTODRIVE"

// Config represents the complete DittoDrive configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Blob and
// Metadata sections carry one map per backend and only the map matching the
// selected type is decoded, with mapstructure, into that backend's config.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Blob selects and configures the blob store
	Blob BlobConfig `mapstructure:"blob"`

	// Metadata selects and configures the metadata store
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Upload tunes the upload session manager and its sweeper
	Upload upload.Config `mapstructure:"upload"`

	// Stream tunes range streaming
	Stream stream.Config `mapstructure:"stream"`

	// GC configures the orphan blob collector
	GC gc.Config `mapstructure:"gc"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Bootstrap seeds root folders at startup
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls metrics collection and the /metrics server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port for the metrics HTTP server (default: 9090)
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// BlobConfig specifies blob store configuration.
type BlobConfig struct {
	// Type specifies which blob store implementation to use
	// Valid values: memory, filesystem, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem s3"`

	// Filesystem is decoded into fs.FSBlobStoreConfig when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// S3 is decoded into S3Options when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// MetadataConfig specifies metadata store configuration.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger, bolt, postgres
	Type string `mapstructure:"type" validate:"required,oneof=memory badger bolt postgres"`

	Badger   map[string]any `mapstructure:"badger"`
	Bolt     map[string]any `mapstructure:"bolt"`
	Postgres map[string]any `mapstructure:"postgres"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// REST uses rest.RESTConfig directly to avoid duplication
	REST rest.RESTConfig `mapstructure:"rest"`
}

// BootstrapConfig lists root folders created or updated at startup.
type BootstrapConfig struct {
	Folders []FolderConfig `mapstructure:"folders" validate:"dive"`
}

// FolderConfig seeds one root folder and the grants on it.
type FolderConfig struct {
	// Key is the folder's UUID; clients address the folder by it
	Key string `mapstructure:"key" validate:"required,uuid"`

	Name string `mapstructure:"name" validate:"required,max=255"`

	Grants []GrantConfig `mapstructure:"grants" validate:"dive"`
}

// GrantConfig gives a member a set of roles on a bootstrap folder.
type GrantConfig struct {
	MemberID int64 `mapstructure:"member_id" validate:"gt=0"`

	// Roles lists role names: create, read, update, delete
	Roles []string `mapstructure:"roles" validate:"required,min=1,dive,oneof=create read update delete"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location; a missing file is not
// an error and yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment overrides and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so the
	// scalar keys are registered up front. Their defaults stay zero and are
	// filled by ApplyDefaults.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// envKeys are the settings overridable from the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"blob.type",
	"metadata.type",
	"upload.session_ttl",
	"upload.sweep_interval",
	"upload.max_chunk_bytes",
	"upload.max_field_bytes",
	"upload.max_file_bytes",
	"upload.max_chunks",
	"stream.chunk_window",
	"gc.enabled",
	"gc.interval",
	"gc.min_age",
	"gc.dry_run",
	"adapters.rest.enabled",
	"adapters.rest.port",
	"adapters.rest.jwt_secret",
	"adapters.rest.rate_limit.requests_per_second",
	"adapters.rest.rate_limit.burst",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dittodrive, ~/.config/dittodrive,
// or "." when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittodrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
