package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.REST.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	rest := cfg.Adapters.REST
	if rest.Port < 0 || rest.Port > 65535 {
		return fmt.Errorf("adapters.rest.port: %d is not a valid port", rest.Port)
	}
	if rest.ReadTimeout < 0 || rest.WriteTimeout < 0 || rest.IdleTimeout < 0 || rest.ShutdownTimeout < 0 {
		return fmt.Errorf("adapters.rest: timeouts must be >= 0")
	}
	if rest.RateLimit.RequestsPerSecond < 0 || rest.RateLimit.Burst < 0 {
		return fmt.Errorf("adapters.rest.rate_limit: values must be >= 0")
	}

	if cfg.Upload.MaxChunkBytes < 0 || cfg.Upload.MaxFieldBytes < 0 || cfg.Upload.MaxFileBytes < 0 || cfg.Upload.MaxChunks < 0 {
		return fmt.Errorf("upload: size limits must be >= 0")
	}
	if cfg.Upload.SessionTTL < 0 || cfg.Upload.SweepInterval < 0 {
		return fmt.Errorf("upload: durations must be >= 0")
	}
	if cfg.Stream.ChunkWindow < 0 {
		return fmt.Errorf("stream.chunk_window: must be >= 0")
	}
	if cfg.GC.Interval < 0 || cfg.GC.MinAge < 0 || cfg.GC.BatchSize < 0 {
		return fmt.Errorf("gc: interval, min_age and batch_size must be >= 0")
	}

	if cfg.Metadata.Type == "postgres" {
		if dsn, _ := cfg.Metadata.Postgres["dsn"].(string); dsn == "" {
			return fmt.Errorf("metadata.postgres.dsn: required when metadata.type is postgres")
		}
	}
	if cfg.Blob.Type == "s3" {
		if bucket, _ := cfg.Blob.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("blob.s3.bucket: required when blob.type is s3")
		}
	}

	keys := make(map[string]bool, len(cfg.Bootstrap.Folders))
	for i, folder := range cfg.Bootstrap.Folders {
		if keys[folder.Key] {
			return fmt.Errorf("bootstrap.folders[%d]: duplicate key %q", i, folder.Key)
		}
		keys[folder.Key] = true

		members := make(map[int64]bool, len(folder.Grants))
		for _, grant := range folder.Grants {
			if members[grant.MemberID] {
				return fmt.Errorf("bootstrap.folders[%d]: duplicate grant for member %d", i, grant.MemberID)
			}
			members[grant.MemberID] = true
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
