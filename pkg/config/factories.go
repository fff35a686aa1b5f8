package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	blobfs "github.com/marmos91/dittodrive/pkg/store/blob/fs"
	blobmemory "github.com/marmos91/dittodrive/pkg/store/blob/memory"
	blobs3 "github.com/marmos91/dittodrive/pkg/store/blob/s3"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/badger"
	"github.com/marmos91/dittodrive/pkg/store/metadata/bolt"
	metadatamemory "github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/store/metadata/postgres"
	"github.com/mitchellh/mapstructure"
)

// S3Options is the blob.s3 section of the configuration.
type S3Options struct {
	// Endpoint overrides the AWS endpoint (MinIO, Localstack)
	Endpoint string `mapstructure:"endpoint"`

	Region string `mapstructure:"region"`
	Bucket string `mapstructure:"bucket"`

	// AccessKeyID and SecretAccessKey select static credentials; when empty
	// the default AWS credential chain is used
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	KeyPrefix      string `mapstructure:"key_prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	PartSize       int64  `mapstructure:"part_size"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// decodeOptions decodes a per-backend options map into its typed config.
// Durations may be given as strings ("30s").
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// CreateBlobStore creates the blob store selected by cfg.Type.
//
// s3Metrics is passed to the S3 store and ignored by the other backends;
// nil disables collection.
func CreateBlobStore(ctx context.Context, cfg *BlobConfig, s3Metrics blobs3.S3Metrics) (blob.Store, error) {
	logger.Debug("Creating blob store (type: %s)", cfg.Type)

	switch cfg.Type {
	case "memory":
		return blobmemory.NewMemoryBlobStore(), nil
	case "filesystem":
		return createFilesystemBlobStore(ctx, cfg.Filesystem)
	case "s3":
		return createS3BlobStore(ctx, cfg.S3, s3Metrics)
	default:
		return nil, fmt.Errorf("unknown blob store type: %q", cfg.Type)
	}
}

func createFilesystemBlobStore(ctx context.Context, options map[string]any) (blob.Store, error) {
	var fsCfg blobfs.FSBlobStoreConfig
	if err := decodeOptions(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("invalid filesystem config: %w", err)
	}
	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem blob store: path is required")
	}

	store, err := blobfs.NewFSBlobStore(ctx, fsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem blob store: %w", err)
	}
	return store, nil
}

func createS3BlobStore(ctx context.Context, options map[string]any, s3Metrics blobs3.S3Metrics) (blob.Store, error) {
	var opts S3Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("invalid S3 config: %w", err)
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 blob store: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 blob store: region is required")
	}

	client, err := NewS3Client(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := blobs3.NewS3BlobStore(ctx, blobs3.S3BlobStoreConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		PartSize:  opts.PartSize,
		Metrics:   s3Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 blob store: %w", err)
	}
	return store, nil
}

// NewS3Client builds an S3 client from the options. A custom endpoint is
// set as the client's BaseEndpoint.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	if opts.MaxRetries > 0 {
		loadOptions = append(loadOptions, awsConfig.WithRetryMaxAttempts(opts.MaxRetries))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}

// CreateMetadataStore creates the metadata store selected by cfg.Type.
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.Store, error) {
	logger.Debug("Creating metadata store (type: %s)", cfg.Type)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return metadatamemory.NewMemoryMetadataStore(), nil

	case "badger":
		var badgerCfg badger.BadgerMetadataStoreConfig
		if err := decodeOptions(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger config: %w", err)
		}
		store, err := badger.NewBadgerMetadataStore(ctx, badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger database: %w", err)
		}
		return store, nil

	case "bolt":
		var boltCfg bolt.BoltMetadataStoreConfig
		if err := decodeOptions(cfg.Bolt, &boltCfg); err != nil {
			return nil, fmt.Errorf("invalid bolt config: %w", err)
		}
		store, err := bolt.NewBoltMetadataStore(ctx, boltCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database: %w", err)
		}
		return store, nil

	case "postgres":
		var pgCfg postgres.PostgresMetadataStoreConfig
		if err := decodeOptions(cfg.Postgres, &pgCfg); err != nil {
			return nil, fmt.Errorf("invalid postgres config: %w", err)
		}
		store, err := postgres.NewPostgresMetadataStore(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}
