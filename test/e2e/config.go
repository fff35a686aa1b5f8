//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/stretchr/testify/require"
)

// MetadataStoreType selects the metadata backend of a run.
type MetadataStoreType string

const (
	MetadataMemory MetadataStoreType = "memory"
	MetadataBadger MetadataStoreType = "badger"
	MetadataBolt   MetadataStoreType = "bolt"
)

// BlobStoreType selects the blob backend of a run.
type BlobStoreType string

const (
	BlobMemory     BlobStoreType = "memory"
	BlobFilesystem BlobStoreType = "filesystem"
	BlobS3         BlobStoreType = "s3"
)

// TestConfig is one store combination the suite runs against.
type TestConfig struct {
	Name          string
	MetadataStore MetadataStoreType
	BlobStore     BlobStoreType
}

func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.MetadataStore, tc.BlobStore)
}

// Persistent reports whether both stores survive a restart.
func (tc *TestConfig) Persistent() bool {
	return tc.MetadataStore != MetadataMemory && tc.BlobStore != BlobMemory
}

// apply points cfg at this combination, keeping state under dir.
func (tc *TestConfig) apply(t *testing.T, cfg *config.Config, dir string) {
	t.Helper()

	cfg.Metadata.Type = string(tc.MetadataStore)
	switch tc.MetadataStore {
	case MetadataBadger:
		cfg.Metadata.Badger = map[string]any{"db_path": filepath.Join(dir, "badger")}
	case MetadataBolt:
		cfg.Metadata.Bolt = map[string]any{"path": filepath.Join(dir, "drive.db")}
	}

	cfg.Blob.Type = string(tc.BlobStore)
	switch tc.BlobStore {
	case BlobFilesystem:
		cfg.Blob.Filesystem = map[string]any{"path": filepath.Join(dir, "blobs")}
	case BlobS3:
		cfg.Blob.S3 = setupS3(t)
	}
}

// setupS3 creates a throwaway bucket on the endpoint named by
// DITTODRIVE_TEST_S3_ENDPOINT and returns the blob.s3 options for it.
func setupS3(t *testing.T) map[string]any {
	t.Helper()

	endpoint := os.Getenv("DITTODRIVE_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("DITTODRIVE_TEST_S3_ENDPOINT not set")
	}

	opts := config.S3Options{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		Bucket:          "dittodrive-e2e-" + uuid.NewString()[:8],
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	}

	ctx := context.Background()
	client, err := config.NewS3Client(ctx, opts)
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(opts.Bucket)})
	require.NoError(t, err)

	t.Cleanup(func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(opts.Bucket)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(opts.Bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(opts.Bucket)})
	})

	return map[string]any{
		"endpoint":          opts.Endpoint,
		"region":            opts.Region,
		"bucket":            opts.Bucket,
		"access_key_id":     opts.AccessKeyID,
		"secret_access_key": opts.SecretAccessKey,
		"force_path_style":  opts.ForcePathStyle,
	}
}

// AllConfigurations returns the combinations that need no external service.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory-memory", MetadataStore: MetadataMemory, BlobStore: BlobMemory},
		{Name: "memory-filesystem", MetadataStore: MetadataMemory, BlobStore: BlobFilesystem},
		{Name: "badger-filesystem", MetadataStore: MetadataBadger, BlobStore: BlobFilesystem},
		{Name: "bolt-filesystem", MetadataStore: MetadataBolt, BlobStore: BlobFilesystem},
	}
}

// S3Configurations returns combinations backed by an S3 endpoint
// (Localstack or MinIO).
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory-s3", MetadataStore: MetadataMemory, BlobStore: BlobS3},
		{Name: "badger-s3", MetadataStore: MetadataBadger, BlobStore: BlobS3},
	}
}
