package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	blobtesting "github.com/marmos91/dittodrive/pkg/store/blob/testing"
	"github.com/stretchr/testify/require"
)

// setupLocalstack connects to Localstack (or any S3-compatible endpoint)
// and creates a throwaway bucket removed at cleanup.
//
// Run with:
//
//	docker run --rm -p 4566:4566 localstack/localstack
//	DITTODRIVE_TEST_S3_ENDPOINT=http://localhost:4566 go test ./pkg/store/blob/s3/...
func setupLocalstack(t *testing.T) (*s3.Client, string) {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("DITTODRIVE_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("DITTODRIVE_TEST_S3_ENDPOINT not set")
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucket := "dittodrive-" + uuid.NewString()[:8]
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	t.Cleanup(func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})

	return client, bucket
}

func TestS3BlobStore_Integration(t *testing.T) {
	client, bucket := setupLocalstack(t)

	suite := &blobtesting.StoreTestSuite{
		NewStore: func(t *testing.T) blob.Store {
			store, err := NewS3BlobStore(context.Background(), S3BlobStoreConfig{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: uuid.NewString() + "/",
			})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}
