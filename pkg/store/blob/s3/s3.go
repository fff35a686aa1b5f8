// Package s3 implements blob storage on any S3-compatible service.
//
// Object layout under the configured key prefix:
//
//	blobs/<uuid>                         committed blob
//	blobs/<uuid>.parts/staged            marker, present while staged
//	blobs/<uuid>.parts/<offset>          one object per WriteAt call
//
// Offsets are zero-padded to 20 digits so a lexical listing returns the
// parts in offset order. Commit stitches the parts into the final object,
// with a single PutObject for small blobs and a multipart upload otherwise,
// then removes the staging objects.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittodrive/pkg/store/blob"
)

const (
	partsSuffix = ".parts/"
	markerName  = "staged"

	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024

	// deleteBatchSize is the DeleteObjects limit
	deleteBatchSize = 1000
)

// Client is the subset of *s3.Client the store uses.
type Client interface {
	s3.ListObjectsV2APIClient

	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3BlobStoreConfig contains configuration for the S3 blob store.
type S3BlobStoreConfig struct {
	// Client is the configured S3 client
	Client Client

	// Bucket must already exist
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "dittodrive/"
	KeyPrefix string

	// PartSize is the multipart part size used by Commit (default: 10MB).
	// Must be between 5MB and 5GB. Blobs up to one part use PutObject.
	PartSize int64

	// Metrics is optional; nil disables collection
	Metrics S3Metrics
}

// S3BlobStore implements blob.Store and blob.Lister on S3.
//
// Thread Safety:
// The store holds no mutable state. Concurrent writes to the same ref must
// be serialized by the caller, as with every backend.
type S3BlobStore struct {
	client    Client
	bucket    string
	keyPrefix string
	partSize  int64
	metrics   S3Metrics
}

// NewS3BlobStore validates the configuration and verifies bucket access.
// The bucket is not created.
func NewS3BlobStore(ctx context.Context, cfg S3BlobStoreConfig) (*S3BlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3BlobStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		metrics:   metrics,
	}, nil
}

func (s *S3BlobStore) objectKey(ref blob.Ref) string {
	return s.keyPrefix + string(ref)
}

func (s *S3BlobStore) partsPrefix(ref blob.Ref) string {
	return s.objectKey(ref) + partsSuffix
}

func (s *S3BlobStore) markerKey(ref blob.Ref) string {
	return s.partsPrefix(ref) + markerName
}

func (s *S3BlobStore) partKey(ref blob.Ref, offset int64) string {
	return fmt.Sprintf("%s%020d", s.partsPrefix(ref), offset)
}

// parsePartName returns the offset encoded in a part object name.
func parsePartName(name string) (int64, bool) {
	if len(name) != 20 {
		return 0, false
	}
	off, err := strconv.ParseInt(name, 10, 64)
	if err != nil || off < 0 {
		return 0, false
	}
	return off, true
}

// splitKey classifies an object key under the prefix. For staging objects
// it returns the part name after the ".parts/" separator.
func (s *S3BlobStore) splitKey(key string) (ref blob.Ref, part string, staged bool, ok bool) {
	rel, found := strings.CutPrefix(key, s.keyPrefix)
	if !found {
		return "", "", false, false
	}
	if base, name, isPart := strings.Cut(rel, partsSuffix); isPart {
		ref = blob.Ref(base)
		return ref, name, true, blob.ValidRef(ref)
	}
	ref = blob.Ref(rel)
	return ref, "", false, blob.ValidRef(ref)
}

// isNotFound reports whether err is a missing key or object. HeadObject has
// no body, so some services only send the bare status code.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// headSize returns the size of an object, with found=false when missing.
func (s *S3BlobStore) headSize(ctx context.Context, key string) (size int64, found bool, err error) {
	start := time.Now()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
			return 0, false, nil
		}
		s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		return 0, false, unavailable("head object", err)
	}
	s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
	return aws.ToInt64(out.ContentLength), true, nil
}

// unavailable keeps context errors and marks anything else as a backend
// failure.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, blob.ErrUnavailable, err)
}

func (s *S3BlobStore) Healthcheck(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	s.metrics.ObserveOperation("HeadBucket", time.Since(start), err)
	if err != nil {
		return unavailable("healthcheck", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *S3BlobStore) Close() error {
	return nil
}

var (
	_ blob.Store  = (*S3BlobStore)(nil)
	_ blob.Lister = (*S3BlobStore)(nil)
)
