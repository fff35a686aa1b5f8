package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/blob"
)

// Allocate writes the staging marker for a fresh ref.
func (s *S3BlobStore) Allocate(ctx context.Context) (blob.Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := blob.NewRef()
	if err := s.put(ctx, s.markerKey(ref), nil); err != nil {
		return "", err
	}
	return ref, nil
}

// WriteAt stores data as its own part object. Rewriting the same offset
// replaces the part, so a retried chunk is harmless.
func (s *S3BlobStore) WriteAt(ctx context.Context, ref blob.Ref, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !blob.ValidRef(ref) {
		return fmt.Errorf("write %s: %w", ref, blob.ErrBlobNotFound)
	}
	if offset < 0 {
		return fmt.Errorf("write %s at %d: %w", ref, offset, blob.ErrInvalidOffset)
	}

	if err := s.requireStaged(ctx, ref, "write"); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := s.put(ctx, s.partKey(ref, offset), data); err != nil {
		return err
	}
	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

// requireStaged checks the marker, telling a committed ref apart from an
// unknown one when it is absent.
func (s *S3BlobStore) requireStaged(ctx context.Context, ref blob.Ref, op string) error {
	_, staged, err := s.headSize(ctx, s.markerKey(ref))
	if err != nil {
		return err
	}
	if staged {
		return nil
	}

	_, committed, err := s.headSize(ctx, s.objectKey(ref))
	if err != nil {
		return err
	}
	if committed {
		return fmt.Errorf("%s %s: %w", op, ref, blob.ErrAlreadyCommitted)
	}
	return fmt.Errorf("%s %s: %w", op, ref, blob.ErrBlobNotFound)
}

func (s *S3BlobStore) put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		return unavailable("put object", err)
	}
	return nil
}

// Delete removes the committed object and any staging objects.
func (s *S3BlobStore) Delete(ctx context.Context, ref blob.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !blob.ValidRef(ref) {
		return nil
	}

	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(ref)),
	})
	s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	if err != nil && !isNotFound(err) {
		return unavailable("delete object", err)
	}

	return s.deleteStaging(ctx, ref)
}

func (s *S3BlobStore) deleteStaging(ctx context.Context, ref blob.Ref) error {
	objects, err := s.listPrefix(ctx, s.partsPrefix(ref))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return s.deleteKeys(ctx, keys)
}

// deleteKeys removes keys in DeleteObjects batches.
func (s *S3BlobStore) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), deleteBatchSize)
		batch := keys[:n]
		keys = keys[n:]

		ids := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}

		start := time.Now()
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: ids,
				Quiet:   aws.Bool(true),
			},
		})
		s.metrics.ObserveOperation("DeleteObjects", time.Since(start), err)
		if err != nil {
			return unavailable("delete objects", err)
		}
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			logger.Warn("S3 delete of %s failed: %s", aws.ToString(e.Key), aws.ToString(e.Message))
			return fmt.Errorf("delete %s: %w: %s", aws.ToString(e.Key), blob.ErrUnavailable, aws.ToString(e.Message))
		}
	}
	return nil
}

// listPrefix returns every object under prefix.
func (s *S3BlobStore) listPrefix(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, unavailable("list objects", err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}
