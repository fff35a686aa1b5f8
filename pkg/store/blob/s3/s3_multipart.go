package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/blob"
)

// partWriter is an io.Writer that uploads every partSize bytes as one part
// of a multipart upload.
type partWriter struct {
	ctx      context.Context
	s        *S3BlobStore
	key      string
	uploadID string
	buf      []byte
	parts    []types.CompletedPart
}

func (w *partWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), cap(w.buf)-len(w.buf))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(w.buf) == cap(w.buf) {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *partWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	number := int32(len(w.parts) + 1)
	start := time.Now()
	out, err := w.s.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(w.s.bucket),
		Key:           aws.String(w.key),
		UploadId:      aws.String(w.uploadID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(w.buf),
		ContentLength: aws.Int64(int64(len(w.buf))),
	})
	w.s.metrics.ObserveOperation("UploadPart", time.Since(start), err)
	if err != nil {
		return unavailable(fmt.Sprintf("upload part %d", number), err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(number),
	})
	w.buf = w.buf[:0]
	return nil
}

// multipartCommit streams the assembled blob through a multipart upload,
// aborting it on any failure.
func (s *S3BlobStore) multipartCommit(ctx context.Context, ref blob.Ref, parts []stagedPart) error {
	key := s.objectKey(ref)

	start := time.Now()
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.metrics.ObserveOperation("CreateMultipartUpload", time.Since(start), err)
	if err != nil {
		return unavailable("create multipart upload", err)
	}
	uploadID := aws.ToString(created.UploadId)

	w := &partWriter{
		ctx:      ctx,
		s:        s,
		key:      key,
		uploadID: uploadID,
		buf:      make([]byte, 0, s.partSize),
	}

	err = s.assemble(ctx, parts, w)
	if err == nil {
		err = w.flush()
	}
	if err == nil {
		start = time.Now()
		_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: w.parts,
			},
		})
		s.metrics.ObserveOperation("CompleteMultipartUpload", time.Since(start), err)
		if err != nil {
			err = unavailable("complete multipart upload", err)
		}
	}
	if err != nil {
		s.abortMultipart(key, uploadID)
		return err
	}
	return nil
}

// abortMultipart runs on a fresh context so a cancelled request still
// releases the server-side upload.
func (s *S3BlobStore) abortMultipart(key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			logger.Warn("S3 abort of multipart upload %s for %s failed: %v", uploadID, key, err)
		}
	}
}
