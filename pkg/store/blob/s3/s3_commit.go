package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/blob"
)

// stagedPart is one WriteAt call persisted as an object.
type stagedPart struct {
	key    string
	offset int64
	size   int64
}

// Commit stitches the staged parts into the final object.
//
// Parts are applied in offset order; gaps read back as zeros. The marker is
// removed only after the final object exists, so a Commit interrupted at
// any point can be retried: while the marker remains the parts are intact.
func (s *S3BlobStore) Commit(ctx context.Context, ref blob.Ref) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !blob.ValidRef(ref) {
		return 0, fmt.Errorf("commit %s: %w", ref, blob.ErrBlobNotFound)
	}

	parts, staged, err := s.listStaged(ctx, ref)
	if err != nil {
		return 0, err
	}

	if !staged {
		size, found, err := s.headSize(ctx, s.objectKey(ref))
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("commit %s: %w", ref, blob.ErrBlobNotFound)
		}
		// Leftovers from an interrupted cleanup
		if len(parts) > 0 {
			if err := s.deleteParts(ctx, parts); err != nil {
				logger.Warn("S3 cleanup of staged parts for %s failed: %v", ref, err)
			}
		}
		return size, nil
	}

	var total int64
	for _, p := range parts {
		total = max(total, p.offset+p.size)
	}

	start := time.Now()
	if total <= s.partSize {
		var buf bytes.Buffer
		buf.Grow(int(total))
		if err := s.assemble(ctx, parts, &buf); err != nil {
			return 0, err
		}
		if err := s.put(ctx, s.objectKey(ref), buf.Bytes()); err != nil {
			return 0, err
		}
	} else {
		if err := s.multipartCommit(ctx, ref, parts); err != nil {
			return 0, err
		}
	}
	s.metrics.ObserveOperation("Commit", time.Since(start), nil)
	s.metrics.RecordBytes("commit", total)

	if err := s.deleteKeys(ctx, []string{s.markerKey(ref)}); err != nil {
		return 0, err
	}
	if err := s.deleteParts(ctx, parts); err != nil {
		logger.Warn("S3 cleanup of staged parts for %s failed: %v", ref, err)
	}

	logger.Debug("S3 committed %s: %d bytes from %d parts", ref, total, len(parts))
	return total, nil
}

// listStaged returns the parts of ref sorted by offset and whether the
// staging marker is present.
func (s *S3BlobStore) listStaged(ctx context.Context, ref blob.Ref) ([]stagedPart, bool, error) {
	objects, err := s.listPrefix(ctx, s.partsPrefix(ref))
	if err != nil {
		return nil, false, err
	}

	prefix := s.partsPrefix(ref)
	var (
		parts  []stagedPart
		staged bool
	)
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		name := key[len(prefix):]
		if name == markerName {
			staged = true
			continue
		}
		off, ok := parsePartName(name)
		if !ok {
			continue
		}
		parts = append(parts, stagedPart{key: key, offset: off, size: aws.ToInt64(obj.Size)})
	}

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].offset < parts[j].offset
	})
	return parts, staged, nil
}

func (s *S3BlobStore) deleteParts(ctx context.Context, parts []stagedPart) error {
	keys := make([]string, len(parts))
	for i, p := range parts {
		keys[i] = p.key
	}
	return s.deleteKeys(ctx, keys)
}

// assemble streams parts into w in offset order. Gaps are filled with zeros;
// where parts overlap the lower offset keeps its bytes.
func (s *S3BlobStore) assemble(ctx context.Context, parts []stagedPart, w io.Writer) error {
	var pos int64
	for _, p := range parts {
		end := p.offset + p.size
		if end <= pos {
			continue
		}
		if p.offset > pos {
			if err := writeZeros(w, p.offset-pos); err != nil {
				return err
			}
			pos = p.offset
		}

		body, err := s.getObject(ctx, p.key, "")
		if err != nil {
			return err
		}
		err = copyPart(w, body, pos-p.offset, end-pos)
		body.Close()
		if err != nil {
			return fmt.Errorf("assemble part at %d: %w", p.offset, err)
		}
		pos = end
	}
	return nil
}

func copyPart(w io.Writer, body io.Reader, skip, n int64) error {
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, body, skip); err != nil {
			return err
		}
	}
	_, err := io.CopyN(w, body, n)
	return err
}

var zeroBlock [32 * 1024]byte

func writeZeros(w io.Writer, n int64) error {
	for n > 0 {
		chunk := min(n, int64(len(zeroBlock)))
		if _, err := w.Write(zeroBlock[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// getObject opens key, optionally restricted by an HTTP Range header value.
func (s *S3BlobStore) getObject(ctx context.Context, key, rng string) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rng != "" {
		input.Range = aws.String(rng)
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, input)
	s.metrics.ObserveOperation("GetObject", time.Since(start), err)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get %s: %w", key, blob.ErrBlobNotFound)
		}
		return nil, unavailable("get object", err)
	}
	return out.Body, nil
}
