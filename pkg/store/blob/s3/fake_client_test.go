package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data    []byte
	modTime time.Time
}

// fakeClient is an in-memory S3 bucket implementing Client.
type fakeClient struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string]fakeObject
	uploads  map[string]map[int32][]byte
	nextID   int
	failPuts bool

	// counters for assertions
	putCalls       int
	uploadedParts  int
	abortedUploads int
}

func newFakeClient(bucket string) *fakeClient {
	return &fakeClient{
		bucket:  bucket,
		objects: make(map[string]fakeObject),
		uploads: make(map[string]map[int32][]byte),
	}
}

var errFakeUnavailable = errors.New("connection refused")

func (c *fakeClient) checkBucket(bucket *string) error {
	if aws.ToString(bucket) != c.bucket {
		return &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	return nil
}

func (c *fakeClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (c *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modTime),
	}, nil
}

func (c *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	data := obj.data
	if in.Range != nil {
		var start, end int64
		if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("bad range %q", aws.ToString(in.Range))
		}
		if start >= int64(len(data)) {
			return nil, errors.New("InvalidRange")
		}
		end = min(end, int64(len(data))-1)
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (c *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failPuts {
		return nil, errFakeUnavailable
	}
	c.putCalls++
	c.objects[aws.ToString(in.Key)] = fakeObject{data: data, modTime: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range in.Delete.Objects {
		delete(c.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)
	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}

	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > limit {
		keys = keys[:limit]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		obj := c.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modTime),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func (c *fakeClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := fmt.Sprintf("upload-%d", c.nextID)
	c.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (c *fakeClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parts, ok := c.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	number := aws.ToInt32(in.PartNumber)
	parts[number] = data
	c.uploadedParts++
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", number))}, nil
}

func (c *fakeClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := aws.ToString(in.UploadId)
	parts, ok := c.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}

	var buf bytes.Buffer
	for i, p := range in.MultipartUpload.Parts {
		number := aws.ToInt32(p.PartNumber)
		if number != int32(i+1) {
			return nil, fmt.Errorf("part %d out of order", number)
		}
		data, ok := parts[number]
		if !ok || aws.ToString(p.ETag) != fmt.Sprintf("etag-%d", number) {
			return nil, fmt.Errorf("invalid part %d", number)
		}
		buf.Write(data)
	}
	delete(c.uploads, id)
	c.objects[aws.ToString(in.Key)] = fakeObject{data: buf.Bytes(), modTime: time.Now()}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (c *fakeClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := aws.ToString(in.UploadId)
	if _, ok := c.uploads[id]; !ok {
		return nil, &types.NoSuchUpload{}
	}
	delete(c.uploads, id)
	c.abortedUploads++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (c *fakeClient) keysWithPrefix(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

var _ Client = (*fakeClient)(nil)
