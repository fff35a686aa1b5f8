package stream

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	blobmemory "github.com/marmos91/dittodrive/pkg/store/blob/memory"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	metamemory "github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *Server
	meta   *metamemory.MemoryMetadataStore
	blobs  *blobmemory.MemoryBlobStore
	video  *metadata.File
	folder *metadata.File
}

const content = "0123456789abcdefghijklmnopqrstuvwxyz"

func putBlob(t *testing.T, blobs blob.Store, data string) blob.Ref {
	t.Helper()
	ctx := context.Background()
	ref, err := blobs.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, blobs.WriteAt(ctx, ref, []byte(data), 0))
	_, err = blobs.Commit(ctx, ref)
	require.NoError(t, err)
	return ref
}

func newFixture(t *testing.T, window int64) *fixture {
	t.Helper()
	ctx := context.Background()
	meta := metamemory.NewMemoryMetadataStore()
	blobs := blobmemory.NewMemoryBlobStore()

	folder, err := meta.CreateFile(ctx, &metadata.File{Key: uuid.NewString(), Name: "media", Type: metadata.FileTypeFolder})
	require.NoError(t, err)

	video, err := meta.CreateFile(ctx, &metadata.File{
		Key:       uuid.NewString(),
		Name:      "clip.mp4",
		Type:      metadata.FileTypeVideo,
		ParentKey: folder.Key,
		Size:      int64(len(content)),
		BlobRef:   putBlob(t, blobs, content),
	})
	require.NoError(t, err)
	require.NoError(t, meta.SetVariant(ctx, video.Key, "480p", putBlob(t, blobs, "LOWRES")))

	return &fixture{
		server: NewServer(meta, blobs, Config{ChunkWindow: window}, nil),
		meta:   meta,
		blobs:  blobs,
		video:  video,
		folder: folder,
	}
}

func readStream(t *testing.T, s *Stream) string {
	t.Helper()
	defer s.Body.Close()
	data, err := io.ReadAll(s.Body)
	require.NoError(t, err)
	return string(data)
}

func TestOpenStream_Window(t *testing.T) {
	fx := newFixture(t, 9)
	total := int64(len(content))

	tests := []struct {
		name       string
		start      int64
		wantEnd    int64
		wantString string
	}{
		{"FromZero", 0, 9, content[0:10]},
		{"Middle", 10, 19, content[10:20]},
		{"ClampedAtEnd", 30, total - 1, content[30:]},
		{"LastByte", total - 1, total - 1, content[total-1:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := fx.server.OpenStream(context.Background(), fx.video.Key, tt.start, "")
			require.NoError(t, err)
			assert.Equal(t, tt.start, s.Start)
			assert.Equal(t, tt.wantEnd, s.End)
			assert.Equal(t, total, s.TotalSize)
			assert.LessOrEqual(t, s.Start, s.End)
			assert.Less(t, s.End, s.TotalSize)

			got := readStream(t, s)
			assert.Equal(t, tt.wantString, got)
			assert.EqualValues(t, s.Length(), len(got))
		})
	}
}

func TestOpenStream_RangeNotSatisfiable(t *testing.T) {
	fx := newFixture(t, 0)

	for _, start := range []int64{-1, int64(len(content)), int64(len(content)) + 100} {
		_, err := fx.server.OpenStream(context.Background(), fx.video.Key, start, "")
		assert.True(t, fileerr.Is(err, fileerr.RangeNotSatisfiable), "start %d: %v", start, err)
	}

	_, err := fx.server.Open(context.Background(), Request{FileKey: fx.video.Key, Start: 5, End: 4})
	assert.True(t, fileerr.Is(err, fileerr.RangeNotSatisfiable))
}

func TestOpen_ExplicitEnd(t *testing.T) {
	fx := newFixture(t, 9)
	ctx := context.Background()

	s, err := fx.server.Open(ctx, Request{FileKey: fx.video.Key, Start: 2, End: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 4, s.End)
	assert.Equal(t, "234", readStream(t, s))

	// An end beyond the window is clamped to it
	s, err = fx.server.Open(ctx, Request{FileKey: fx.video.Key, Start: 0, End: 1000})
	require.NoError(t, err)
	assert.EqualValues(t, 9, s.End)
	readStream(t, s)
}

func TestOpenStream_DefaultWindow(t *testing.T) {
	fx := newFixture(t, 0)
	assert.Equal(t, DefaultWindow, fx.server.window)

	s, err := fx.server.OpenStream(context.Background(), fx.video.Key, 0, "")
	require.NoError(t, err)
	assert.EqualValues(t, len(content)-1, s.End)
	assert.Equal(t, content, readStream(t, s))
}

func TestOpenStream_Resolution(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	s, err := fx.server.OpenStream(ctx, fx.video.Key, 3, "480p")
	require.NoError(t, err)
	assert.EqualValues(t, 6, s.TotalSize)
	assert.Equal(t, "RES", readStream(t, s))

	_, err = fx.server.OpenStream(ctx, fx.video.Key, 0, "4k")
	assert.True(t, fileerr.Is(err, fileerr.InvalidResolution))
}

func TestOpenStream_NotFound(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	_, err := fx.server.OpenStream(ctx, uuid.NewString(), 0, "")
	assert.True(t, fileerr.Is(err, fileerr.NotFound))

	_, err = fx.server.OpenStream(ctx, fx.folder.Key, 0, "")
	assert.True(t, fileerr.Is(err, fileerr.NotFound))

	// Record whose blob is gone
	require.NoError(t, fx.blobs.Delete(ctx, fx.video.BlobRef))
	_, err = fx.server.OpenStream(ctx, fx.video.Key, 0, "")
	assert.True(t, fileerr.Is(err, fileerr.NotFound))
}

func TestOpenFullStream(t *testing.T) {
	fx := newFixture(t, 4)

	s, err := fx.server.OpenFullStream(context.Background(), fx.video.Key)
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.Start)
	assert.EqualValues(t, len(content)-1, s.End)
	assert.Equal(t, content, readStream(t, s))
}

func TestOpenFullStream_Empty(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	empty, err := fx.meta.CreateFile(ctx, &metadata.File{
		Key:       uuid.NewString(),
		Name:      "empty.txt",
		Type:      metadata.FileTypeDocument,
		ParentKey: fx.folder.Key,
		BlobRef:   putBlob(t, fx.blobs, ""),
	})
	require.NoError(t, err)

	s, err := fx.server.OpenFullStream(ctx, empty.Key)
	require.NoError(t, err)
	assert.Zero(t, s.Length())
	assert.Empty(t, readStream(t, s))

	_, err = fx.server.OpenStream(ctx, empty.Key, 0, "")
	assert.True(t, fileerr.Is(err, fileerr.RangeNotSatisfiable))
}

type recordingMetrics struct {
	opened []string
	served int64
}

func (m *recordingMetrics) RecordStreamOpened(kind, resolution string) {
	m.opened = append(m.opened, kind+":"+resolution)
}

func (m *recordingMetrics) RecordBytesServed(n int64) {
	m.served += n
}

func TestStreams_Independent(t *testing.T) {
	fx := newFixture(t, 0)
	metrics := &recordingMetrics{}
	fx.server.metrics = metrics
	ctx := context.Background()

	a, err := fx.server.OpenStream(ctx, fx.video.Key, 0, "")
	require.NoError(t, err)
	b, err := fx.server.OpenStream(ctx, fx.video.Key, 20, "")
	require.NoError(t, err)

	bufA := make([]byte, 5)
	_, err = io.ReadFull(a.Body, bufA)
	require.NoError(t, err)
	restB := readStream(t, b)
	restA := readStream(t, a)

	assert.Equal(t, content, string(bufA)+restA)
	assert.Equal(t, content[20:], restB)
	assert.Equal(t, []string{"range:", "range:"}, metrics.opened)
	assert.EqualValues(t, len(content)+len(content)-20, metrics.served)
	assert.True(t, strings.HasPrefix(content, string(bufA)))
}
