package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/pkg/access"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	blobmemory "github.com/marmos91/dittodrive/pkg/store/blob/memory"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	metamemory "github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uploader int64 = 7
	outsider int64 = 8
)

var errInjected = errors.New("injected failure")

// flakyBlobs fails the next failWrites WriteAt calls and failCommits Commit
// calls.
type flakyBlobs struct {
	blob.Store
	failWrites  atomic.Int32
	failCommits atomic.Int32
}

func (f *flakyBlobs) WriteAt(ctx context.Context, ref blob.Ref, data []byte, offset int64) error {
	if f.failWrites.Add(-1) >= 0 {
		return errInjected
	}
	return f.Store.WriteAt(ctx, ref, data, offset)
}

func (f *flakyBlobs) Commit(ctx context.Context, ref blob.Ref) (int64, error) {
	if f.failCommits.Add(-1) >= 0 {
		return 0, errInjected
	}
	return f.Store.Commit(ctx, ref)
}

// flakyMetadata fails the next failCreates CreateFile calls. The next
// lostReplies CreateFile or SetVariant calls store the change and then fail
// anyway.
type flakyMetadata struct {
	metadata.Store
	failCreates atomic.Int32
	lostReplies atomic.Int32
}

func (f *flakyMetadata) CreateFile(ctx context.Context, file *metadata.File, grants ...metadata.RoleGrant) (*metadata.File, error) {
	if f.failCreates.Add(-1) >= 0 {
		return nil, metadata.NewIOError("create file", errInjected)
	}
	created, err := f.Store.CreateFile(ctx, file, grants...)
	if err == nil && f.lostReplies.Add(-1) >= 0 {
		return nil, metadata.NewIOError("create file", errInjected)
	}
	return created, err
}

func (f *flakyMetadata) SetVariant(ctx context.Context, key, resolution string, ref metadata.BlobRef) error {
	if err := f.Store.SetVariant(ctx, key, resolution, ref); err != nil {
		return err
	}
	if f.lostReplies.Add(-1) >= 0 {
		return metadata.NewIOError("set variant", errInjected)
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	manager  *Manager
	meta     *flakyMetadata
	blobs    *flakyBlobs
	memBlobs *blobmemory.MemoryBlobStore
	clock    *fakeClock
	folder   *metadata.File
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	memMeta := metamemory.NewMemoryMetadataStore()
	meta := &flakyMetadata{Store: memMeta}
	memBlobs := blobmemory.NewMemoryBlobStore()
	blobs := &flakyBlobs{Store: memBlobs}

	folder, err := memMeta.CreateFile(context.Background(), &metadata.File{
		Key:  uuid.NewString(),
		Name: "uploads",
		Type: metadata.FileTypeFolder,
	}, metadata.RoleGrant{MemberID: uploader, Roles: metadata.NewRoleSet(metadata.RoleCreate)})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	manager := NewManager(meta, blobs, access.NewResolver(memMeta), Config{
		SessionTTL:    time.Minute,
		SweepInterval: time.Second,
		MaxChunkBytes: 1024,
	}, nil)
	manager.now = clock.Now

	return &harness{
		manager:  manager,
		meta:     meta,
		blobs:    blobs,
		memBlobs: memBlobs,
		clock:    clock,
		folder:   folder,
	}
}

func (h *harness) chunk(name string, index, total int, payload string) Chunk {
	return Chunk{
		MemberID:  uploader,
		FolderKey: h.folder.Key,
		FileName:  name,
		Index:     index,
		Total:     total,
		Payload:   []byte(payload),
	}
}

func (h *harness) submit(t *testing.T, c Chunk) Result {
	t.Helper()
	res, err := h.manager.SubmitChunk(context.Background(), c)
	require.NoError(t, err)
	return res
}

func (h *harness) content(t *testing.T, fileKey string) (*metadata.File, []byte) {
	t.Helper()
	ctx := context.Background()

	file, err := h.meta.GetFileByKey(ctx, fileKey)
	require.NoError(t, err)
	if file.Size == 0 {
		return file, nil
	}
	r, err := h.memBlobs.OpenRange(ctx, file.BlobRef, 0, file.Size-1)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return file, data
}

func splitChunks(data string, size int) []string {
	var chunks []string
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}

func requireKind(t *testing.T, kind fileerr.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, fileerr.KindOf(err), "unexpected error: %v", err)
}

func TestSubmitChunk_OutOfOrder(t *testing.T) {
	h := newHarness(t)
	chunks := splitChunks("abcdefghij", 4)

	res := h.submit(t, h.chunk("clip.bin", 2, 3, chunks[2]))
	assert.False(t, res.Done)
	res = h.submit(t, h.chunk("clip.bin", 0, 3, chunks[0]))
	assert.False(t, res.Done)
	res = h.submit(t, h.chunk("clip.bin", 1, 3, chunks[1]))
	require.True(t, res.Done)
	require.NotEmpty(t, res.FileKey)

	file, data := h.content(t, res.FileKey)
	assert.Equal(t, "abcdefghij", string(data))
	assert.EqualValues(t, 10, file.Size)
	assert.Equal(t, "clip.bin", file.Name)
	assert.Equal(t, h.folder.Key, file.ParentKey)

	grant, err := h.meta.GetRoleGrant(context.Background(), uploader, file.ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.AllRoles, grant.Roles)
	assert.Zero(t, h.manager.ActiveSessions())
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			perm := make([]int, 0, n)
			perm = append(perm, p[:i]...)
			perm = append(perm, n-1)
			perm = append(perm, p[i:]...)
			out = append(out, perm)
		}
	}
	return out
}

func TestSubmitChunk_AllPermutations(t *testing.T) {
	const data = "0123456789abcdefghijklmnopq"
	chunks := splitChunks(data, 7)
	require.Len(t, chunks, 4)

	for _, perm := range permutations(len(chunks)) {
		h := newHarness(t)
		var last Result
		for i, idx := range perm {
			last = h.submit(t, h.chunk("perm.bin", idx, len(chunks), chunks[idx]))
			assert.Equal(t, i == len(perm)-1, last.Done, "order %v step %d", perm, i)
		}
		_, got := h.content(t, last.FileKey)
		assert.Equal(t, data, string(got), "order %v", perm)
	}
}

func TestSubmitChunk_SingleChunk(t *testing.T) {
	h := newHarness(t)

	res := h.submit(t, h.chunk("tiny.txt", 0, 1, "hello"))
	require.True(t, res.Done)

	file, data := h.content(t, res.FileKey)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, metadata.FileTypeDocument, file.Type)
}

func TestSubmitChunk_Idempotent(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.submit(t, h.chunk("dup.bin", 0, 2, "abcd")).Done)
	assert.False(t, h.submit(t, h.chunk("dup.bin", 0, 2, "abcd")).Done)
	res := h.submit(t, h.chunk("dup.bin", 1, 2, "ef"))
	require.True(t, res.Done)

	file, data := h.content(t, res.FileKey)
	assert.Equal(t, "abcdef", string(data))
	assert.EqualValues(t, 6, file.Size)
}

func TestSubmitChunk_LastChunkFirst(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.submit(t, h.chunk("tail.bin", 2, 3, "xy")).Done)
	assert.False(t, h.submit(t, h.chunk("tail.bin", 1, 3, "efgh")).Done)
	res := h.submit(t, h.chunk("tail.bin", 0, 3, "abcd"))
	require.True(t, res.Done)

	_, data := h.content(t, res.FileKey)
	assert.Equal(t, "abcdefghxy", string(data))
}

func TestSubmitChunk_SessionConflict(t *testing.T) {
	h := newHarness(t)

	h.submit(t, h.chunk("conflict.bin", 0, 3, "abcd"))
	_, err := h.manager.SubmitChunk(context.Background(), h.chunk("conflict.bin", 1, 4, "efgh"))
	requireKind(t, fileerr.SessionConflict, err)
}

func TestSubmitChunk_InvalidChunk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"IndexEqualsTotal", h.chunk("a.bin", 3, 3, "x")},
		{"NegativeIndex", h.chunk("a.bin", -1, 3, "x")},
		{"ZeroTotal", h.chunk("a.bin", 0, 0, "x")},
		{"Oversized", h.chunk("a.bin", 0, 2, string(make([]byte, 1025)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.manager.SubmitChunk(ctx, tt.chunk)
			requireKind(t, fileerr.InvalidChunk, err)
		})
	}

	t.Run("SizeMismatch", func(t *testing.T) {
		h.submit(t, h.chunk("b.bin", 0, 3, "abcd"))
		_, err := h.manager.SubmitChunk(ctx, h.chunk("b.bin", 1, 3, "efg"))
		requireKind(t, fileerr.InvalidChunk, err)
	})

	t.Run("LastChunkTooLarge", func(t *testing.T) {
		h.submit(t, h.chunk("c.bin", 0, 2, "abcd"))
		_, err := h.manager.SubmitChunk(ctx, h.chunk("c.bin", 1, 2, "efghi"))
		requireKind(t, fileerr.InvalidChunk, err)
	})

	t.Run("PendingTailLargerThanChunk", func(t *testing.T) {
		h.submit(t, h.chunk("d.bin", 1, 2, "efghi"))
		_, err := h.manager.SubmitChunk(ctx, h.chunk("d.bin", 0, 2, "abcd"))
		requireKind(t, fileerr.InvalidChunk, err)
	})

	t.Run("BadName", func(t *testing.T) {
		_, err := h.manager.SubmitChunk(ctx, h.chunk("a/b", 0, 1, "x"))
		requireKind(t, fileerr.InvalidArgument, err)
	})
}

func TestSubmitChunk_SizeLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("TooManyChunks", func(t *testing.T) {
		h := newHarness(t)
		for _, total := range []int{DefaultMaxChunks + 1, 1 << 30, math.MaxInt} {
			_, err := h.manager.SubmitChunk(ctx, h.chunk("many.bin", 0, total, "x"))
			requireKind(t, fileerr.InvalidChunk, err)
		}
		assert.Zero(t, h.manager.ActiveSessions())
	})

	t.Run("MaskFollowsReceivedChunks", func(t *testing.T) {
		h := newHarness(t)
		h.submit(t, h.chunk("wide.bin", 0, DefaultMaxChunks, "x"))

		h.manager.mu.Lock()
		defer h.manager.mu.Unlock()
		require.Len(t, h.manager.sessions, 1)
		for _, s := range h.manager.sessions {
			assert.Len(t, s.received, 1)
		}
	})

	t.Run("ChunkSizeTimesTotal", func(t *testing.T) {
		h := newHarness(t)
		h.manager.config.MaxFileBytes = 10

		_, err := h.manager.SubmitChunk(ctx, h.chunk("big.bin", 0, 4, "abcd"))
		requireKind(t, fileerr.InvalidChunk, err)

		_, err = h.manager.SubmitChunk(ctx, h.chunk("single.bin", 0, 1, "abcdefghijk"))
		requireKind(t, fileerr.InvalidChunk, err)
	})

	t.Run("LastChunkPushesOverLimit", func(t *testing.T) {
		h := newHarness(t)
		h.manager.config.MaxFileBytes = 10

		h.submit(t, h.chunk("edge.bin", 0, 3, "abcd"))
		_, err := h.manager.SubmitChunk(ctx, h.chunk("edge.bin", 2, 3, "abc"))
		requireKind(t, fileerr.InvalidChunk, err)

		h.submit(t, h.chunk("edge.bin", 2, 3, "ij"))
		res := h.submit(t, h.chunk("edge.bin", 1, 3, "efgh"))
		require.True(t, res.Done)

		_, data := h.content(t, res.FileKey)
		assert.Equal(t, "abcdefghij", string(data))
	})

	t.Run("PendingTailPushesOverLimit", func(t *testing.T) {
		h := newHarness(t)
		h.manager.config.MaxFileBytes = 10

		h.submit(t, h.chunk("tail.bin", 2, 3, "abc"))
		_, err := h.manager.SubmitChunk(ctx, h.chunk("tail.bin", 0, 3, "abcd"))
		requireKind(t, fileerr.InvalidChunk, err)
	})
}

func (h *harness) variant(target, resolution string, index, total int, payload string) Chunk {
	c := h.chunk("variant.bin", index, total, payload)
	c.VariantOf = target
	c.Resolution = resolution
	return c
}

func (h *harness) variantContent(t *testing.T, fileKey, resolution string) string {
	t.Helper()
	ctx := context.Background()

	file, err := h.meta.GetFileByKey(ctx, fileKey)
	require.NoError(t, err)
	ref, ok := file.Variants[resolution]
	require.True(t, ok, "no %s variant", resolution)

	size, err := h.memBlobs.Size(ctx, ref)
	require.NoError(t, err)
	r, err := h.memBlobs.OpenRange(ctx, ref, 0, size-1)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestSubmitChunk_Variant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fileKey := h.submit(t, h.chunk("clip.mp4", 0, 1, "original")).FileKey

	assert.False(t, h.submit(t, h.variant(fileKey, "480p", 1, 2, "w")).Done)
	res := h.submit(t, h.variant(fileKey, "480p", 0, 2, "lo"))
	require.True(t, res.Done)
	assert.Equal(t, fileKey, res.FileKey)
	assert.Equal(t, "low", h.variantContent(t, fileKey, "480p"))

	_, data := h.content(t, fileKey)
	assert.Equal(t, "original", string(data))

	t.Run("LostReplyRetried", func(t *testing.T) {
		h.meta.lostReplies.Store(1)
		_, err := h.manager.SubmitChunk(ctx, h.variant(fileKey, "720p", 0, 1, "high"))
		require.Error(t, err)

		res := h.submit(t, h.variant(fileKey, "720p", 0, 1, "high"))
		assert.True(t, res.Done)
		assert.Equal(t, "high", h.variantContent(t, fileKey, "720p"))
		assert.Zero(t, h.manager.ActiveSessions())
	})

	t.Run("NeedsUpdateOnTarget", func(t *testing.T) {
		c := h.variant(fileKey, "1080p", 0, 1, "x")
		c.MemberID = outsider
		_, err := h.manager.SubmitChunk(ctx, c)
		requireKind(t, fileerr.Forbidden, err)
	})

	t.Run("TargetIsFolder", func(t *testing.T) {
		require.NoError(t, h.meta.PutRoleGrant(ctx, metadata.RoleGrant{
			MemberID: uploader,
			FileID:   h.folder.ID,
			Roles:    metadata.NewRoleSet(metadata.RoleCreate, metadata.RoleUpdate),
		}))
		_, err := h.manager.SubmitChunk(ctx, h.variant(h.folder.Key, "480p", 0, 1, "x"))
		requireKind(t, fileerr.NotFound, err)
	})

	t.Run("HalfSpecified", func(t *testing.T) {
		c := h.chunk("half.bin", 0, 1, "x")
		c.Resolution = "480p"
		_, err := h.manager.SubmitChunk(ctx, c)
		requireKind(t, fileerr.InvalidArgument, err)
	})
}

func TestSubmitChunk_Forbidden(t *testing.T) {
	h := newHarness(t)

	c := h.chunk("secret.bin", 0, 1, "x")
	c.MemberID = outsider
	_, err := h.manager.SubmitChunk(context.Background(), c)
	requireKind(t, fileerr.Forbidden, err)
	assert.Zero(t, h.manager.ActiveSessions())
}

func TestSubmitChunk_FolderNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.chunk("lost.bin", 0, 1, "x")
	c.FolderKey = uuid.NewString()
	_, err := h.manager.SubmitChunk(ctx, c)
	requireKind(t, fileerr.NotFound, err)

	// A document is not a valid upload target even with create granted
	res := h.submit(t, h.chunk("doc.txt", 0, 1, "text"))
	require.True(t, res.Done)
	c = h.chunk("inner.bin", 0, 1, "x")
	c.FolderKey = res.FileKey
	_, err = h.manager.SubmitChunk(ctx, c)
	requireKind(t, fileerr.NotFound, err)
}

func TestSubmitChunk_WriteFailureRetry(t *testing.T) {
	h := newHarness(t)

	h.blobs.failWrites.Store(1)
	_, err := h.manager.SubmitChunk(context.Background(), h.chunk("retry.bin", 0, 2, "abcd"))
	requireKind(t, fileerr.StorageError, err)
	assert.Equal(t, 1, h.manager.ActiveSessions())

	assert.False(t, h.submit(t, h.chunk("retry.bin", 0, 2, "abcd")).Done)
	res := h.submit(t, h.chunk("retry.bin", 1, 2, "ef"))
	require.True(t, res.Done)

	_, data := h.content(t, res.FileKey)
	assert.Equal(t, "abcdef", string(data))
}

func TestSubmitChunk_CommitFailureRetry(t *testing.T) {
	h := newHarness(t)

	h.submit(t, h.chunk("commit.bin", 0, 2, "abcd"))
	h.blobs.failCommits.Store(1)
	_, err := h.manager.SubmitChunk(context.Background(), h.chunk("commit.bin", 1, 2, "ef"))
	requireKind(t, fileerr.StorageError, err)

	res := h.submit(t, h.chunk("commit.bin", 1, 2, "ef"))
	require.True(t, res.Done)
	_, data := h.content(t, res.FileKey)
	assert.Equal(t, "abcdef", string(data))
}

func TestSubmitChunk_PromotionFailureRetry(t *testing.T) {
	h := newHarness(t)

	h.submit(t, h.chunk("promote.bin", 0, 2, "abcd"))
	h.meta.failCreates.Store(1)
	_, err := h.manager.SubmitChunk(context.Background(), h.chunk("promote.bin", 1, 2, "ef"))
	requireKind(t, fileerr.StorageError, err)
	assert.Equal(t, 1, h.manager.ActiveSessions())

	// Any chunk of the sealed session retries the record creation
	res := h.submit(t, h.chunk("promote.bin", 0, 2, "abcd"))
	require.True(t, res.Done)
	_, data := h.content(t, res.FileKey)
	assert.Equal(t, "abcdef", string(data))
	assert.Zero(t, h.manager.ActiveSessions())
}

func TestSubmitChunk_ConcurrentChunks(t *testing.T) {
	h := newHarness(t)
	const chunkSize = 16
	const total = 32

	var want bytes.Buffer
	payloads := make([][]byte, total)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte('a' + i%26)}, chunkSize)
		want.Write(payloads[i])
	}

	var (
		wg    sync.WaitGroup
		done  atomic.Int32
		keyMu sync.Mutex
		key   string
	)
	for i := total - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := h.chunk("parallel.bin", i, total, "")
			c.Payload = payloads[i]
			res, err := h.manager.SubmitChunk(context.Background(), c)
			if !assert.NoError(t, err) {
				return
			}
			if res.Done {
				done.Add(1)
				keyMu.Lock()
				key = res.FileKey
				keyMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, done.Load())
	_, data := h.content(t, key)
	assert.Equal(t, want.Bytes(), data)
}

func TestSubmitChunk_SeparateSessions(t *testing.T) {
	h := newHarness(t)

	h.submit(t, h.chunk("one.bin", 0, 2, "1111"))
	h.submit(t, h.chunk("two.bin", 0, 2, "2222"))
	assert.Equal(t, 2, h.manager.ActiveSessions())
	assert.Len(t, h.manager.LiveBlobRefs(), 2)

	r1 := h.submit(t, h.chunk("one.bin", 1, 2, "1"))
	r2 := h.submit(t, h.chunk("two.bin", 1, 2, "2"))
	require.True(t, r1.Done)
	require.True(t, r2.Done)
	assert.NotEqual(t, r1.FileKey, r2.FileKey)

	_, d1 := h.content(t, r1.FileKey)
	_, d2 := h.content(t, r2.FileKey)
	assert.Equal(t, "11111", string(d1))
	assert.Equal(t, "22222", string(d2))
}

func TestSubmitChunk_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.manager.SubmitChunk(ctx, h.chunk("late.bin", 0, 1, "x"))
	assert.ErrorIs(t, err, context.Canceled)
}
