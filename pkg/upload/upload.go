// Package upload reassembles chunked uploads into blobs.
//
// A client splits a file into Total chunks of equal size (the last may be
// shorter) and submits them in any order, possibly more than once. The
// Manager writes each chunk straight into a staged blob at its final
// offset, tracks which indexes arrived, and once all have, commits the
// blob and creates the file record, exactly once.
//
// An upload that names VariantOf and Resolution attaches the blob to an
// existing file as an alternative encoding instead of creating a file.
//
// Concurrency model:
//   - The manager lock guards only the session map (lookup and insert).
//   - Each session has its own lock, held for the whole of a chunk
//     submission, so writes to one session are serialized while different
//     sessions proceed in parallel.
//   - The Sweeper takes the same session lock before reclaiming, so a chunk
//     and a sweep never interleave.
package upload

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Chunk is one piece of an upload.
type Chunk struct {
	MemberID  int64
	FolderKey string
	FileName  string
	Index     int
	Total     int
	Payload   []byte

	// VariantOf and Resolution are set together. The upload then becomes
	// the Resolution encoding of file VariantOf, which must sit in
	// FolderKey.
	VariantOf  string
	Resolution string
}

// Result reports the state of an upload after a chunk.
type Result struct {
	Done    bool
	FileKey string
}

// Authorizer checks a role on a file and returns the file.
// *access.Resolver implements it.
type Authorizer interface {
	RequireFile(ctx context.Context, memberID int64, fileKey string, role metadata.Role) (*metadata.File, error)
}

// Upload size defaults.
const (
	// DefaultMaxChunks bounds Total when the config leaves MaxChunks at zero
	DefaultMaxChunks = 1 << 20

	// DefaultMaxFileBytes is the file size limit the config loader applies
	DefaultMaxFileBytes int64 = 1 << 30
)

// Config controls session limits.
type Config struct {
	// SessionTTL is how long a session may sit idle before the sweeper
	// reclaims it (default: 1h)
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// SweepInterval is how often the sweeper runs (default: 5m)
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// MaxChunkBytes caps a single chunk payload; 0 means unlimited
	MaxChunkBytes int64 `mapstructure:"max_chunk_bytes"`

	// MaxFileBytes caps the assembled file size; 0 means unlimited
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`

	// MaxChunks caps the number of chunks an upload may announce
	// (default: DefaultMaxChunks)
	MaxChunks int `mapstructure:"max_chunks"`

	// MaxFieldBytes caps each non-file form field a transport decodes
	// alongside a chunk; the manager itself never sees form fields
	MaxFieldBytes int64 `mapstructure:"max_field_bytes"`
}

// Manager owns all in-flight upload sessions.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	metadata metadata.Store
	blobs    blob.Store
	access   Authorizer
	config   Config
	metrics  Metrics
	now      func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// NewManager creates a manager. metrics may be nil.
func NewManager(store metadata.Store, blobs blob.Store, access Authorizer, config Config, metrics Metrics) *Manager {
	if config.SessionTTL == 0 {
		config.SessionTTL = time.Hour
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if config.MaxChunks == 0 {
		config.MaxChunks = DefaultMaxChunks
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Manager{
		metadata: store,
		blobs:    blobs,
		access:   access,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
		sessions: make(map[sessionKey]*session),
	}
}

// Config returns the effective configuration, defaults applied.
func (m *Manager) Config() Config {
	return m.config
}

// SubmitChunk writes one chunk and, when it completes the upload, promotes
// the blob into a file under FolderKey owned by MemberID.
//
// Errors:
//   - InvalidChunk: bad index/total, oversized payload, a file that would
//     exceed MaxFileBytes, or a non-last chunk whose size differs from the
//     upload's chunk size
//   - InvalidArgument: bad file name or resolution, or only one of
//     VariantOf and Resolution set
//   - SessionConflict: Total differs from the one the session started with
//   - Forbidden: no create permission on the folder, or no update
//     permission on VariantOf (checked when a session starts)
//   - NotFound: the folder does not exist or is not a folder, or VariantOf
//     is not a file in it
//   - StorageError: backend failure; the session is kept so the chunk can
//     be retried
func (m *Manager) SubmitChunk(ctx context.Context, chunk Chunk) (Result, error) {
	if err := m.validate(chunk); err != nil {
		return Result{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := m.acquire(ctx, chunk)
		if err != nil {
			return Result{}, err
		}

		s.mu.Lock()
		if s.closed {
			// Promoted or swept between lookup and lock: start over
			s.mu.Unlock()
			continue
		}
		result, err := m.submitLocked(ctx, s, chunk)
		s.mu.Unlock()
		return result, err
	}
}

func (m *Manager) validate(chunk Chunk) error {
	if chunk.Total < 1 || chunk.Index < 0 || chunk.Index >= chunk.Total {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk",
			"chunk index %d out of range for %d chunks", chunk.Index, chunk.Total)
	}
	if chunk.Total > m.config.MaxChunks {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk",
			"upload of %d chunks exceeds the limit of %d", chunk.Total, m.config.MaxChunks)
	}
	if m.config.MaxChunkBytes > 0 && int64(len(chunk.Payload)) > m.config.MaxChunkBytes {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk",
			"chunk exceeds %d bytes", m.config.MaxChunkBytes)
	}
	if m.config.MaxFileBytes > 0 && int64(len(chunk.Payload)) > m.config.MaxFileBytes {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk",
			"file exceeds %d bytes", m.config.MaxFileBytes)
	}
	if err := metadata.ValidateName(chunk.FileName); err != nil {
		return fileerr.New(fileerr.InvalidArgument, "submit chunk", "invalid file name")
	}
	if (chunk.VariantOf == "") != (chunk.Resolution == "") {
		return fileerr.New(fileerr.InvalidArgument, "submit chunk", "variantOf and resolution must be set together")
	}
	if chunk.Resolution != "" {
		if err := metadata.ValidateResolution(chunk.Resolution); err != nil {
			return fileerr.New(fileerr.InvalidArgument, "submit chunk", "invalid resolution")
		}
	}
	return nil
}

// acquire returns the session for chunk, creating it when absent. Creation
// authorizes the member and allocates the blob outside the manager lock.
func (m *Manager) acquire(ctx context.Context, chunk Chunk) (*session, error) {
	key := sessionKey{
		memberID:   chunk.MemberID,
		folderKey:  chunk.FolderKey,
		fileName:   chunk.FileName,
		variantOf:  chunk.VariantOf,
		resolution: chunk.Resolution,
	}

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	if err := m.authorize(ctx, chunk); err != nil {
		return nil, err
	}

	ref, err := m.blobs.Allocate(ctx)
	if err != nil {
		return nil, fileerr.FromStore("allocate blob", err)
	}

	fileKey := chunk.VariantOf
	if fileKey == "" {
		fileKey = uuid.NewString()
	}
	fresh := newSession(key, chunk.Total, ref, fileKey, m.now())

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		// Lost the creation race; the winner's session is used instead
		m.discardBlob(ref)
		return existing, nil
	}
	m.sessions[key] = fresh
	m.mu.Unlock()

	m.metrics.RecordSessionStarted()
	logger.Debug("Upload session started: member=%d folder=%s name=%q chunks=%d blob=%s",
		key.memberID, key.folderKey, key.fileName, chunk.Total, ref)
	return fresh, nil
}

// authorize checks the permission a new session needs: create on the
// folder, or update on the file a variant is uploaded for.
func (m *Manager) authorize(ctx context.Context, chunk Chunk) error {
	if chunk.VariantOf != "" {
		file, err := m.access.RequireFile(ctx, chunk.MemberID, chunk.VariantOf, metadata.RoleUpdate)
		if err != nil {
			return err
		}
		if file.IsFolder() || file.ParentKey != chunk.FolderKey {
			return fileerr.New(fileerr.NotFound, "submit chunk", "file not found in folder")
		}
		return nil
	}

	folder, err := m.access.RequireFile(ctx, chunk.MemberID, chunk.FolderKey, metadata.RoleCreate)
	if err != nil {
		return err
	}
	if !folder.IsFolder() {
		return fileerr.New(fileerr.NotFound, "submit chunk", "folder not found")
	}
	return nil
}

func (m *Manager) submitLocked(ctx context.Context, s *session, chunk Chunk) (Result, error) {
	s.lastActive = m.now()

	if chunk.Total != s.total {
		return Result{}, fileerr.New(fileerr.SessionConflict, "submit chunk",
			"upload already in progress with %d chunks", s.total)
	}

	if s.sealed {
		return m.promoteLocked(ctx, s)
	}

	duplicate := s.received.has(chunk.Index)
	if !duplicate {
		if err := m.writeChunkLocked(ctx, s, chunk); err != nil {
			return Result{}, err
		}
		s.received.set(chunk.Index)
	}
	m.metrics.RecordChunk(len(chunk.Payload), duplicate)

	if !s.complete() {
		return Result{Done: false}, nil
	}

	// A duplicate of the final chunk retries a commit that failed earlier
	size, err := m.blobs.Commit(ctx, s.blobRef)
	if err != nil {
		return Result{}, fileerr.FromStore("commit blob", err)
	}
	s.sealed = true
	s.size = size

	return m.promoteLocked(ctx, s)
}

// writeChunkLocked places a chunk at its final offset.
//
// Non-last chunks define the chunk size; the first one to arrive fixes it.
// A last chunk that arrives before any other cannot be placed yet and is
// held in pendingTail until the size is known.
func (m *Manager) writeChunkLocked(ctx context.Context, s *session, chunk Chunk) error {
	size := int64(len(chunk.Payload))
	isLast := chunk.Index == s.total-1

	if chunk.Index == 0 {
		s.fileType = detectFileType(chunk.Payload, chunk.FileName)
	}

	if isLast {
		if s.total == 1 {
			return m.writeAt(ctx, s, chunk.Payload, 0)
		}
		if s.chunkSize == 0 {
			s.pendingTail = append([]byte(nil), chunk.Payload...)
			return nil
		}
		if size > s.chunkSize {
			return fileerr.New(fileerr.InvalidChunk, "submit chunk",
				"last chunk larger than chunk size %d", s.chunkSize)
		}
		if m.exceedsFileLimit(s.total, s.chunkSize, size) {
			return m.fileTooLarge()
		}
		return m.writeAt(ctx, s, chunk.Payload, s.offset(chunk.Index))
	}

	if size == 0 {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk", "empty chunk")
	}
	if s.chunkSize != 0 && size != s.chunkSize {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk",
			"chunk size %d differs from %d", size, s.chunkSize)
	}
	if s.chunkSize == 0 && s.pendingTail != nil && int64(len(s.pendingTail)) > size {
		return fileerr.New(fileerr.InvalidChunk, "submit chunk",
			"chunk size %d smaller than the last chunk", size)
	}
	if m.exceedsFileLimit(s.total, size, int64(len(s.pendingTail))) {
		return m.fileTooLarge()
	}

	learned := s.chunkSize == 0
	s.chunkSize = size
	if err := m.writeAt(ctx, s, chunk.Payload, s.offset(chunk.Index)); err != nil {
		if learned {
			s.chunkSize = 0
		}
		return err
	}

	if s.pendingTail != nil {
		if err := m.writeAt(ctx, s, s.pendingTail, s.offset(s.total-1)); err != nil {
			// The tail stays pending; the next chunk retries it
			return err
		}
		s.pendingTail = nil
	}
	return nil
}

// exceedsFileLimit reports whether total chunks of chunkSize bytes, the last
// one tail bytes long, add up to more than MaxFileBytes.
func (m *Manager) exceedsFileLimit(total int, chunkSize, tail int64) bool {
	limit := m.config.MaxFileBytes
	if limit <= 0 {
		return false
	}
	body := int64(total - 1)
	if body > limit/chunkSize {
		return true
	}
	return body*chunkSize+tail > limit
}

func (m *Manager) fileTooLarge() error {
	return fileerr.New(fileerr.InvalidChunk, "submit chunk",
		"file exceeds %d bytes", m.config.MaxFileBytes)
}

func (m *Manager) writeAt(ctx context.Context, s *session, data []byte, offset int64) error {
	if err := m.blobs.WriteAt(ctx, s.blobRef, data, offset); err != nil {
		return fileerr.FromStore("write chunk", err)
	}
	s.bytesWritten += int64(len(data))
	return nil
}

// promoteLocked creates the file record, or attaches the variant, for a
// sealed session. On failure the session stays sealed and the next
// submission retries.
func (m *Manager) promoteLocked(ctx context.Context, s *session) (Result, error) {
	op := "create file"
	var err error
	if s.isVariant() {
		// Setting the same ref twice is harmless, so a retry needs no check
		op = "set variant"
		err = m.metadata.SetVariant(ctx, s.fileKey, s.key.resolution, s.blobRef)
	} else {
		err = m.createFile(ctx, s)
	}
	if err != nil {
		logger.Warn("Upload promotion failed, session kept for retry: key=%s blob=%s: %v",
			s.fileKey, s.blobRef, err)
		return Result{}, fileerr.FromStore(op, err)
	}

	m.removeLocked(s)
	m.metrics.RecordSessionFinished("completed", s.size, m.now().Sub(s.createdAt))
	if s.isVariant() {
		logger.Info("Variant uploaded: file=%s resolution=%s size=%d chunks=%d",
			s.fileKey, s.key.resolution, s.size, s.total)
	} else {
		logger.Info("Upload completed: file=%s name=%q size=%d chunks=%d",
			s.fileKey, s.key.fileName, s.size, s.total)
	}
	return Result{Done: true, FileKey: s.fileKey}, nil
}

func (m *Manager) createFile(ctx context.Context, s *session) error {
	_, err := m.metadata.CreateFile(ctx, &metadata.File{
		Key:       s.fileKey,
		Name:      s.key.fileName,
		Type:      s.fileType,
		ParentKey: s.key.folderKey,
		Size:      s.size,
		BlobRef:   s.blobRef,
	}, metadata.RoleGrant{MemberID: s.key.memberID, Roles: metadata.AllRoles})

	if metadata.IsAlreadyExists(err) {
		// An earlier attempt succeeded but its reply was lost
		existing, getErr := m.metadata.GetFileByKey(ctx, s.fileKey)
		if getErr == nil && existing.BlobRef == s.blobRef {
			return nil
		}
	}
	return err
}

// removeLocked closes s and drops it from the map. Caller holds s.mu; the
// lock order is always session then manager.
func (m *Manager) removeLocked(s *session) {
	s.closed = true
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

// discardBlob deletes a blob no session will use. Failures are left to the
// orphan collector.
func (m *Manager) discardBlob(ref blob.Ref) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.blobs.Delete(ctx, ref); err != nil {
		logger.Warn("Failed to delete abandoned blob %s: %v", ref, err)
	}
}

// LiveBlobRefs returns the blobs held by in-flight sessions.
func (m *Manager) LiveBlobRefs() []blob.Ref {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := make([]blob.Ref, 0, len(m.sessions))
	for _, s := range m.sessions {
		refs = append(refs, s.blobRef)
	}
	return refs
}

// ActiveSessions returns the number of in-flight sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
