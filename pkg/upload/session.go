package upload

import (
	"math/bits"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// sessionKey identifies an in-flight upload. Two concurrent uploads of the
// same name into the same folder by the same member share a session.
// Variant uploads also carry the target file and resolution.
type sessionKey struct {
	memberID   int64
	folderKey  string
	fileName   string
	variantOf  string
	resolution string
}

// chunkMask is a bitset of received chunk indexes. It grows with the
// highest index set, not with the announced total.
type chunkMask []uint64

func (m chunkMask) has(i int) bool {
	w := i / 64
	return w < len(m) && m[w]&(1<<(uint(i)%64)) != 0
}

func (m *chunkMask) set(i int) {
	w := i / 64
	if w >= len(*m) {
		*m = append(*m, make(chunkMask, w+1-len(*m))...)
	}
	(*m)[w] |= 1 << (uint(i) % 64)
}

func (m chunkMask) count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

// session is the state of one chunked upload.
//
// Every field below mu is guarded by it. closed is set exactly once, by
// whoever removes the session from the manager (promotion or sweep); a
// goroutine that finds closed set after taking the lock must start over.
type session struct {
	key sessionKey

	mu sync.Mutex

	total        int
	received     chunkMask
	chunkSize    int64
	pendingTail  []byte
	bytesWritten int64
	blobRef      blob.Ref
	fileKey      string
	fileType     metadata.FileType

	// sealed means the blob is committed and only the metadata record is
	// missing
	sealed bool
	size   int64

	closed     bool
	createdAt  time.Time
	lastActive time.Time
}

func newSession(key sessionKey, total int, ref blob.Ref, fileKey string, now time.Time) *session {
	return &session{
		key:        key,
		total:      total,
		blobRef:    ref,
		fileKey:    fileKey,
		createdAt:  now,
		lastActive: now,
	}
}

func (s *session) isVariant() bool {
	return s.key.resolution != ""
}

func (s *session) complete() bool {
	return s.received.count() == s.total && s.pendingTail == nil
}

// offset returns where chunk index starts. Only valid once chunkSize is
// known, or for index 0.
func (s *session) offset(index int) int64 {
	return int64(index) * s.chunkSize
}
