package metadata

import (
	"errors"
	"time"
	"unicode/utf8"
)

// FileType enumerates what a File record represents.
type FileType string

const (
	FileTypeFolder   FileType = "folder"
	FileTypeDocument FileType = "document"
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
)

// Valid reports whether t is one of the known file types.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeFolder, FileTypeDocument, FileTypeImage, FileTypeVideo, FileTypeAudio:
		return true
	}
	return false
}

var errCorruptTree = errors.New("parent chain contains a cycle")

// MaxNameLength is the maximum file name length in characters.
const MaxNameLength = 255

// BlobRef is an opaque handle into the blob store.
//
// It is defined here rather than in the blob package so that metadata
// records can reference blobs without importing a storage backend.
type BlobRef string

// File is the persisted record for a folder or a file.
//
// Invariants:
//   - Key is immutable once created
//   - A folder never has a BlobRef or variants
//   - A non-folder has exactly one BlobRef once its upload completed
type File struct {
	// ID is the store-assigned numeric identity, used by role grants
	ID int64 `json:"id"`

	// Key is the public opaque identifier (UUID string)
	Key string `json:"key"`

	// Name is the display name, 1..255 characters
	Name string `json:"name"`

	Type FileType `json:"type"`

	// ParentKey is empty only for root-level items
	ParentKey string `json:"parent_key,omitempty"`

	Size int64 `json:"size"`

	BlobRef BlobRef `json:"blob_ref,omitempty"`

	// Variants maps a resolution tag (e.g. "720p") to an alternative encoding
	Variants map[string]BlobRef `json:"variants,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFolder reports whether the record is a folder.
func (f *File) IsFolder() bool {
	return f.Type == FileTypeFolder
}

// Clone returns a deep copy so callers can't mutate store-owned records.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	if f.Variants != nil {
		c.Variants = make(map[string]BlobRef, len(f.Variants))
		for k, v := range f.Variants {
			c.Variants[k] = v
		}
	}
	return &c
}

// BlobRefs returns every blob referenced by the record (original and variants).
func (f *File) BlobRefs() []BlobRef {
	refs := make([]BlobRef, 0, 1+len(f.Variants))
	if f.BlobRef != "" {
		refs = append(refs, f.BlobRef)
	}
	for _, ref := range f.Variants {
		refs = append(refs, ref)
	}
	return refs
}

// ValidateName checks the 1..255 character rule and rejects path separators.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return &StoreError{Code: ErrInvalidArgument, Message: "file name must be 1-255 characters"}
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return &StoreError{Code: ErrInvalidArgument, Message: "file name contains an invalid character"}
		}
	}
	return nil
}

// MaxResolutionLength bounds a variant tag.
const MaxResolutionLength = 32

// ValidateResolution checks a variant tag such as "720p": 1..32 ASCII
// letters, digits, '-' or '_'.
func ValidateResolution(tag string) error {
	if tag == "" || len(tag) > MaxResolutionLength {
		return &StoreError{Code: ErrInvalidArgument, Message: "resolution must be 1-32 characters"}
	}
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return &StoreError{Code: ErrInvalidArgument, Message: "resolution contains an invalid character"}
		}
	}
	return nil
}

// ValidateFile checks a record before it is persisted.
func ValidateFile(f *File) error {
	if f.Key == "" {
		return &StoreError{Code: ErrInvalidArgument, Message: "file key is required"}
	}
	if err := ValidateName(f.Name); err != nil {
		return err
	}
	if !f.Type.Valid() {
		return &StoreError{Code: ErrInvalidArgument, Message: "unknown file type", Key: f.Key}
	}
	if f.IsFolder() && (f.BlobRef != "" || len(f.Variants) > 0) {
		return &StoreError{Code: ErrInvalidArgument, Message: "folder cannot reference content", Key: f.Key}
	}
	if !f.IsFolder() && f.BlobRef == "" {
		return &StoreError{Code: ErrInvalidArgument, Message: "file requires committed content", Key: f.Key}
	}
	return nil
}

// PrepareNew validates f and returns the copy a store should persist, with
// timestamps defaulted to now. The ID is left for the store to assign.
func PrepareNew(f *File, now time.Time) (*File, error) {
	if f == nil {
		return nil, NewInvalidArgumentError("", "file is required")
	}
	if err := ValidateFile(f); err != nil {
		return nil, err
	}
	c := f.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c, nil
}

// CheckMove validates moving key under parentKey. lookup must read from the
// same snapshot the caller will write to.
//
// The walk from parentKey to the root fails with ErrInvalidArgument when it
// meets key, which would detach a subtree into a cycle.
func CheckMove(key, parentKey string, lookup func(key string) (*File, error)) error {
	if parentKey == "" {
		return nil
	}
	if parentKey == key {
		return NewInvalidArgumentError(key, "cannot move a file under itself")
	}

	parent, err := lookup(parentKey)
	if err != nil {
		return err
	}
	if !parent.IsFolder() {
		return NewInvalidArgumentError(parentKey, "target parent is not a folder")
	}

	seen := map[string]struct{}{parentKey: {}}
	for cur := parent.ParentKey; cur != ""; {
		if cur == key {
			return NewInvalidArgumentError(key, "cannot move a folder under its own descendant")
		}
		if _, loop := seen[cur]; loop {
			return NewIOError("walk ancestors", errCorruptTree)
		}
		seen[cur] = struct{}{}

		ancestor, err := lookup(cur)
		if err != nil {
			return err
		}
		cur = ancestor.ParentKey
	}
	return nil
}

// ValidateVariant checks a variant attachment against the target record.
func ValidateVariant(f *File, resolution string, ref BlobRef) error {
	if resolution == "" {
		return NewInvalidArgumentError(f.Key, "resolution tag is required")
	}
	if ref == "" {
		return NewInvalidArgumentError(f.Key, "variant content is required")
	}
	if f.IsFolder() {
		return NewInvalidArgumentError(f.Key, "folder cannot reference content")
	}
	return nil
}
