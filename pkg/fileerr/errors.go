// Package fileerr defines the error taxonomy shared by the access resolver,
// the upload session manager and the range stream server.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Kind. Protocol adapters map the Kind to a status code and expose it as a
// machine-readable string, never the wrapped cause.
//
// Protocol Mapping:
//
//	Kind                  HTTP
//	--------------------  ----
//	NotFound              404
//	Forbidden             403
//	Unauthenticated       401
//	InvalidArgument       400
//	InvalidChunk          400
//	InvalidResolution     400
//	SessionConflict       409
//	Conflict              409
//	RangeNotSatisfiable   416
//	StorageError          503
package fileerr

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Kind classifies an error for callers that need to branch on it.
type Kind int

const (
	// Unknown is never produced on purpose; KindOf returns it for foreign errors.
	Unknown Kind = iota
	NotFound
	Forbidden
	Unauthenticated
	InvalidArgument
	InvalidChunk
	InvalidResolution
	SessionConflict
	Conflict
	RangeNotSatisfiable
	StorageError
)

var kindNames = map[Kind]string{
	Unknown:             "Unknown",
	NotFound:            "NotFound",
	Forbidden:           "Forbidden",
	Unauthenticated:     "Unauthenticated",
	InvalidArgument:     "InvalidArgument",
	InvalidChunk:        "InvalidChunk",
	InvalidResolution:   "InvalidResolution",
	SessionConflict:     "SessionConflict",
	Conflict:            "Conflict",
	RangeNotSatisfiable: "RangeNotSatisfiable",
	StorageError:        "StorageError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the domain error type.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, fileerr.E(NotFound)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// E returns a bare sentinel of the given kind, for use with errors.Is.
func E(kind Kind) *Error {
	return &Error{Kind: kind}
}

// New builds an error with a user-facing message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err. Errors that are not *Error report Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the message safe to show to a caller. Storage
// failures and foreign errors never leak their cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == StorageError || e.Kind == Unknown {
		return "storage temporarily unavailable"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

// FromStore translates metadata and blob store failures into domain errors.
//
// Already-classified errors pass through untouched so callers can wrap
// liberally without losing the original kind.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var storeErr *metadata.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case metadata.ErrNotFound:
			return &Error{Kind: NotFound, Op: op, Message: storeErr.Message, Err: err}
		case metadata.ErrNotEmpty, metadata.ErrAlreadyExists:
			return &Error{Kind: Conflict, Op: op, Message: storeErr.Message, Err: err}
		case metadata.ErrInvalidArgument:
			return &Error{Kind: InvalidArgument, Op: op, Message: storeErr.Message, Err: err}
		default:
			return Wrap(StorageError, op, err)
		}
	}

	switch {
	case errors.Is(err, blob.ErrBlobNotFound):
		return &Error{Kind: NotFound, Op: op, Message: "content not found", Err: err}
	case errors.Is(err, blob.ErrInvalidOffset):
		return &Error{Kind: InvalidChunk, Op: op, Message: "invalid offset", Err: err}
	}

	return Wrap(StorageError, op, err)
}
