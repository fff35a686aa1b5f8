package metadata

import "fmt"

// StoreError represents a domain error from metadata store operations.
//
// These are business logic errors (file not found, folder not empty, etc.)
// as opposed to infrastructure errors, which are reported with ErrIOError
// and wrap the underlying cause.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Key is the file key related to the error (if applicable)
	Key string

	// Err is the underlying infrastructure error for ErrIOError
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = msg + ": " + e.Key
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested file or grant doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a file with the same key already exists
	ErrAlreadyExists

	// ErrNotEmpty indicates a folder still has children
	ErrNotEmpty

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty name, folder with a blob, unknown parent
	ErrInvalidArgument

	// ErrIOError indicates the backing database failed
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrIOError:
		return "IOError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// NewNotFoundError returns an ErrNotFound error for the given key.
func NewNotFoundError(key string, what string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: what + " not found",
		Key:     key,
	}
}

// NewIOError wraps an infrastructure error.
func NewIOError(op string, err error) *StoreError {
	return &StoreError{
		Code:    ErrIOError,
		Message: op + " failed",
		Err:     err,
	}
}

// IsNotFound reports whether err is a StoreError with ErrNotFound.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*StoreError); ok {
			return se.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// NewInvalidArgumentError reports a rejected request parameter.
func NewInvalidArgumentError(key string, message string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidArgument,
		Message: message,
		Key:     key,
	}
}

// NewNotEmptyError reports an attempt to delete a folder with children.
func NewNotEmptyError(key string) *StoreError {
	return &StoreError{
		Code:    ErrNotEmpty,
		Message: "folder not empty",
		Key:     key,
	}
}

// NewAlreadyExistsError reports a duplicate file key.
func NewAlreadyExistsError(key string) *StoreError {
	return &StoreError{
		Code:    ErrAlreadyExists,
		Message: "file already exists",
		Key:     key,
	}
}

// IsAlreadyExists reports whether err is a StoreError with ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrAlreadyExists)
}
