package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a repository, path or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath is returned when a coordinate or path cannot be resolved to a
	// location inside the repository root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPolicyDenied is returned when repository policy forbids the operation.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrCapacityExceeded is returned when the storage backend reports it is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrBackendFailure covers every other backend fault: I/O and permission
	// errors, transport failures, malformed responses.
	ErrBackendFailure = errors.New("backend failure")
)

// StorageError is the only error type that crosses the StorageProvider and
// deploy boundaries. Kind is one of the sentinel errors above, Reason is a short
// message safe to show to clients and Cause keeps the underlying fault for logs.
type StorageError struct {
	Kind   error
	Reason string
	Cause  error
}

func (e *StorageError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches the error kind, so errors.Is(err, ErrNotFound) works on any
// StorageError regardless of its cause.
func (e *StorageError) Is(target error) bool {
	return e.Kind == target
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func newStorageError(kind error, cause error, format string, args ...any) *StorageError {
	return &StorageError{Kind: kind, Reason: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound builds an ErrNotFound storage error.
func NotFound(format string, args ...any) *StorageError {
	return newStorageError(ErrNotFound, nil, format, args...)
}

// InvalidPath builds an ErrInvalidPath storage error.
func InvalidPath(format string, args ...any) *StorageError {
	return newStorageError(ErrInvalidPath, nil, format, args...)
}

// PolicyDenied builds an ErrPolicyDenied storage error with the given reason.
func PolicyDenied(reason string) *StorageError {
	return &StorageError{Kind: ErrPolicyDenied, Reason: reason}
}

// CapacityExceeded builds an ErrCapacityExceeded storage error.
func CapacityExceeded(reason string) *StorageError {
	return &StorageError{Kind: ErrCapacityExceeded, Reason: reason}
}

// BackendFailure wraps cause as an ErrBackendFailure storage error. The reason
// is what clients see; the cause is only for logs.
func BackendFailure(cause error, format string, args ...any) *StorageError {
	return newStorageError(ErrBackendFailure, cause, format, args...)
}

// KindOf returns the taxonomy sentinel for err. Errors that are not a
// StorageError are classified as ErrBackendFailure. A nil error has no kind.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrBackendFailure
}

// AsStorageError returns err as a *StorageError, wrapping unclassified errors
// into a BackendFailure with the given fallback reason.
func AsStorageError(err error, fallbackReason string) *StorageError {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se
	}
	return &StorageError{Kind: ErrBackendFailure, Reason: fallbackReason, Cause: err}
}

// ReasonOf returns the client-facing reason of err.
func ReasonOf(err error) string {
	var se *StorageError
	if errors.As(err, &se) {
		if se.Reason != "" {
			return se.Reason
		}
		return se.Kind.Error()
	}
	return ErrBackendFailure.Error()
}
