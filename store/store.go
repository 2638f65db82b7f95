// Package store defines the object storage facade consumed by the download
// engine.
//
// A Store exposes exactly three operations: a metadata probe, a conditional
// read pinned to a version token, and an unconditional read. Provider
// implementations live in subpackages (s3, azure, gcs) and translate their
// SDK errors into [ErrNotFound] and [ErrPreconditionFailed]; all other
// errors pass through untouched.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors shared by every Store implementation.
var (
	// ErrNotFound is returned when the object or its bucket does not exist.
	ErrNotFound = errors.New("store: object not found")

	// ErrPreconditionFailed is returned by GetConditional when the object's
	// current version no longer matches the requested version token.
	ErrPreconditionFailed = errors.New("store: precondition failed")
)

// Metadata describes the current version of a remote object.
type Metadata struct {
	// ETag is the opaque version token. Empty when the store provides none.
	ETag string

	// Size is the object size in bytes, or -1 when unknown.
	Size int64

	// LastModified is the modification time reported by the store, if any.
	LastModified time.Time
}

// Store is a read-only view of one bucket in an object store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Head returns metadata for key, or ErrNotFound.
	Head(ctx context.Context, key string) (Metadata, error)

	// GetConditional opens key only if its current version matches etag at
	// the moment the read begins. A mismatch is reported as
	// ErrPreconditionFailed before any content is returned.
	GetConditional(ctx context.Context, key, etag string) (io.ReadCloser, error)

	// Get opens key unconditionally.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// NotFoundError records the key that could not be found.
type NotFoundError struct {
	Key string
	Err error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: object not found", e.Key)
	}
	return fmt.Sprintf("%s: object not found: %v", e.Key, e.Err)
}

// Unwrap returns ErrNotFound and the underlying provider error.
func (e *NotFoundError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNotFound}
	}
	return []error{ErrNotFound, e.Err}
}

// PreconditionError records the key and version token that no longer match.
type PreconditionError struct {
	Key  string
	ETag string
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: version %q no longer current", e.Key, e.ETag)
}

// Unwrap returns ErrPreconditionFailed and the underlying provider error.
func (e *PreconditionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPreconditionFailed}
	}
	return []error{ErrPreconditionFailed, e.Err}
}

// IsNotFound reports whether err represents a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreconditionFailed reports whether err represents a version mismatch.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}
