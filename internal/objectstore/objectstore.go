// Package objectstore stores job inputs and outputs as blobs addressed by key.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// Error kinds returned by every Store implementation. Match them with errors.Is.
var (
	ErrNotFound         = errors.New("object not found")
	ErrPermissionDenied = errors.New("object store permission denied")
	ErrUnavailable      = errors.New("object store unavailable")
	ErrStorage          = errors.New("object store error")
)

// Store durably stores bytes by key
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object for reading. The caller must close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Error describes a failed object store operation
type Error struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + " " + e.Key + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, key string, kind, err error) *Error {
	return &Error{Op: op, Key: key, Kind: kind, Err: err}
}
