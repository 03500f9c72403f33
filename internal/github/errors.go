package github

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a missing remote object (unknown ref, blob, or
	// path).
	ErrNotFound = errors.New("remote object not found")

	// ErrRefMoved marks an optimistic-concurrency failure: the branch ref
	// advanced between the tree snapshot and the commit. The whole sync
	// pass should be retried.
	ErrRefMoved = errors.New("branch ref moved during commit")
)

// APIError describes a non-success remote API response, naming the
// failed operation and path so callers can render a human-readable
// summary instead of a raw transport error.
type APIError struct {
	Op         string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Path != "" {
		return fmt.Sprintf("github: %s %q: %s (status %d)", e.Op, e.Path, msg, e.StatusCode)
	}
	return fmt.Sprintf("github: %s: %s (status %d)", e.Op, msg, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// DecodeError marks a payload that could not be decoded. It is isolable
// to one file: the sync engine skips the file for the pass instead of
// aborting.
type DecodeError struct {
	What string // blob sha or path
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
