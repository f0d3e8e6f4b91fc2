package checkpoint

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches any *ConflictError.
	ErrConflict = errors.New("checkpoint conflict")
	// ErrUnavailable matches any *UnavailableError.
	ErrUnavailable = errors.New("checkpoint store unavailable")
	// ErrNotFound is returned by Get for an unknown checkpoint id.
	ErrNotFound = errors.New("checkpoint not found")
)

// ConflictError reports an Append whose parent was not the thread head.
type ConflictError struct {
	ThreadID string
	ParentID string
	HeadID   string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("thread %s: parent %q is not the head (head is %q)", e.ThreadID, e.ParentID, e.HeadID)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnavailableError wraps a storage failure that is not a conflict.
type UnavailableError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying storage error.
func (e *UnavailableError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnavailable.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
