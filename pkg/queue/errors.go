package queue

import (
	"errors"
	"fmt"
)

// ErrAlreadyActive indicates a single-resource violation: another job is
// already dispatched to the machine.
var ErrAlreadyActive = errors.New("another job is already active")

// NotFoundError indicates an unknown job id.
type NotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.ID)
}

// AlreadyExistsError indicates an attempt to enqueue a duplicate job id.
type AlreadyExistsError struct {
	ID string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("job %q already queued", e.ID)
}

// SnapshotError wraps a serialization or I/O failure during queue save/load.
// A load failure aborts only that load; the caller decides whether to fall
// back to an empty queue or surface the error to the operator.
type SnapshotError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SnapshotError) Error() string {
	return fmt.Sprintf("queue snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *SnapshotError) Unwrap() error {
	return e.Err
}
