package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrTaskExists indicates a task with the requested id already exists.
	ErrTaskExists = errors.New("store: task exists")

	// ErrSessionTaken indicates another task already owns the session id.
	ErrSessionTaken = errors.New("store: session owned by another task")

	// ErrSessionAlreadySet indicates the task is bound to a different session.
	ErrSessionAlreadySet = errors.New("store: task already bound to another session")

	// ErrDuplicateSequence indicates the task already has a record at that sequence.
	ErrDuplicateSequence = errors.New("store: duplicate sequence")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store: closed")
)

// SerializationError wraps JSON marshaling/unmarshaling errors with context.
type SerializationError struct {
	TaskID string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("store: serialization error for task %q: %v", e.TaskID, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
