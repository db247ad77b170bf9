package task

import (
	"errors"
	"fmt"
)

// Static errors
var (
	// ErrTaskActive indicates a task is already running for the key.
	ErrTaskActive = errors.New("task already active")

	// ErrManagerClosed indicates Start or Run after Shutdown.
	ErrManagerClosed = errors.New("task manager is shut down")
)

// PanicError reports a task function that panicked.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}
