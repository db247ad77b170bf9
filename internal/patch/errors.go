package patch

import (
	"errors"
	"fmt"
)

// Static errors
var (
	// ErrPersistence is matched by every save/load failure (see PersistenceError).
	ErrPersistence = errors.New("patch persistence failed")

	// ErrRecordNotFound indicates no patches were ever saved for a view.
	// Registry.Load treats it as an empty record rather than a failure.
	ErrRecordNotFound = errors.New("patch record not found")

	// ErrRecordCorrupted indicates a persisted record could not be decoded or
	// holds a patch whose token list is malformed.
	ErrRecordCorrupted = errors.New("patch record corrupted")

	// ErrInvalidLength indicates a patch's original instruction length is not positive.
	ErrInvalidLength = errors.New("original instruction length must be positive")

	// ErrEmptyPatch indicates a token list that encodes no instructions.
	ErrEmptyPatch = errors.New("patch encodes no instructions")

	// ErrPatchDirNotDirectory indicates the patch directory path is not a directory.
	ErrPatchDirNotDirectory = errors.New("patch directory path is not a directory")
)

// PersistenceError wraps an I/O or format failure during Save or Load.
type PersistenceError struct {
	Op    string
	View  ViewID
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s patches for %s: %v", e.Op, e.View, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Is makes every PersistenceError match ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// SchemaVersionMismatchError indicates a persisted record uses a schema this
// build does not read.
type SchemaVersionMismatchError struct {
	Expected int
	Actual   int
}

func (e *SchemaVersionMismatchError) Error() string {
	return fmt.Sprintf("schema version mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// RecordCorruptedError indicates a persisted record at Path could not be decoded.
type RecordCorruptedError struct {
	Path  string
	Cause error
}

func (e *RecordCorruptedError) Error() string {
	return fmt.Sprintf("patch record corrupted at %s: %v", e.Path, e.Cause)
}

// Unwrap exposes the decode failure.
func (e *RecordCorruptedError) Unwrap() error {
	return e.Cause
}

// Is makes every RecordCorruptedError match ErrRecordCorrupted.
func (e *RecordCorruptedError) Is(target error) bool {
	return target == ErrRecordCorrupted
}
