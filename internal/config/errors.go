package config

import (
	"errors"
	"fmt"
)

// Error definitions for the config package
var (
	// ErrInvalidConfigPath is returned when the config file cannot be read.
	ErrInvalidConfigPath = errors.New("invalid config file path")

	// ErrUnknownKey is returned for keys the configuration does not define.
	ErrUnknownKey = errors.New("unknown configuration key")

	// ErrUnknownBackend is returned for an unsupported patch backend.
	ErrUnknownBackend = errors.New("unknown patch backend")

	// ErrDuplicateEntry is returned when a list holds the same value twice.
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// ValidationError reports an invalid field value.
type ValidationError struct {
	Field string
	Value string
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Cause)
}

// Unwrap exposes the underlying reason.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}
