package tokenstream

import (
	"errors"
	"fmt"
)

// ErrMalformedStream indicates a token list does not parse to a structurally
// valid instruction tree.
var ErrMalformedStream = errors.New("malformed token stream")

// MalformedStreamError describes where and why a token stream failed to parse.
type MalformedStreamError struct {
	// Position is the index of the offending token, or the stream length when
	// the stream ended early.
	Position int
	Reason   string
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("%v at token %d: %s", ErrMalformedStream, e.Position, e.Reason)
}

// Unwrap allows errors.Is(err, ErrMalformedStream).
func (e *MalformedStreamError) Unwrap() error {
	return ErrMalformedStream
}
