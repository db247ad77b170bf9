package deobf

import "errors"

// Static errors
var (
	// ErrPassFailure indicates the pass could not analyse a function.
	// No patches are committed when it is returned.
	ErrPassFailure = errors.New("obfuscation pass failed")

	// ErrUnknownPolicy indicates a conflict policy name that is not defined.
	ErrUnknownPolicy = errors.New("unknown conflict policy")

	// ErrUnknownIdiom indicates an idiom name that is not in the catalog.
	ErrUnknownIdiom = errors.New("unknown idiom")
)
