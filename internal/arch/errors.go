package arch

import "errors"

// Static errors
var (
	// ErrDecode indicates the base architecture could not decode the bytes at
	// the requested address.
	ErrDecode = errors.New("instruction decode failed")

	// ErrInconsistentPatch indicates a patch was found for an address but holds
	// no instruction trees. Patches are validated when stored, so this is an
	// internal fault and never a lookup miss.
	ErrInconsistentPatch = errors.New("patch holds no instructions")

	// ErrArchitectureNotFound indicates no architecture is registered under a name.
	ErrArchitectureNotFound = errors.New("architecture not found")
)
