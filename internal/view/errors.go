package view

import "errors"

// Static errors
var (
	// ErrUnmapped indicates an address outside every segment of the view.
	ErrUnmapped = errors.New("address not mapped")

	// ErrUnsupportedImage indicates an image whose format or machine type
	// cannot be analysed.
	ErrUnsupportedImage = errors.New("unsupported image")

	// ErrFunctionExists indicates a function is already defined at an address.
	ErrFunctionExists = errors.New("function already defined")

	// ErrNotExecutable indicates a function start outside executable code.
	ErrNotExecutable = errors.New("address is not executable")
)
