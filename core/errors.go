package core

import "errors"

var (
	// ErrNotImplemented is the panic value of the Unimplemented source.
	// It signals a missing concrete implementation, not a runtime condition.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidFilter is returned when a wire filter cannot be decoded
	ErrInvalidFilter = errors.New("invalid filter")
)
