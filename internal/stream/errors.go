package stream

import "errors"

// Sentinel errors for registry and publisher operations.
var (
	// ErrNotFound signals an unknown or already-expired task id.
	ErrNotFound = errors.New("task stream not found")
	// ErrAlreadyTerminal signals a publish after completion or failure.
	ErrAlreadyTerminal = errors.New("task stream already terminal")
	// ErrUnavailable signals the relay's backing transport is down.
	ErrUnavailable = errors.New("progress broker unavailable")
)
