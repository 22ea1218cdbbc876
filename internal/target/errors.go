package target

import "errors"

var (
	// ErrTerminated is returned when an operation reaches a target
	// that has already died.
	ErrTerminated = errors.New("target terminated")

	// ErrNotSuspended is returned by operations that require a
	// suspended target.
	ErrNotSuspended = errors.New("target not suspended")

	// ErrStaleFrame is returned when a frame reference outlives the
	// suspension it was taken from.
	ErrStaleFrame = errors.New("stale frame reference")

	// ErrNoSuchLocal is returned when writing a local that does not
	// exist in the frame.
	ErrNoSuchLocal = errors.New("no such local variable")

	// ErrUnknownCode is returned for a CodeRef the target has never
	// reported.
	ErrUnknownCode = errors.New("unknown code unit")
)
