package debug

import (
	"errors"
	"fmt"

	"github.com/nitish854/ncdbg/internal/value"
)

var (
	// ErrNotPaused is returned by operations that require an active
	// pause.
	ErrNotPaused = errors.New("no pause is active")

	// ErrNoSuchFrame is returned when a frame id does not belong to
	// the current pause.
	ErrNoSuchFrame = errors.New("no such frame")

	// ErrUnknownObject is returned when an object id cannot be
	// resolved.
	ErrUnknownObject = errors.New("unknown object id")

	// ErrHostClosed is returned once the session has ended.
	ErrHostClosed = errors.New("debug host closed")

	// ErrPauseActive is returned when a second pause context would be
	// created while one exists.
	ErrPauseActive = errors.New("a pause context is already active")

	// ErrFrameNotLocatable is returned by restart-frame when the
	// designated frame is no longer present in the native stack.
	ErrFrameNotLocatable = errors.New("frame no longer locatable in native stack")
)

// EvalError reports that an evaluated expression raised a script-level
// error. Value carries the marshalled error payload.
type EvalError struct {
	Value value.Node
}

// Error implements error.
func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluation failed: %s", value.Describe(e.Value))
}
