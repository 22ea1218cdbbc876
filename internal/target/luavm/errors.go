package luavm

import "errors"

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("lua target already running")

	// ErrNoScript is returned when Run is called before LoadScript.
	ErrNoScript = errors.New("no script loaded")

	// ErrPopUnsupported is returned by PopFrames; the VM offers no way
	// to unwind selected frames and restart them.
	ErrPopUnsupported = errors.New("lua target cannot pop frames")

	// ErrUnknownObject is returned when an object reference does not
	// resolve in the target's registry.
	ErrUnknownObject = errors.New("unknown object reference")

	// ErrBudgetExhausted is the cause raised into the script when the
	// configured instruction budget runs out.
	ErrBudgetExhausted = errors.New("instruction budget exhausted")
)
