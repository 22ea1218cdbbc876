// Package notify delivers the debugger's outward notifications:
// pauses, resumes, uncaught errors, console output, initialization,
// and session close.
//
// Delivery is asynchronous with respect to the publisher. Each
// subscriber owns an unbounded FIFO and a delivery goroutine, so a
// subscriber reacting to a pause by calling back into the debugger can
// never deadlock against the dispatch sequence that published the
// event. Order is preserved per subscriber.
package notify

import (
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

// Event is one outward notification. Concrete types: PausedEvent,
// ResumedEvent, UncaughtErrorEvent, InitializedEvent, ConsoleEvent,
// and ClosedEvent.
type Event interface {
	isEvent()
}

// PauseReason says why the target paused.
type PauseReason int

const (
	// ReasonBreakpoint is a breakpoint hit.
	ReasonBreakpoint PauseReason = iota
	// ReasonStep is a completed step.
	ReasonStep
	// ReasonException is a thrown exception.
	ReasonException
	// ReasonBreakStatement is an in-script pause statement.
	ReasonBreakStatement
)

// String returns the conventional name of the reason.
func (r PauseReason) String() string {
	switch r {
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonStep:
		return "step"
	case ReasonException:
		return "exception"
	case ReasonBreakStatement:
		return "break statement"
	default:
		return "unknown"
	}
}

// PausedEvent reports that the target paused.
type PausedEvent struct {
	Reason PauseReason
	Thread target.ThreadRef

	// Position is the top frame's script position; Valid is false when
	// the pause site maps to no known script.
	Position script.Position
	Valid    bool

	// Error carries the marshalled exception payload when Reason is
	// ReasonException; nil otherwise.
	Error value.Node
}

func (PausedEvent) isEvent() {}

// ResumedEvent reports that the target resumed.
type ResumedEvent struct{}

func (ResumedEvent) isEvent() {}

// UncaughtErrorEvent reports an exception that will propagate out of
// the script uncaught. Error is the marshalled payload, promoted to
// session lifetime.
type UncaughtErrorEvent struct {
	Error value.Node
}

func (UncaughtErrorEvent) isEvent() {}

// InitializedEvent reports that the debugger finished initial script
// discovery. Late subscribers receive it as a replay.
type InitializedEvent struct{}

func (InitializedEvent) isEvent() {}

// ConsoleEvent carries one line of captured script output.
type ConsoleEvent struct {
	Line string
}

func (ConsoleEvent) isEvent() {}

// ClosedEvent reports target death or disconnect. It is the final
// event of a session.
type ClosedEvent struct{}

func (ClosedEvent) isEvent() {}
