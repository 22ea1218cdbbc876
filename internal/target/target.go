// Package target defines the contracts between the debugger core and the
// process being debugged. A Process implementation owns the live script
// engine (in another OS process, a VM, or in-process for tests) and exposes
// the low-level primitives the core composes: suspend/resume, trigger
// installation, frame access, and in-target evaluation.
//
// The core never holds engine-native references directly; it sees opaque
// ObjectRefs with stable identities and goes through the Process and
// Interaction interfaces for everything else.
package target

// ThreadRef identifies a thread of the debugged process. The zero value
// means "no thread" (used by events that are not thread-scoped).
type ThreadRef struct {
	// ID is unique for the lifetime of the target.
	ID uint64

	// Name is a human-readable thread name, if the target knows one.
	Name string
}

// CodeRef identifies one unit of executable code observed in the target
// (a compiled script, function, or chunk). Refs are stable for the life
// of the target.
type CodeRef uint64

// CodeInfo describes a code unit for script discovery.
type CodeInfo struct {
	// Name is the source name the engine associates with the unit
	// (typically a file path or a synthetic <eval> name).
	Name string

	// Source is the full source text, when the target can provide it.
	Source string

	// Lines are the executable locations of the unit, one entry per
	// breakable line, in ascending line order.
	Lines []Location
}

// Location is an executable position inside a code unit. Locations are
// comparable and usable as map keys.
type Location struct {
	// Code is the owning code unit.
	Code CodeRef

	// Line is the 1-based source line the location maps to.
	Line int

	// Index is the instruction index within the unit, or -1 when the
	// target does not expose instruction-level positions.
	Index int
}

// IsZero reports whether l is the zero Location.
func (l Location) IsZero() bool {
	return l == Location{}
}

// TriggerID identifies an installed low-level trigger. Zero is never a
// valid trigger.
type TriggerID int64

// StepDepth selects the stepping granularity of a step trigger.
type StepDepth int

const (
	// StepInto fires on the next executable position at any depth.
	StepInto StepDepth = iota
	// StepOver fires on the next executable position at the same or a
	// shallower call depth.
	StepOver
	// StepOut fires on the next executable position at a shallower
	// call depth.
	StepOut
)

// String returns the conventional name of the step depth.
func (d StepDepth) String() string {
	switch d {
	case StepInto:
		return "into"
	case StepOver:
		return "over"
	case StepOut:
		return "out"
	default:
		return "unknown"
	}
}

// InstructionInfo describes the instruction at a location, for
// recognizing stepping artifacts.
type InstructionInfo struct {
	// DiscardsReturnValue is true when the instruction only disposes of
	// the return value of a preceding call.
	DiscardsReturnValue bool

	// LastInFunction is true when the instruction is the final one of
	// its enclosing function.
	LastInFunction bool
}

// FrameRef is a handle to one native stack frame of a suspended thread.
// It is only valid while the owning suspension lasts; the target reports
// ErrStaleFrame when a ref outlives the stack it came from.
type FrameRef struct {
	// Thread owns the frame.
	Thread ThreadRef

	// Depth is the frame's position, 0 being the innermost frame.
	Depth int

	// Name is the name of the function executing in the frame, when
	// the target knows one.
	Name string

	// Location is the frame's current executable position.
	Location Location

	// This is the receiver value visible in the frame, or Undefined{}.
	This Value

	// Handle is target-private state; the core treats it as opaque.
	Handle any
}

// ScopeKind classifies one entry of a frame's scope chain.
type ScopeKind int

const (
	// ScopeLocal is the innermost block/function scope.
	ScopeLocal ScopeKind = iota
	// ScopeClosure is an enclosing function's captured scope.
	ScopeClosure
	// ScopeGlobal is the global scope.
	ScopeGlobal
)

// String returns the conventional name of the scope kind.
func (k ScopeKind) String() string {
	switch k {
	case ScopeLocal:
		return "local"
	case ScopeClosure:
		return "closure"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ScopeRef is one entry of a frame's scope chain. The scope's bindings
// are enumerated through Interaction.OwnProperties on Object.
type ScopeRef struct {
	Kind   ScopeKind
	Object ObjectRef
}

// Process is the low-level control surface of a debugged target.
//
// The target counts suspensions: emitting a batch suspends it once
// more, each Resume lifts one suspension, and execution continues when
// none remain. A target with several threads may emit another batch
// while an earlier one is still unresumed. The channel closes after a
// DeathEvent. All other methods are safe to call from any goroutine;
// the blocking ones (Evaluate, Interaction calls) are only valid while
// the target is suspended.
type Process interface {
	// Events returns the stream of event batches. The same channel is
	// returned on every call.
	Events() <-chan Batch

	// Resume lifts one suspension. Calling Resume with no suspension
	// outstanding is a no-op.
	Resume() error

	// CodeUnits enumerates the code units currently loaded.
	CodeUnits() ([]CodeRef, error)

	// CodeInfo describes one code unit.
	CodeInfo(ref CodeRef) (CodeInfo, error)

	// SetLocationTrigger installs a trigger that fires when execution
	// reaches loc.
	SetLocationTrigger(loc Location) (TriggerID, error)

	// SetStepTrigger installs a one-shot stepping trigger for thread.
	SetStepTrigger(thread ThreadRef, depth StepDepth) (TriggerID, error)

	// SetEntryTrigger installs a trigger firing when thread enters a
	// function.
	SetEntryTrigger(thread ThreadRef) (TriggerID, error)

	// SetExitTrigger installs a trigger firing when thread leaves a
	// function.
	SetExitTrigger(thread ThreadRef) (TriggerID, error)

	// ClearTrigger removes an installed trigger. Clearing an unknown
	// trigger is a no-op.
	ClearTrigger(id TriggerID) error

	// Frames returns the suspended thread's stack, innermost first.
	Frames(thread ThreadRef) ([]FrameRef, error)

	// FrameScopes returns the scope chain of a frame, innermost first.
	FrameScopes(frame FrameRef) ([]ScopeRef, error)

	// WriteFrameLocal assigns a new value to a named local of a frame.
	WriteFrameLocal(frame FrameRef, name string, v Value) error

	// PopFrames discards all frames up to and including frame. The
	// operation is best-effort and may leave the engine in an
	// inconsistent state; callers own that risk.
	PopFrames(thread ThreadRef, frame FrameRef) error

	// Evaluate compiles and runs an expression in the lexical context
	// of frame, with bindings installed as additional named references.
	// A script-level failure is reported as a *ScriptError.
	Evaluate(thread ThreadRef, frame FrameRef, expr string, bindings map[string]Value) (Value, error)

	// InstructionInfo describes the instruction at loc. Targets without
	// instruction-level knowledge return the zero value.
	InstructionInfo(loc Location) InstructionInfo

	// PinObject prevents the target's collector from reclaiming ref
	// until it is unpinned. Pinning is reference-counted per ref.
	PinObject(ref ObjectRef) error

	// UnpinObject releases one pin of ref.
	UnpinObject(ref ObjectRef) error

	// Close tears the target down. The events channel closes and all
	// outstanding operations fail.
	Close() error
}
