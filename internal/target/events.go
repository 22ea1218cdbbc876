package target

// Batch is one delivery of target events. The target suspends before
// emitting a batch and stays suspended until Resume is called, so every
// event in a batch describes the same stopped moment.
type Batch struct {
	Events []Event
}

// Event is one occurrence reported by the target. The concrete types
// below are the only implementations.
type Event interface {
	isEvent()
}

// CodeLoadEvent reports that a new code unit became available.
type CodeLoadEvent struct {
	Ref CodeRef
}

func (CodeLoadEvent) isEvent() {}

// LocationEvent reports that a location trigger fired.
type LocationEvent struct {
	Thread     ThreadRef
	Location   Location
	Trigger    TriggerID
	StackDepth int
}

func (LocationEvent) isEvent() {}

// StepEvent reports that a step trigger fired.
type StepEvent struct {
	Thread     ThreadRef
	Location   Location
	Trigger    TriggerID
	StackDepth int
}

func (StepEvent) isEvent() {}

// EntryEvent reports that an entry trigger fired on entering a
// function.
type EntryEvent struct {
	Thread     ThreadRef
	Location   Location
	Trigger    TriggerID
	StackDepth int
}

func (EntryEvent) isEvent() {}

// ExitEvent reports that an exit trigger fired on leaving a function.
type ExitEvent struct {
	Thread     ThreadRef
	Location   Location
	Trigger    TriggerID
	StackDepth int
}

func (ExitEvent) isEvent() {}

// ExceptionEvent reports a raised exception.
type ExceptionEvent struct {
	Thread   ThreadRef
	Location Location

	// Thrown is the raised value.
	Thrown Value

	// Info describes the exception.
	Info ExceptionInfo

	// ScriptVisible is false for exceptions internal to the engine
	// that script code can never observe.
	ScriptVisible bool

	// CatchLocation is where the exception will be handled, or nil
	// when it is uncaught.
	CatchLocation *Location

	StackDepth int
}

func (ExceptionEvent) isEvent() {}

// BreakRequestEvent reports that the running script asked to pause, via
// a debugger statement or equivalent.
type BreakRequestEvent struct {
	Thread     ThreadRef
	Location   Location
	StackDepth int
}

func (BreakRequestEvent) isEvent() {}

// DeathEvent reports that the target terminated. It is the final event;
// the events channel closes after its batch.
type DeathEvent struct{}

func (DeathEvent) isEvent() {}
