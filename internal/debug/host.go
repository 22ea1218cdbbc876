package debug

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

var log = logrus.WithField("component", "debug")

// ExceptionPauseMode controls which thrown exceptions pause the
// target.
type ExceptionPauseMode int

const (
	// ExceptionsNever pauses on no exception.
	ExceptionsNever ExceptionPauseMode = iota
	// ExceptionsUncaught pauses only on exceptions no script handler
	// will catch.
	ExceptionsUncaught
	// ExceptionsAll pauses on every script-visible exception.
	ExceptionsAll
)

// String returns the conventional name of the mode.
func (m ExceptionPauseMode) String() string {
	switch m {
	case ExceptionsNever:
		return "never"
	case ExceptionsUncaught:
		return "uncaught"
	case ExceptionsAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseExceptionPauseMode parses "never", "uncaught", or "all".
func ParseExceptionPauseMode(s string) (ExceptionPauseMode, error) {
	switch s {
	case "never", "":
		return ExceptionsNever, nil
	case "uncaught":
		return ExceptionsUncaught, nil
	case "all":
		return ExceptionsAll, nil
	default:
		return ExceptionsNever, fmt.Errorf("unknown exception pause mode %q", s)
	}
}

type hostState int

const (
	stateRunning hostState = iota
	statePaused
	stateClosed
)

// decision is one event's resolution: keep running, pause here, or
// stop the session.
type decision struct {
	pause  bool
	stop   bool
	reason notify.PauseReason
	thread target.ThreadRef
	loc    target.Location
	depth  int

	// exception carries the originating event for exception pauses.
	exception *target.ExceptionEvent
}

// Option configures a Host.
type Option func(*Host)

// WithExceptionPauseMode sets the initial exception pause mode.
func WithExceptionPauseMode(m ExceptionPauseMode) Option {
	return func(h *Host) { h.exceptionMode = m }
}

// Host is the debugger core: it consumes the target's event stream on
// a single dispatch goroutine, decides pause or resume per batch, and
// exposes the paused-state operations clients call concurrently with
// dispatch.
type Host struct {
	proc    target.Process
	inter   target.Interaction
	scripts *script.Registry
	hub     *notify.Hub

	mu            sync.Mutex
	state         hostState
	paused        *PausedContext
	breakpoints   *breakpointSet
	stepper       *stepper
	reqHandlers   map[target.TriggerID]func(target.Event) decision
	exceptionMode ExceptionPauseMode
	started       bool

	retained *value.Retained
	frameSeq atomic.Int64

	done chan struct{}
}

// New returns a host controlling proc. inter serves object-graph
// reads; scripts receives discovered code units; hub carries outward
// notifications.
func New(proc target.Process, inter target.Interaction, scripts *script.Registry, hub *notify.Hub, opts ...Option) *Host {
	h := &Host{
		proc:        proc,
		inter:       inter,
		scripts:     scripts,
		hub:         hub,
		breakpoints: newBreakpointSet(),
		stepper:     &stepper{},
		reqHandlers: make(map[target.TriggerID]func(target.Event) decision),
		retained:    value.NewRetained(proc),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start performs initial script discovery, announces initialization,
// and begins dispatching target events.
func (h *Host) Start() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true

	units, err := h.proc.CodeUnits()
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("enumerate code units: %w", err)
	}
	for _, ref := range units {
		h.observeUnitLocked(ref)
	}
	h.mu.Unlock()

	h.hub.Publish(notify.InitializedEvent{})
	log.WithField("scripts", len(h.scripts.Scripts())).Info("debug host started")
	go h.run()
	return nil
}

// Done closes when the session has ended (target death or Close).
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Close tears the session down and waits for dispatch to finish.
func (h *Host) Close() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()

	err := h.proc.Close()
	if started {
		<-h.done
	} else {
		h.finish()
	}
	return err
}

func (h *Host) run() {
	for batch := range h.proc.Events() {
		if h.handleBatch(batch) {
			break
		}
	}
	h.finish()
}

// finish runs the orderly completion path: end any active pause, lift
// session pins, and signal every listener.
func (h *Host) finish() {
	h.mu.Lock()
	if h.state == stateClosed {
		h.mu.Unlock()
		return
	}
	if h.paused != nil {
		h.paused.finish()
		h.paused = nil
	}
	h.state = stateClosed
	h.mu.Unlock()

	h.retained.Close()
	h.hub.Publish(notify.ClosedEvent{})
	log.Info("debug session ended")
	close(h.done)
}

// handleBatch resolves one event batch atomically: every event is
// resolved before any resume is acted on, and the target resumes only
// if no event resolved to pause. Returns true when the session is
// over.
func (h *Host) handleBatch(batch target.Batch) bool {
	var pausedHere *PausedContext

	h.mu.Lock()
	for _, ev := range batch.Events {
		d := h.safeHandleEvent(ev)
		if d.stop {
			h.mu.Unlock()
			return true
		}
		if d.pause && h.paused == nil {
			ctx, err := h.beginPauseLocked(d)
			if err != nil {
				log.WithError(err).Error("could not create pause context")
				continue
			}
			pausedHere = ctx
		}
	}
	h.mu.Unlock()

	if pausedHere == nil {
		if err := h.proc.Resume(); err != nil && !errors.Is(err, target.ErrTerminated) {
			log.WithError(err).Warn("failed to resume target after batch")
		}
		return false
	}

	if pausedHere.uncaught && pausedHere.errPayload != nil {
		h.hub.Publish(notify.UncaughtErrorEvent{Error: pausedHere.errPayload})
	}
	h.hub.Publish(notify.PausedEvent{
		Reason:   pausedHere.reason,
		Thread:   pausedHere.thread,
		Position: pausedHere.pos,
		Valid:    pausedHere.hasPos,
		Error:    pausedHere.errPayload,
	})
	return false
}

// safeHandleEvent isolates event handling failures: an internal error
// while processing one event logs and resolves to resume instead of
// crashing dispatch.
func (h *Host) safeHandleEvent(ev target.Event) (d decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("internal error handling %T: %v", ev, r)
			d = decision{}
		}
	}()
	return h.handleEvent(ev)
}

func (h *Host) handleEvent(ev target.Event) decision {
	switch e := ev.(type) {
	case target.DeathEvent:
		log.Info("target died")
		return decision{stop: true}
	case target.CodeLoadEvent:
		// Forwarded to the scanner even while paused so scripts
		// loaded during a pause are still discovered.
		h.observeUnitLocked(e.Ref)
		return decision{}
	}

	if trig, ok := eventTriggerID(ev); ok {
		if handler, found := h.reqHandlers[trig]; found {
			return handler(ev)
		}
	}

	if h.paused != nil {
		log.Debugf("already paused, ignoring %T", ev)
		return decision{}
	}

	switch e := ev.(type) {
	case target.LocationEvent:
		bp, ok := h.breakpoints.byTriggerID(e.Trigger)
		if !ok {
			log.Debugf("location trigger %d has no breakpoint, resuming", e.Trigger)
			return decision{}
		}
		if h.stepper.suppressBreakpoint(e.Location, e.StackDepth) {
			log.Debugf("suppressing breakpoint %s re-entered after step", bp.ID)
			return decision{}
		}
		log.WithField("breakpoint", bp.ID).Debug("breakpoint hit")
		return decision{pause: true, reason: notify.ReasonBreakpoint, thread: e.Thread, loc: e.Location, depth: e.StackDepth}

	case target.StepEvent, target.EntryEvent, target.ExitEvent:
		log.Debugf("stale %T without handler, resuming", ev)
		return decision{}

	case target.ExceptionEvent:
		return h.classifyException(e)

	case target.BreakRequestEvent:
		h.stepper.clearStepMemory()
		return decision{pause: true, reason: notify.ReasonBreakStatement, thread: e.Thread, loc: e.Location, depth: e.StackDepth}

	default:
		log.Warnf("unrecognized event %T, resuming", ev)
		return decision{}
	}
}

// classifyException decides whether a thrown exception pauses. Only
// script-visible exceptions are candidates; the global exception pause
// mode is consulted, and "uncaught" means no catch location exists in
// the script call stack.
func (h *Host) classifyException(ev target.ExceptionEvent) decision {
	if !ev.ScriptVisible {
		log.Debugf("ignoring host-internal exception: %s", ev.Info.Message)
		return decision{}
	}
	h.stepper.clearStepMemory()

	uncaught := ev.CatchLocation == nil
	pause := h.exceptionMode == ExceptionsAll || (h.exceptionMode == ExceptionsUncaught && uncaught)
	log.WithFields(logrus.Fields{
		"type":     ev.Info.TypeName,
		"uncaught": uncaught,
		"pause":    pause,
	}).Debug("script exception")
	if !pause {
		return decision{}
	}
	return decision{pause: true, reason: notify.ReasonException, thread: ev.Thread, loc: ev.Location, depth: ev.StackDepth, exception: &ev}
}

// beginPauseLocked creates the pause context. At most one may exist;
// a second is an internal assertion failure.
func (h *Host) beginPauseLocked(d decision) (*PausedContext, error) {
	if h.paused != nil {
		return nil, ErrPauseActive
	}

	marshaller := value.NewMarshaller(h.proc, h.retained)
	ctx := &PausedContext{
		thread:     d.thread,
		reason:     d.reason,
		loc:        d.loc,
		marshaller: marshaller,
		extractor:  value.NewExtractor(h.inter, marshaller, d.thread),
		baseline:   make(map[target.CodeRef]bool),
	}
	if pos, ok := h.scripts.PositionFor(d.loc); ok {
		ctx.pos = pos
		ctx.hasPos = true
	}

	units, err := h.proc.CodeUnits()
	if err != nil {
		log.WithError(err).Warn("could not snapshot code units at pause")
	}
	for _, ref := range units {
		ctx.baseline[ref] = true
	}

	if d.exception != nil {
		ctx.errPayload = marshaller.Marshal(d.exception.Thrown)
		ctx.uncaught = d.exception.CatchLocation == nil
		if ctx.uncaught {
			if c, ok := ctx.errPayload.(value.Complex); ok {
				marshaller.Retain(c.NodeID())
			}
		}
	}

	h.paused = ctx
	h.state = statePaused
	h.stepper.onPause(h)
	log.WithFields(logrus.Fields{
		"reason": d.reason.String(),
		"line":   d.loc.Line,
	}).Info("target paused")
	return ctx, nil
}

// endPauseLocked destroys the active pause: reconciles code units
// loaded since suspend with the script registry, releases the pause's
// marshaller, and returns the machine to running.
func (h *Host) endPauseLocked() {
	ctx := h.paused
	h.paused = nil
	h.state = stateRunning
	h.stepper.onResume()
	ctx.finish()
	h.reconcileUnitsLocked(ctx.baseline)
}

// reconcileUnitsLocked forwards code units that appeared after the
// pause baseline (scripts compiled by in-pause evaluation) to the
// scanner.
func (h *Host) reconcileUnitsLocked(baseline map[target.CodeRef]bool) {
	units, err := h.proc.CodeUnits()
	if err != nil {
		log.WithError(err).Warn("could not diff code units after pause")
		return
	}
	for _, ref := range units {
		if !baseline[ref] {
			h.observeUnitLocked(ref)
		}
	}
}

func (h *Host) observeUnitLocked(ref target.CodeRef) {
	if h.scripts.Observed(ref) {
		return
	}
	info, err := h.proc.CodeInfo(ref)
	if err != nil {
		log.WithError(err).Warnf("could not describe code unit %d", ref)
		return
	}
	if s, created := h.scripts.Observe(ref, info); created {
		log.WithFields(logrus.Fields{"script": s.ID, "name": s.Name}).Debug("script discovered")
	}
}

func (h *Host) nextFrameID() FrameID {
	return FrameID("frame-" + strconv.FormatInt(h.frameSeq.Add(1), 10))
}

// currentContext returns the active pause or the protocol-state error
// describing why there is none.
func (h *Host) currentContext() (*PausedContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateClosed {
		return nil, ErrHostClosed
	}
	if h.paused == nil {
		return nil, ErrNotPaused
	}
	return h.paused, nil
}

// Paused reports whether a pause is active.
func (h *Host) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == statePaused
}

// eventTriggerID extracts the trigger an event fired for.
func eventTriggerID(ev target.Event) (target.TriggerID, bool) {
	switch e := ev.(type) {
	case target.LocationEvent:
		return e.Trigger, true
	case target.StepEvent:
		return e.Trigger, true
	case target.EntryEvent:
		return e.Trigger, true
	case target.ExitEvent:
		return e.Trigger, true
	default:
		return 0, false
	}
}

// triggerEventParts extracts the common fields of trigger-fired
// events.
func triggerEventParts(ev target.Event) (target.TriggerID, target.ThreadRef, target.Location, int, bool) {
	switch e := ev.(type) {
	case target.LocationEvent:
		return e.Trigger, e.Thread, e.Location, e.StackDepth, true
	case target.StepEvent:
		return e.Trigger, e.Thread, e.Location, e.StackDepth, true
	case target.EntryEvent:
		return e.Trigger, e.Thread, e.Location, e.StackDepth, true
	case target.ExitEvent:
		return e.Trigger, e.Thread, e.Location, e.StackDepth, true
	default:
		return 0, target.ThreadRef{}, target.Location{}, 0, false
	}
}
