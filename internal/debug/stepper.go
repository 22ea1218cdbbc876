package debug

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/target"
)

type stepperState int

const (
	stepIdle stepperState = iota
	stepArmed
	stepSuspended
)

// stepLocation is the (location, stack depth) pair recorded when a step
// completes, used to recognize a breakpoint firing at the identical
// spot immediately afterwards.
type stepLocation struct {
	loc   target.Location
	depth int
}

// stepper is the stepping state machine of the single debugged thread.
// All methods require the host lock.
type stepper struct {
	state    stepperState
	thread   target.ThreadRef
	armed    []target.TriggerID
	lastStep *stepLocation
}

// arm tears down any previously armed trigger set and installs the
// triggers for one step of the given depth, registering each with the
// host's per-trigger handler table.
func (st *stepper) arm(h *Host, thread target.ThreadRef, depth target.StepDepth) error {
	st.disarm(h)

	install := func(f func() (target.TriggerID, error)) error {
		id, err := f()
		if err != nil {
			return err
		}
		st.track(h, id)
		return nil
	}

	if err := install(func() (target.TriggerID, error) { return h.proc.SetStepTrigger(thread, depth) }); err != nil {
		return fmt.Errorf("arm step trigger: %w", err)
	}
	// Entry and exit triggers back the step up at call boundaries: a
	// step into also completes on entering a callee, a step out also
	// on leaving the current function. Whichever fires first wins; the
	// rest are one-shot cleared.
	switch depth {
	case target.StepInto:
		if err := install(func() (target.TriggerID, error) { return h.proc.SetEntryTrigger(thread) }); err != nil {
			st.disarm(h)
			return fmt.Errorf("arm entry trigger: %w", err)
		}
	case target.StepOut:
		if err := install(func() (target.TriggerID, error) { return h.proc.SetExitTrigger(thread) }); err != nil {
			st.disarm(h)
			return fmt.Errorf("arm exit trigger: %w", err)
		}
	}

	st.state = stepArmed
	st.thread = thread
	return nil
}

// track records an installed trigger and routes its events to this
// stepper.
func (st *stepper) track(h *Host, id target.TriggerID) {
	st.armed = append(st.armed, id)
	h.reqHandlers[id] = func(ev target.Event) decision {
		return st.onTriggered(h, ev)
	}
}

// disarm clears every armed trigger and its handler registration.
func (st *stepper) disarm(h *Host) {
	for _, id := range st.armed {
		if err := h.proc.ClearTrigger(id); err != nil {
			log.WithError(err).Debug("failed to clear step trigger")
		}
		delete(h.reqHandlers, id)
	}
	st.armed = nil
}

// onTriggered handles an event from one of the armed triggers. The
// firing trigger is removed immediately (one-shot). A step landing on
// a return-value-discard instruction that is not the last instruction
// of its function is treated as noise: a fresh step over is armed and
// no pause surfaces.
func (st *stepper) onTriggered(h *Host, ev target.Event) decision {
	trig, thread, loc, depth, ok := triggerEventParts(ev)
	if !ok {
		log.Warnf("step handler received %T without trigger, resuming", ev)
		return decision{}
	}

	if err := h.proc.ClearTrigger(trig); err != nil {
		log.WithError(err).Debug("failed to clear fired step trigger")
	}
	delete(h.reqHandlers, trig)
	if i := slices.Index(st.armed, trig); i >= 0 {
		st.armed = slices.Delete(st.armed, i, i+1)
	}

	if st.state != stepArmed {
		log.Debugf("stale step trigger %d fired in state %d, resuming", trig, st.state)
		return decision{}
	}

	if _, isStep := ev.(target.StepEvent); isStep {
		instr := h.proc.InstructionInfo(loc)
		if instr.DiscardsReturnValue && !instr.LastInFunction {
			id, err := h.proc.SetStepTrigger(thread, target.StepOver)
			if err == nil {
				log.Debugf("step artifact at %v, re-arming", loc)
				st.track(h, id)
				return decision{}
			}
			log.WithError(err).Warn("failed to re-arm after step artifact, pausing instead")
		}
	}

	st.disarm(h)
	st.lastStep = &stepLocation{loc: loc, depth: depth}
	return decision{
		pause:  true,
		reason: notify.ReasonStep,
		thread: thread,
		loc:    loc,
		depth:  depth,
	}
}

// suppressBreakpoint reports whether a breakpoint event at (loc, depth)
// is the duplicate re-entry artifact of the step that just completed.
// The recorded step location is consumed by a match and cleared by any
// other breakpoint event, so suppression happens at most once.
func (st *stepper) suppressBreakpoint(loc target.Location, depth int) bool {
	rec := st.lastStep
	st.lastStep = nil
	return rec != nil && rec.loc == loc && rec.depth == depth
}

// clearStepMemory drops the recorded step location. Called for
// non-step events that are not breakpoint hits.
func (st *stepper) clearStepMemory() {
	st.lastStep = nil
}

// onPause moves the machine to Suspended, tearing down whatever is
// still armed.
func (st *stepper) onPause(h *Host) {
	st.disarm(h)
	st.state = stepSuspended
}

// onResume returns to Idle unless a new step was just armed.
func (st *stepper) onResume() {
	if st.state == stepSuspended {
		st.state = stepIdle
	}
}
