package debug

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

// Scripts lists every script discovered so far.
func (h *Host) Scripts() []script.Script {
	return h.scripts.Scripts()
}

// Script resolves one script by id.
func (h *Host) Script(id script.ID) (script.Script, bool) {
	return h.scripts.ByID(id)
}

// ScriptByName resolves the most recent script registered under name.
func (h *Host) ScriptByName(name string) (script.Script, bool) {
	return h.scripts.ByName(name)
}

// SetBreakpoint installs a breakpoint on a script line. A line with no
// executable location yields an uninstalled breakpoint and no error.
func (h *Host) SetBreakpoint(sid script.ID, line int) (Breakpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateClosed {
		return Breakpoint{}, ErrHostClosed
	}
	locs := h.scripts.LocationsForLine(sid, line)
	bp, err := h.breakpoints.add(h.proc, sid, line, locs)
	if err != nil {
		return bp, err
	}
	if bp.ID == "" {
		log.WithFields(logrus.Fields{"script": sid, "line": line}).Debug("no executable location for breakpoint")
	} else {
		log.WithFields(logrus.Fields{"breakpoint": bp.ID, "locations": bp.Installed()}).Info("breakpoint set")
	}
	return bp, nil
}

// RemoveBreakpoint removes one breakpoint. Unknown ids are a no-op.
func (h *Host) RemoveBreakpoint(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakpoints.remove(h.proc, id)
}

// Breakpoints lists enabled breakpoints in installation order.
func (h *Host) Breakpoints() []Breakpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.breakpoints.list()
}

// SetExceptionPauseMode changes which exceptions pause the target.
func (h *Host) SetExceptionPauseMode(m ExceptionPauseMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exceptionMode = m
	log.WithField("mode", m.String()).Info("exception pause mode set")
}

// ExceptionPauseMode reports the active mode.
func (h *Host) ExceptionPauseMode() ExceptionPauseMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exceptionMode
}

// Resume ends the active pause. With no pause active it is an
// idempotent no-op: no error, no notification.
func (h *Host) Resume() error {
	h.mu.Lock()
	if h.state == stateClosed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	if h.state != statePaused {
		h.mu.Unlock()
		return nil
	}
	h.endPauseLocked()
	h.mu.Unlock()

	h.hub.Publish(notify.ResumedEvent{})
	log.Info("target resumed")
	return h.proc.Resume()
}

// Step arms one step of the given depth and resumes. Requires an
// active pause.
func (h *Host) Step(depth target.StepDepth) error {
	h.mu.Lock()
	if h.state == stateClosed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	if h.state != statePaused {
		h.mu.Unlock()
		return ErrNotPaused
	}
	thread := h.paused.thread
	if err := h.stepper.arm(h, thread, depth); err != nil {
		h.mu.Unlock()
		return err
	}
	h.endPauseLocked()
	h.mu.Unlock()

	h.hub.Publish(notify.ResumedEvent{})
	log.WithField("depth", depth.String()).Info("step armed")
	return h.proc.Resume()
}

// Frames returns the paused thread's frame descriptors, innermost
// first, building them on first access.
func (h *Host) Frames() ([]*Frame, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return nil, err
	}
	return ctx.Frames(h)
}

// PauseReason reports why the active pause happened.
func (h *Host) PauseReason() (notify.PauseReason, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return 0, err
	}
	return ctx.reason, nil
}

// Evaluate runs an expression in the lexical context of one frame of
// the active pause. Each named binding resolves an object id into a
// reference the expression can address by name. A script-level failure
// returns an *EvalError carrying the marshalled error value.
func (h *Host) Evaluate(frameID FrameID, expr string, bindings map[string]value.ObjectID) (value.Node, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return nil, err
	}
	frame, err := h.lookupFrame(ctx, frameID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]target.Value, len(bindings))
	for name, oid := range bindings {
		ref, ok := ctx.marshaller.Ref(oid)
		if !ok {
			return nil, fmt.Errorf("%w: binding %q", ErrUnknownObject, name)
		}
		resolved[name] = ref
	}

	raw, err := h.proc.Evaluate(ctx.thread, frame.native, expr, resolved)
	if err != nil {
		var se *target.ScriptError
		if errors.As(err, &se) {
			return nil, &EvalError{Value: ctx.marshaller.Marshal(se.Thrown)}
		}
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	node := ctx.marshaller.Marshal(raw)
	if ctx.ended() {
		return nil, ErrNotPaused
	}
	return node, nil
}

// SetFrameLocal evaluates an expression and assigns the result to a
// named local of the frame, returning the marshalled new value.
func (h *Host) SetFrameLocal(frameID FrameID, name, expr string) (value.Node, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return nil, err
	}
	frame, err := h.lookupFrame(ctx, frameID)
	if err != nil {
		return nil, err
	}

	raw, err := h.proc.Evaluate(ctx.thread, frame.native, expr, nil)
	if err != nil {
		var se *target.ScriptError
		if errors.As(err, &se) {
			return nil, &EvalError{Value: ctx.marshaller.Marshal(se.Thrown)}
		}
		return nil, fmt.Errorf("evaluate new value: %w", err)
	}
	if err := h.proc.WriteFrameLocal(frame.native, name, raw); err != nil {
		return nil, fmt.Errorf("write local %q: %w", name, err)
	}
	node := ctx.marshaller.Marshal(raw)
	if ctx.ended() {
		return nil, ErrNotPaused
	}
	return node, nil
}

// RestartFrame pops all native frames up to and including the
// designated one and returns the rebuilt frame list. This is
// best-effort and may destabilize the target; the frame must still be
// locatable in the thread's current native stack.
func (h *Host) RestartFrame(frameID FrameID) ([]*Frame, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return nil, err
	}
	frame, err := h.lookupFrame(ctx, frameID)
	if err != nil {
		return nil, err
	}

	fresh, err := h.proc.Frames(ctx.thread)
	if err != nil {
		return nil, fmt.Errorf("read stack: %w", err)
	}
	idx := -1
	for i, nf := range fresh {
		if nf.Depth == frame.native.Depth && nf.Location == frame.native.Location {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrFrameNotLocatable
	}
	if err := h.proc.PopFrames(ctx.thread, fresh[idx]); err != nil {
		return nil, fmt.Errorf("pop frames: %w", err)
	}
	log.WithField("frame", frameID).Warn("restarted frame, target stability is not guaranteed")

	ctx.invalidateFrames()
	return ctx.Frames(h)
}

// Properties enumerates an object's properties. Requires an active
// pause; results for script-domain objects are cached for the pause.
func (h *Host) Properties(id value.ObjectID, ownOnly, accessorsOnly bool) ([]Property, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return nil, err
	}
	return ctx.properties(h, id, ownOnly, accessorsOnly)
}

// Extract realizes a marshalled node into plain Go data, traversing
// the object graph cycle-safely.
func (h *Host) Extract(n value.Node) (any, error) {
	ctx, err := h.currentContext()
	if err != nil {
		return nil, err
	}
	return ctx.extractor.Extract(n), nil
}

// Reset disables every breakpoint, turns exception pausing off, and
// resumes.
func (h *Host) Reset() error {
	h.mu.Lock()
	h.breakpoints.removeAll(h.proc)
	h.exceptionMode = ExceptionsNever
	h.mu.Unlock()
	log.Info("debugger state reset")
	return h.Resume()
}

func (h *Host) lookupFrame(ctx *PausedContext, id FrameID) (*Frame, error) {
	if _, err := ctx.Frames(h); err != nil {
		return nil, err
	}
	frame, ok := ctx.frameByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchFrame, id)
	}
	return frame, nil
}
