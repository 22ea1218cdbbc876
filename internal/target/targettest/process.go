// Package targettest provides a scripted in-memory target for tests.
// Tests preload code units, objects, and frames, emit event batches at
// chosen moments, and then assert on what the core installed, cleared,
// pinned, and resumed.
package targettest

import (
	"fmt"
	"sync"
	"time"

	"github.com/nitish854/ncdbg/internal/target"
)

type triggerKind int

const (
	triggerLocation triggerKind = iota
	triggerStep
	triggerEntry
	triggerExit
)

type triggerRec struct {
	kind     triggerKind
	location target.Location
	thread   target.ThreadRef
	depth    target.StepDepth
}

type frameKey struct {
	thread uint64
	depth  int
}

// Process is a scripted target.Process and target.Interaction. The zero
// value is not usable; call New.
type Process struct {
	mu sync.Mutex

	events  chan target.Batch
	resumed chan struct{}
	closed  bool

	units     map[target.CodeRef]target.CodeInfo
	unitOrder []target.CodeRef
	nextUnit  target.CodeRef

	nextTrigger target.TriggerID
	triggers    map[target.TriggerID]triggerRec

	frames       map[uint64][]target.FrameRef
	scopes       map[frameKey][]target.ScopeRef
	instructions map[target.Location]target.InstructionInfo

	props map[uint64][]target.PropertyDescriptor
	pins  map[uint64]int

	resumes int

	// EvalFunc serves Evaluate calls. When nil, Evaluate returns
	// Undefined.
	EvalFunc func(thread target.ThreadRef, frame target.FrameRef, expr string, bindings map[string]target.Value) (target.Value, error)

	// GetterFunc serves InvokeGetter calls. When nil, getters return
	// Undefined.
	GetterFunc func(getter, owner target.ObjectRef) (target.Value, error)

	// WriteLocalFunc observes WriteFrameLocal calls. When nil, writes
	// succeed silently.
	WriteLocalFunc func(frame target.FrameRef, name string, v target.Value) error

	// PopFunc observes PopFrames calls. When nil, pops succeed.
	PopFunc func(thread target.ThreadRef, frame target.FrameRef) error
}

// New returns an empty scripted target.
func New() *Process {
	return &Process{
		events:       make(chan target.Batch),
		resumed:      make(chan struct{}, 16),
		units:        make(map[target.CodeRef]target.CodeInfo),
		nextUnit:     1,
		triggers:     make(map[target.TriggerID]triggerRec),
		frames:       make(map[uint64][]target.FrameRef),
		scopes:       make(map[frameKey][]target.ScopeRef),
		instructions: make(map[target.Location]target.InstructionInfo),
		props:        make(map[uint64][]target.PropertyDescriptor),
		pins:         make(map[uint64]int),
	}
}

// AddUnit registers a code unit whose breakable lines are exactly
// lines, and returns its ref.
func (p *Process) AddUnit(name, source string, lines ...int) target.CodeRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := p.nextUnit
	p.nextUnit++
	info := target.CodeInfo{Name: name, Source: source}
	for _, ln := range lines {
		info.Lines = append(info.Lines, target.Location{Code: ref, Line: ln, Index: -1})
	}
	p.units[ref] = info
	p.unitOrder = append(p.unitOrder, ref)
	return ref
}

// SetFrames installs the stack reported for thread, innermost first.
func (p *Process) SetFrames(thread target.ThreadRef, frames ...target.FrameRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[thread.ID] = frames
}

// SetScopes installs the scope chain reported for one frame of thread.
func (p *Process) SetScopes(thread target.ThreadRef, depth int, scopes ...target.ScopeRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes[frameKey{thread.ID, depth}] = scopes
}

// SetInstruction installs the instruction description for loc.
func (p *Process) SetInstruction(loc target.Location, info target.InstructionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instructions[loc] = info
}

// SetProperties installs the property list reported for the object with
// the given identity.
func (p *Process) SetProperties(id uint64, props ...target.PropertyDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[id] = props
}

// Emit delivers one batch. The call blocks until the core's dispatch
// loop receives it, mirroring a real target suspending on report.
func (p *Process) Emit(events ...target.Event) {
	p.events <- target.Batch{Events: events}
}

// Terminate emits the death batch and closes the event stream.
func (p *Process) Terminate() {
	p.Emit(target.DeathEvent{})
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

// AwaitResume blocks until Resume has been called, or fails after a
// timeout.
func (p *Process) AwaitResume() error {
	select {
	case <-p.resumed:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for resume")
	}
}

// Resumes reports how many times Resume has been called.
func (p *Process) Resumes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumes
}

// LocationTriggers returns the locations of all active location
// triggers, in installation order.
func (p *Process) LocationTriggers() []target.Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	var locs []target.Location
	for id := target.TriggerID(1); id < p.nextTrigger+1; id++ {
		rec, ok := p.triggers[id]
		if ok && rec.kind == triggerLocation {
			locs = append(locs, rec.location)
		}
	}
	return locs
}

// StepTriggerCount reports how many step triggers are active.
func (p *Process) StepTriggerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, rec := range p.triggers {
		if rec.kind == triggerStep {
			n++
		}
	}
	return n
}

// HasTrigger reports whether id is still installed.
func (p *Process) HasTrigger(id target.TriggerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triggers[id]
	return ok
}

// FindLocationTrigger returns the id of the active location trigger
// installed for loc.
func (p *Process) FindLocationTrigger(loc target.Location) (target.TriggerID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, rec := range p.triggers {
		if rec.kind == triggerLocation && rec.location == loc {
			return id, true
		}
	}
	return 0, false
}

// ActiveStepTrigger returns the most recently installed step trigger
// still active.
func (p *Process) ActiveStepTrigger() (target.TriggerID, bool) {
	return p.newestOfKind(triggerStep)
}

// ActiveEntryTrigger returns the most recently installed entry trigger
// still active.
func (p *Process) ActiveEntryTrigger() (target.TriggerID, bool) {
	return p.newestOfKind(triggerEntry)
}

// ActiveExitTrigger returns the most recently installed exit trigger
// still active.
func (p *Process) ActiveExitTrigger() (target.TriggerID, bool) {
	return p.newestOfKind(triggerExit)
}

func (p *Process) newestOfKind(kind triggerKind) (target.TriggerID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best target.TriggerID
	for id, rec := range p.triggers {
		if rec.kind == kind && id > best {
			best = id
		}
	}
	return best, best != 0
}

// Pinned reports the pin count of the object with the given identity.
func (p *Process) Pinned(id uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pins[id]
}

// PinnedCount reports how many distinct objects hold at least one pin.
func (p *Process) PinnedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.pins {
		if c > 0 {
			n++
		}
	}
	return n
}

// Events implements target.Process.
func (p *Process) Events() <-chan target.Batch { return p.events }

// Resume implements target.Process.
func (p *Process) Resume() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return target.ErrTerminated
	}
	p.resumes++
	p.mu.Unlock()
	select {
	case p.resumed <- struct{}{}:
	default:
	}
	return nil
}

// CodeUnits implements target.Process.
func (p *Process) CodeUnits() ([]target.CodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]target.CodeRef, len(p.unitOrder))
	copy(out, p.unitOrder)
	return out, nil
}

// CodeInfo implements target.Process.
func (p *Process) CodeInfo(ref target.CodeRef) (target.CodeInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.units[ref]
	if !ok {
		return target.CodeInfo{}, target.ErrUnknownCode
	}
	return info, nil
}

// SetLocationTrigger implements target.Process.
func (p *Process) SetLocationTrigger(loc target.Location) (target.TriggerID, error) {
	return p.install(triggerRec{kind: triggerLocation, location: loc})
}

// SetStepTrigger implements target.Process.
func (p *Process) SetStepTrigger(thread target.ThreadRef, depth target.StepDepth) (target.TriggerID, error) {
	return p.install(triggerRec{kind: triggerStep, thread: thread, depth: depth})
}

// SetEntryTrigger implements target.Process.
func (p *Process) SetEntryTrigger(thread target.ThreadRef) (target.TriggerID, error) {
	return p.install(triggerRec{kind: triggerEntry, thread: thread})
}

// SetExitTrigger implements target.Process.
func (p *Process) SetExitTrigger(thread target.ThreadRef) (target.TriggerID, error) {
	return p.install(triggerRec{kind: triggerExit, thread: thread})
}

func (p *Process) install(rec triggerRec) (target.TriggerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrTerminated
	}
	p.nextTrigger++
	id := p.nextTrigger
	p.triggers[id] = rec
	return id, nil
}

// ClearTrigger implements target.Process.
func (p *Process) ClearTrigger(id target.TriggerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.triggers, id)
	return nil
}

// Frames implements target.Process.
func (p *Process) Frames(thread target.ThreadRef) ([]target.FrameRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames, ok := p.frames[thread.ID]
	if !ok {
		return nil, nil
	}
	out := make([]target.FrameRef, len(frames))
	copy(out, frames)
	return out, nil
}

// FrameScopes implements target.Process.
func (p *Process) FrameScopes(frame target.FrameRef) ([]target.ScopeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scopes[frameKey{frame.Thread.ID, frame.Depth}], nil
}

// WriteFrameLocal implements target.Process.
func (p *Process) WriteFrameLocal(frame target.FrameRef, name string, v target.Value) error {
	if p.WriteLocalFunc != nil {
		return p.WriteLocalFunc(frame, name, v)
	}
	return nil
}

// PopFrames implements target.Process.
func (p *Process) PopFrames(thread target.ThreadRef, frame target.FrameRef) error {
	if p.PopFunc != nil {
		return p.PopFunc(thread, frame)
	}
	return nil
}

// Evaluate implements target.Process.
func (p *Process) Evaluate(thread target.ThreadRef, frame target.FrameRef, expr string, bindings map[string]target.Value) (target.Value, error) {
	if p.EvalFunc != nil {
		return p.EvalFunc(thread, frame, expr, bindings)
	}
	return target.Undefined{}, nil
}

// InstructionInfo implements target.Process.
func (p *Process) InstructionInfo(loc target.Location) target.InstructionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instructions[loc]
}

// PinObject implements target.Process.
func (p *Process) PinObject(ref target.ObjectRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins[ref.ID]++
	return nil
}

// UnpinObject implements target.Process.
func (p *Process) UnpinObject(ref target.ObjectRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pins[ref.ID] > 0 {
		p.pins[ref.ID]--
	}
	return nil
}

// Close implements target.Process.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

// OwnProperties implements target.Interaction.
func (p *Process) OwnProperties(ref target.ObjectRef, ownOnly, accessorsOnly bool) ([]target.PropertyDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []target.PropertyDescriptor
	for _, prop := range p.props[ref.ID] {
		if ownOnly && !prop.IsOwn {
			continue
		}
		if accessorsOnly && prop.Kind != target.AccessorProperty {
			continue
		}
		out = append(out, prop)
	}
	return out, nil
}

// InvokeGetter implements target.Interaction.
func (p *Process) InvokeGetter(thread target.ThreadRef, getter, owner target.ObjectRef) (target.Value, error) {
	if p.GetterFunc != nil {
		return p.GetterFunc(getter, owner)
	}
	return target.Undefined{}, nil
}
