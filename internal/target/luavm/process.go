package luavm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nitish854/ncdbg/internal/target"
)

var log = logrus.WithField("component", "luavm")

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
	depth    target.StepDepth

	// armDepth is the stack depth at arming time; step triggers fire
	// relative to it.
	armDepth int
}

// codeUnit is one compiled FunctionProto. All protos of one LoadScript
// call share a group and the original source text.
type codeUnit struct {
	info  target.CodeInfo
	proto *lua.FunctionProto
	group int

	// lines maps a breakable line to the index of its first
	// instruction in the proto.
	lines map[int]int
}

// Process hosts a gopher-lua VM behind the target.Process and
// target.Interaction contracts. Create with New, register sources with
// LoadScript, then call Run from a dedicated goroutine; that goroutine
// becomes the driver all VM access is funneled to.
type Process struct {
	mu sync.Mutex

	vm     *lua.LState
	events chan target.Batch
	thread target.ThreadRef

	units     map[target.CodeRef]*codeUnit
	unitOrder []target.CodeRef
	byProto   map[*lua.FunctionProto]target.CodeRef
	nextUnit  target.CodeRef
	groups    int
	roots     []*lua.LFunction

	triggers    map[target.TriggerID]triggerRec
	nextTrigger target.TriggerID

	objects map[uint64]*objEntry
	ids     map[lua.LValue]uint64
	nextID  uint64

	susp    int
	resumed chan struct{}
	calls   chan *vmCall
	closing chan struct{}
	closed  bool
	running bool
	dead    bool
	closeEv sync.Once

	// epoch increments on every report; frame handles from an earlier
	// epoch are stale.
	epoch uint64

	// depth is the Lua stack depth seen by the most recent hook.
	depth int

	// inCall is true while the driver serves a debugger request; the
	// hook stays silent then. Driver goroutine only.
	inCall bool

	budget int64
	spent  int64

	console func(line string)
}

// Option configures a Process.
type Option func(*Process)

// WithConsole routes captured print output to fn, one rendered line
// per call. Without it, output goes to standard output.
func WithConsole(fn func(line string)) Option {
	return func(p *Process) { p.console = fn }
}

// WithInstructionBudget aborts the script with an error once the hook
// has seen n statements. Zero disables the cap.
func WithInstructionBudget(n int64) Option {
	return func(p *Process) { p.budget = n }
}

// New creates a Process with a sandboxed VM: base, table, string, and
// math libraries only, loaders removed, print captured.
func New(opts ...Option) *Process {
	p := &Process{
		events:   make(chan target.Batch),
		thread:   target.ThreadRef{ID: 1, Name: "main"},
		units:    make(map[target.CodeRef]*codeUnit),
		byProto:  make(map[*lua.FunctionProto]target.CodeRef),
		nextUnit: 1,
		triggers: make(map[target.TriggerID]triggerRec),
		objects:  make(map[uint64]*objEntry),
		ids:      make(map[lua.LValue]uint64),
		nextID:   1,
		resumed:  make(chan struct{}, 4),
		calls:    make(chan *vmCall),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	vm := lua.NewState(lua.Options{SkipOpenLibs: true})
	openLibraries(vm)
	p.vm = vm
	p.installGlobals()
	return p
}

func openLibraries(vm *lua.LState) {
	lua.OpenBase(vm)
	lua.OpenTable(vm)
	lua.OpenString(vm)
	lua.OpenMath(vm)
}

func (p *Process) installGlobals() {
	p.vm.SetGlobal(hookGlobal, p.vm.NewFunction(p.lineHook))
	p.vm.SetGlobal(breakGlobal, p.vm.NewFunction(p.breakRequest))
	p.vm.SetGlobal("print", p.vm.NewFunction(p.printCapture))

	// Code loaded at runtime would execute outside the instrumented
	// units, so the loaders go away.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		p.vm.SetGlobal(name, lua.LNil)
	}
}

// LoadScript compiles source under the given name and registers one
// code unit per function proto. Scripts load before Run and execute in
// load order.
func (p *Process) LoadScript(name, source string) (target.CodeRef, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, target.ErrTerminated
	}
	if p.running || p.dead {
		p.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	p.mu.Unlock()

	text, hooked := instrument(source)
	proto, err := compileChunk(text, name)
	if err != nil {
		// The rewriter misjudged a line. Run the script untouched
		// rather than not at all; it just cannot pause.
		orig, origErr := compileChunk(source, name)
		if origErr != nil {
			return 0, fmt.Errorf("compile %s: %w", name, origErr)
		}
		log.WithField("script", name).WithError(err).
			Warn("instrumented compile failed, running without breakpoints")
		proto, hooked = orig, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	group := p.groups
	p.groups++
	root := p.registerProtos(proto, name, source, hooked, group)
	p.roots = append(p.roots, p.vm.NewFunctionFromProto(p.units[root].proto))
	log.WithFields(logrus.Fields{"script": name, "units": len(p.unitOrder)}).
		Debug("script loaded")
	return root, nil
}

func compileChunk(text, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(text), name)
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, name)
}

func (p *Process) registerProtos(proto *lua.FunctionProto, name, source string, hooked map[int]bool, group int) target.CodeRef {
	ref := p.nextUnit
	p.nextUnit++
	unit := &codeUnit{
		info:  target.CodeInfo{Name: name, Source: source},
		proto: proto,
		group: group,
		lines: make(map[int]int),
	}
	for pc, line := range proto.DbgSourcePositions {
		if line <= 0 || !hooked[line] {
			continue
		}
		if _, seen := unit.lines[line]; !seen {
			unit.lines[line] = pc
		}
	}
	for _, line := range sortedLineKeys(unit.lines) {
		unit.info.Lines = append(unit.info.Lines, target.Location{Code: ref, Line: line, Index: unit.lines[line]})
	}
	p.units[ref] = unit
	p.byProto[proto] = ref
	p.unitOrder = append(p.unitOrder, ref)

	for _, sub := range proto.FunctionPrototypes {
		p.registerProtos(sub, name, source, hooked, group)
	}
	return ref
}

func sortedLineKeys(m map[int]int) []int {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// Run executes the loaded scripts to completion on the calling
// goroutine, reporting pauses and the closing death batch on the event
// stream. It returns the script error if one went uncaught, or
// target.ErrTerminated when Close interrupted the run.
func (p *Process) Run() error {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return target.ErrTerminated
	case p.running || p.dead:
		p.mu.Unlock()
		return ErrAlreadyRunning
	case len(p.roots) == 0:
		p.mu.Unlock()
		return ErrNoScript
	}
	p.running = true
	roots := slices.Clone(p.roots)
	p.mu.Unlock()

	var scriptErr error
	for _, root := range roots {
		if p.isClosed() {
			break
		}
		p.vm.Push(root)
		err := p.vm.PCall(0, lua.MultRet, nil)
		p.vm.SetTop(0)
		if err == nil {
			continue
		}
		scriptErr = err
		if p.isClosed() {
			break
		}
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			p.reportUncaught(apiErr)
		}
		break
	}

	p.mu.Lock()
	p.running = false
	p.dead = true
	wasClosed := p.closed
	p.mu.Unlock()

	if !wasClosed {
		select {
		case p.events <- target.Batch{Events: []target.Event{target.DeathEvent{}}}:
		case <-p.closing:
		}
	}
	p.closeEvents()
	if wasClosed {
		p.vm.Close()
		return target.ErrTerminated
	}
	return scriptErr
}

func (p *Process) reportUncaught(apiErr *lua.ApiError) {
	info := exceptionInfo(apiErr)
	ev := target.ExceptionEvent{
		Thread:        p.thread,
		Thrown:        p.mirror(apiErr.Object),
		Info:          info,
		ScriptVisible: true,
	}
	if loc, ok := p.locationFor(info.SourceName, info.Line); ok {
		ev.Location = loc
	}
	p.report(ev)
}

// locationFor resolves a source name and line to a registered unit
// location, best effort.
func (p *Process) locationFor(name string, line int) (target.Location, bool) {
	if name == "" || line <= 0 {
		return target.Location{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ref := range p.unitOrder {
		unit := p.units[ref]
		if unit.info.Name != name {
			continue
		}
		if pc, ok := unit.lines[line]; ok {
			return target.Location{Code: ref, Line: line, Index: pc}, true
		}
	}
	return target.Location{}, false
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
	if p.susp > 0 {
		p.susp--
	}
	p.mu.Unlock()
	select {
	case p.resumed <- struct{}{}:
	default:
	}
	return nil
}

// Close implements target.Process. A parked or running script unwinds
// with a raised error; the event stream closes either way.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	wasRunning := p.running
	p.mu.Unlock()

	close(p.closing)
	if !wasRunning {
		p.closeEvents()
		p.vm.Close()
	}
	return nil
}

func (p *Process) closeEvents() {
	p.closeEv.Do(func() { close(p.events) })
}

func (p *Process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CodeUnits implements target.Process.
func (p *Process) CodeUnits() ([]target.CodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, target.ErrTerminated
	}
	return slices.Clone(p.unitOrder), nil
}

// CodeInfo implements target.Process.
func (p *Process) CodeInfo(ref target.CodeRef) (target.CodeInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	unit, ok := p.units[ref]
	if !ok {
		return target.CodeInfo{}, target.ErrUnknownCode
	}
	info := unit.info
	info.Lines = slices.Clone(unit.info.Lines)
	return info, nil
}

// SetLocationTrigger implements target.Process.
func (p *Process) SetLocationTrigger(loc target.Location) (target.TriggerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrTerminated
	}
	if _, ok := p.units[loc.Code]; !ok {
		return 0, target.ErrUnknownCode
	}
	return p.installLocked(triggerRec{kind: triggerLocation, location: loc}), nil
}

// SetStepTrigger implements target.Process.
func (p *Process) SetStepTrigger(thread target.ThreadRef, depth target.StepDepth) (target.TriggerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrTerminated
	}
	return p.installLocked(triggerRec{kind: triggerStep, depth: depth, armDepth: p.depth}), nil
}

// SetEntryTrigger implements target.Process.
func (p *Process) SetEntryTrigger(thread target.ThreadRef) (target.TriggerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrTerminated
	}
	return p.installLocked(triggerRec{kind: triggerEntry}), nil
}

// SetExitTrigger implements target.Process.
func (p *Process) SetExitTrigger(thread target.ThreadRef) (target.TriggerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrTerminated
	}
	return p.installLocked(triggerRec{kind: triggerExit}), nil
}

func (p *Process) installLocked(rec triggerRec) target.TriggerID {
	p.nextTrigger++
	p.triggers[p.nextTrigger] = rec
	return p.nextTrigger
}

// ClearTrigger implements target.Process.
func (p *Process) ClearTrigger(id target.TriggerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return target.ErrTerminated
	}
	delete(p.triggers, id)
	return nil
}

// InstructionInfo implements target.Process. The VM exposes no
// instruction metadata the core could use, so this is always the zero
// value.
func (p *Process) InstructionInfo(loc target.Location) target.InstructionInfo {
	return target.InstructionInfo{}
}

// PinObject implements target.Process. Mirrored objects stay reachable
// through the registry for the life of the target, so pinning only
// counts.
func (p *Process) PinObject(ref target.ObjectRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.objects[ref.ID]
	if !ok {
		return ErrUnknownObject
	}
	entry.pins++
	return nil
}

// UnpinObject implements target.Process.
func (p *Process) UnpinObject(ref target.ObjectRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.objects[ref.ID]
	if !ok {
		return ErrUnknownObject
	}
	if entry.pins > 0 {
		entry.pins--
	}
	return nil
}

// PopFrames implements target.Process. The VM cannot unwind selected
// frames, so frame restarts always fail here.
func (p *Process) PopFrames(thread target.ThreadRef, frame target.FrameRef) error {
	return ErrPopUnsupported
}

func (p *Process) sameGroupLocked(a, b target.CodeRef) bool {
	ua, ok := p.units[a]
	if !ok {
		return false
	}
	ub, ok := p.units[b]
	if !ok {
		return false
	}
	return ua.group == ub.group
}
