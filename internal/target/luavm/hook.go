package luavm

import (
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nitish854/ncdbg/internal/target"
)

// lineHook is the reserved global instrumented code calls before each
// statement.
func (p *Process) lineHook(L *lua.LState) int {
	line := L.CheckInt(1)
	if p.inCall {
		return 0
	}
	p.onLine(L, line)
	return 0
}

func (p *Process) onLine(L *lua.LState, line int) {
	if p.budget > 0 {
		p.spent++
		if p.spent > p.budget {
			L.RaiseError("%s after %d statements", ErrBudgetExhausted, p.budget)
		}
	}

	ref, pc, known := p.currentUnit(L, line)
	if !known {
		return
	}
	loc := target.Location{Code: ref, Line: line, Index: pc}
	depth := p.luaDepth(L)

	p.mu.Lock()
	prev := p.depth
	p.depth = depth

	var events []target.Event
	ids := maps.Keys(p.triggers)
	slices.Sort(ids)
	for _, id := range ids {
		switch rec := p.triggers[id]; rec.kind {
		case triggerEntry:
			if depth > prev {
				events = append(events, target.EntryEvent{Thread: p.thread, Location: loc, Trigger: id, StackDepth: depth})
			}
		case triggerExit:
			if depth < prev {
				events = append(events, target.ExitEvent{Thread: p.thread, Location: loc, Trigger: id, StackDepth: depth})
			}
		}
	}
	for _, id := range ids {
		rec := p.triggers[id]
		if rec.kind == triggerLocation && rec.location.Line == line && p.sameGroupLocked(rec.location.Code, ref) {
			events = append(events, target.LocationEvent{Thread: p.thread, Location: loc, Trigger: id, StackDepth: depth})
		}
	}
	for _, id := range ids {
		rec := p.triggers[id]
		if rec.kind != triggerStep {
			continue
		}
		due := false
		switch rec.depth {
		case target.StepInto:
			due = true
		case target.StepOver:
			due = depth <= rec.armDepth
		case target.StepOut:
			due = depth < rec.armDepth
		}
		if due {
			events = append(events, target.StepEvent{Thread: p.thread, Location: loc, Trigger: id, StackDepth: depth})
		}
	}
	p.mu.Unlock()

	if len(events) > 0 {
		p.report(events...)
	}
}

// breakRequest implements the breakpoint() global.
func (p *Process) breakRequest(L *lua.LState) int {
	if p.inCall {
		return 0
	}
	dbg, ok := L.GetStack(1)
	if !ok {
		return 0
	}
	if _, err := L.GetInfo("l", dbg, lua.LNil); err != nil {
		return 0
	}
	line := dbg.CurrentLine
	ref, pc, known := p.currentUnit(L, line)
	if !known {
		return 0
	}
	depth := p.luaDepth(L)
	p.mu.Lock()
	p.depth = depth
	p.mu.Unlock()
	p.report(target.BreakRequestEvent{
		Thread:     p.thread,
		Location:   target.Location{Code: ref, Line: line, Index: pc},
		StackDepth: depth,
	})
	return 0
}

// printCapture replaces print. Arguments render through tostring
// metamethods and join with tabs, one console line per call.
func (p *Process) printCapture(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		v := L.ToStringMeta(L.Get(i))
		if s, ok := v.(lua.LString); ok {
			parts = append(parts, string(s))
		} else {
			parts = append(parts, v.String())
		}
	}
	line := strings.Join(parts, "\t")
	if p.console != nil {
		p.console(line)
		return 0
	}
	fmt.Println(line)
	return 0
}

// currentUnit resolves the Lua frame that invoked the running Go
// function to its code unit and the instruction index of line.
func (p *Process) currentUnit(L *lua.LState, line int) (target.CodeRef, int, bool) {
	dbg, ok := L.GetStack(1)
	if !ok {
		return 0, -1, false
	}
	fnv, err := L.GetInfo("f", dbg, lua.LNil)
	if err != nil {
		return 0, -1, false
	}
	fn, ok := fnv.(*lua.LFunction)
	if !ok || fn.IsG {
		return 0, -1, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ref, known := p.byProto[fn.Proto]
	if !known {
		return 0, -1, false
	}
	pc := -1
	if i, ok := p.units[ref].lines[line]; ok {
		pc = i
	}
	return ref, pc, true
}

// luaDepth counts the Lua frames on the stack, ignoring Go builtins.
func (p *Process) luaDepth(L *lua.LState) int {
	n := 0
	for lvl := 0; ; lvl++ {
		dbg, ok := L.GetStack(lvl)
		if !ok {
			return n
		}
		fnv, err := L.GetInfo("f", dbg, lua.LNil)
		if err != nil {
			continue
		}
		if fn, ok := fnv.(*lua.LFunction); ok && !fn.IsG {
			n++
		}
	}
}

// report delivers one batch and parks the driver until the suspension
// it opened has been lifted.
func (p *Process) report(events ...target.Event) {
	p.mu.Lock()
	if p.closed || p.dead {
		p.mu.Unlock()
		return
	}
	p.susp++
	p.epoch++
	p.mu.Unlock()

	select {
	case p.events <- target.Batch{Events: events}:
	case <-p.closing:
		p.mu.Lock()
		p.susp--
		p.mu.Unlock()
		return
	}
	p.park()
}

// park blocks the driver while suspensions remain, serving VM calls
// inline. Close unwinds the parked script with a raised error.
func (p *Process) park() {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.vm.RaiseError("debugger detached")
			return
		}
		if p.susp == 0 {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		select {
		case call := <-p.calls:
			p.serve(call)
		case <-p.resumed:
		case <-p.closing:
		}
	}
}

type vmCall struct {
	fn   func()
	err  error
	done chan struct{}
}

func (p *Process) serve(call *vmCall) {
	defer close(call.done)
	defer func() {
		if r := recover(); r != nil {
			call.err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	p.inCall = true
	defer func() { p.inCall = false }()
	call.fn()
}

// onDriver runs fn on the parked driver goroutine and waits for it.
// Only valid while the target is suspended.
func (p *Process) onDriver(fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return target.ErrTerminated
	}
	if p.susp == 0 {
		p.mu.Unlock()
		return target.ErrNotSuspended
	}
	p.mu.Unlock()

	call := &vmCall{fn: fn, done: make(chan struct{})}
	select {
	case p.calls <- call:
	case <-p.closing:
		return target.ErrTerminated
	}
	select {
	case <-call.done:
		return call.err
	case <-p.closing:
		return target.ErrTerminated
	}
}

func exceptionInfo(apiErr *lua.ApiError) target.ExceptionInfo {
	info := target.ExceptionInfo{
		TypeName:   "error",
		StackTrace: strings.TrimSpace(apiErr.StackTrace),
	}
	if s, ok := apiErr.Object.(lua.LString); ok {
		info.Message = string(s)
		if name, line, msg, ok := splitErrorPrefix(string(s)); ok {
			info.SourceName, info.Line, info.Message = name, line, msg
		}
	} else {
		info.Message = apiErr.Object.String()
	}
	if apiErr.Type == lua.ApiErrorPanic {
		info.Native = true
	}
	return info
}

// splitErrorPrefix splits the "source:line: message" prefix the VM
// prepends to raised strings.
func splitErrorPrefix(s string) (name string, line int, msg string, ok bool) {
	head, rest, found := strings.Cut(s, ": ")
	if !found {
		return "", 0, "", false
	}
	colon := strings.LastIndexByte(head, ':')
	if colon < 0 {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(head[colon+1:])
	if err != nil || n <= 0 {
		return "", 0, "", false
	}
	return head[:colon], n, rest, true
}
