package luavm

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/nitish854/ncdbg/internal/target"
)

// luaFrame is the private handle behind target.FrameRef. It is only
// meaningful on the driver goroutine and only within the pause epoch
// it was taken in.
type luaFrame struct {
	epoch uint64
	level int
	fn    *lua.LFunction
	dbg   *lua.Debug
}

// Frames implements target.Process.
func (p *Process) Frames(thread target.ThreadRef) ([]target.FrameRef, error) {
	if thread.ID != p.thread.ID {
		return nil, nil
	}
	var frames []target.FrameRef
	err := p.onDriver(func() {
		frames = p.collectFrames()
	})
	return frames, err
}

func (p *Process) collectFrames() []target.FrameRef {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	var frames []target.FrameRef
	for lvl := 0; ; lvl++ {
		dbg, ok := p.vm.GetStack(lvl)
		if !ok {
			break
		}
		fnv, err := p.vm.GetInfo("Slf", dbg, lua.LNil)
		if err != nil {
			continue
		}
		fn, ok := fnv.(*lua.LFunction)
		if !ok || fn.IsG {
			continue
		}
		p.mu.Lock()
		ref, known := p.byProto[fn.Proto]
		var unit *codeUnit
		if known {
			unit = p.units[ref]
		}
		p.mu.Unlock()
		if !known {
			continue
		}
		loc := target.Location{Code: ref, Line: dbg.CurrentLine, Index: -1}
		if pc, ok := unit.lines[dbg.CurrentLine]; ok {
			loc.Index = pc
		}
		frames = append(frames, target.FrameRef{
			Thread:   p.thread,
			Depth:    len(frames),
			Name:     frameName(unit, fn.Proto, dbg),
			Location: loc,
			This:     target.Undefined{},
			Handle:   &luaFrame{epoch: epoch, level: lvl, fn: fn, dbg: dbg},
		})
	}
	return frames
}

// frameName recovers a display name for the function executing in a
// frame. Lua functions are anonymous values, so the definition line in
// the source is the only place a name survives.
func frameName(unit *codeUnit, proto *lua.FunctionProto, dbg *lua.Debug) string {
	if dbg.What == "main" || proto.LineDefined == 0 {
		return "main chunk"
	}
	return nameOnLine(unit.info.Source, proto.LineDefined)
}

// nameOnLine extracts the declared name from a function definition
// line, e.g. `local function walk(n)` yields "walk". Anonymous
// definitions yield "".
func nameOnLine(source string, line int) string {
	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	text := lines[line-1]
	idx := strings.Index(text, "function")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(text[idx+len("function"):], " \t")
	end := 0
	for end < len(rest) {
		c := rest[end]
		if isWordByte(c) || isDigitByte(c) || c == '.' || c == ':' {
			end++
			continue
		}
		break
	}
	return rest[:end]
}

func (p *Process) frameHandle(frame target.FrameRef) (*luaFrame, error) {
	h, ok := frame.Handle.(*luaFrame)
	if !ok {
		return nil, target.ErrStaleFrame
	}
	p.mu.Lock()
	live := h.epoch == p.epoch
	p.mu.Unlock()
	if !live {
		return nil, target.ErrStaleFrame
	}
	return h, nil
}

// FrameScopes implements target.Process.
func (p *Process) FrameScopes(frame target.FrameRef) ([]target.ScopeRef, error) {
	var scopes []target.ScopeRef
	var inner error
	err := p.onDriver(func() {
		scopes, inner = p.frameScopes(frame)
	})
	if err != nil {
		return nil, err
	}
	return scopes, inner
}

func (p *Process) frameScopes(frame target.FrameRef) ([]target.ScopeRef, error) {
	h, err := p.frameHandle(frame)
	if err != nil {
		return nil, err
	}
	scopes := []target.ScopeRef{{
		Kind:   target.ScopeLocal,
		Object: p.scopeObject(target.ScopeLocal, h),
	}}
	if len(h.fn.Upvalues) > 0 {
		scopes = append(scopes, target.ScopeRef{
			Kind:   target.ScopeClosure,
			Object: p.scopeObject(target.ScopeClosure, h),
		})
	}
	scopes = append(scopes, target.ScopeRef{
		Kind:   target.ScopeGlobal,
		Object: p.scopeObject(target.ScopeGlobal, h),
	})
	return scopes, nil
}

// WriteFrameLocal implements target.Process.
func (p *Process) WriteFrameLocal(frame target.FrameRef, name string, v target.Value) error {
	var inner error
	err := p.onDriver(func() {
		inner = p.writeLocal(frame, name, v)
	})
	if err != nil {
		return err
	}
	return inner
}

func (p *Process) writeLocal(frame target.FrameRef, name string, v target.Value) error {
	h, err := p.frameHandle(frame)
	if err != nil {
		return err
	}
	lv, err := p.unmirror(v)
	if err != nil {
		return err
	}
	idx := 0
	for i := 1; ; i++ {
		n, _ := p.vm.GetLocal(h.dbg, i)
		if n == "" {
			break
		}
		if n == name {
			// keep scanning; the latest declaration shadows
			idx = i
		}
	}
	if idx == 0 {
		return target.ErrNoSuchLocal
	}
	p.vm.SetLocal(h.dbg, idx, lv)
	return nil
}

const evalChunkName = "(debugger)"

// Evaluate implements target.Process. The expression runs in an
// environment layering frame locals and upvalues over the globals,
// with extra bindings on top; assignments to frame locals write back
// when the evaluation completes.
func (p *Process) Evaluate(thread target.ThreadRef, frame target.FrameRef, expr string, bindings map[string]target.Value) (target.Value, error) {
	var result target.Value
	var inner error
	err := p.onDriver(func() {
		result, inner = p.evaluate(frame, expr, bindings)
	})
	if err != nil {
		return nil, err
	}
	return result, inner
}

func (p *Process) evaluate(frame target.FrameRef, expr string, bindings map[string]target.Value) (target.Value, error) {
	h, err := p.frameHandle(frame)
	if err != nil {
		return nil, err
	}

	proto, perr := compileChunk("return "+expr, evalChunkName)
	if perr != nil {
		var stmtErr error
		proto, stmtErr = compileChunk(expr, evalChunkName)
		if stmtErr != nil {
			return nil, &target.ScriptError{
				Thrown: target.Prim{Val: perr.Error()},
				Info:   target.ExceptionInfo{Message: perr.Error(), TypeName: "syntax error"},
			}
		}
	}

	vm := p.vm
	fn := vm.NewFunctionFromProto(proto)

	env := vm.CreateTable(0, 8)
	for i, uv := range h.fn.Upvalues {
		if i < len(h.fn.Proto.DbgUpvalues) {
			env.RawSetString(h.fn.Proto.DbgUpvalues[i], uv.Value())
		}
	}
	locals := make(map[string]int)
	snapshot := make(map[string]lua.LValue)
	for i := 1; ; i++ {
		n, v := vm.GetLocal(h.dbg, i)
		if n == "" {
			break
		}
		if strings.HasPrefix(n, "(") {
			continue
		}
		locals[n] = i
		snapshot[n] = v
		env.RawSetString(n, v)
	}
	for n, bv := range bindings {
		lv, berr := p.unmirror(bv)
		if berr != nil {
			return nil, berr
		}
		env.RawSetString(n, lv)
		// the binding shadows any local of the same name
		delete(locals, n)
	}

	globals := h.fn.Env
	if globals == nil {
		globals = vm.Get(lua.GlobalsIndex).(*lua.LTable)
	}
	mt := vm.CreateTable(0, 2)
	mt.RawSetString("__index", globals)
	mt.RawSetString("__newindex", globals)
	vm.SetMetatable(env, mt)
	vm.SetFEnv(fn, env)

	base := vm.GetTop()
	vm.Push(fn)
	if callErr := vm.PCall(0, 1, nil); callErr != nil {
		vm.SetTop(base)
		if apiErr, ok := callErr.(*lua.ApiError); ok {
			return nil, &target.ScriptError{Thrown: p.mirror(apiErr.Object), Info: exceptionInfo(apiErr)}
		}
		return nil, callErr
	}
	res := vm.Get(-1)
	vm.SetTop(base)

	for n, idx := range locals {
		if cur := env.RawGetString(n); cur != snapshot[n] {
			vm.SetLocal(h.dbg, idx, cur)
		}
	}
	return p.mirror(res), nil
}
