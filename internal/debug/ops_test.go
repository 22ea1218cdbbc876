package debug

import (
	"errors"
	"strings"
	"testing"

	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

func propByName(t *testing.T, props []Property, name string) Property {
	t.Helper()
	for _, p := range props {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("property %q not found in %v", name, props)
	return Property{}
}

func TestHost_SetBreakpointNoLocation(t *testing.T) {
	f := newFixture(t)
	f.proc.AddUnit("main.lua", "local x = 1\nreturn x\n", 1, 2)
	f.start(t)
	s := f.script(t, "main.lua")

	bp, err := f.host.SetBreakpoint(s.ID, 42)
	if err != nil {
		t.Fatalf("SetBreakpoint() on an empty line failed: %v", err)
	}
	if bp.ID != "" {
		t.Errorf("expected an uninstalled breakpoint, got id %q", bp.ID)
	}
	if bp.Installed() != 0 {
		t.Errorf("expected 0 installed locations, got %d", bp.Installed())
	}
	if got := f.proc.LocationTriggers(); len(got) != 0 {
		t.Errorf("expected no triggers on the target, got %v", got)
	}
	if got := f.host.Breakpoints(); len(got) != 0 {
		t.Errorf("uninstalled breakpoint must not be listed, got %v", got)
	}
}

func TestHost_SetBreakpointSpansCompiledCopies(t *testing.T) {
	f := newFixture(t)
	src := "return f()\n"
	f.proc.AddUnit("util.lua", src, 1)
	f.proc.AddUnit("util.lua", src, 1)
	f.start(t)
	s := f.script(t, "util.lua")

	bp, err := f.host.SetBreakpoint(s.ID, 1)
	if err != nil {
		t.Fatalf("SetBreakpoint() failed: %v", err)
	}
	if bp.Installed() != 2 {
		t.Errorf("expected a trigger per compiled copy, got %d", bp.Installed())
	}
	if got := f.proc.LocationTriggers(); len(got) != 2 {
		t.Errorf("expected 2 triggers on the target, got %v", got)
	}
	if got := f.host.Breakpoints(); len(got) != 1 {
		t.Errorf("expected a single logical breakpoint, got %d", len(got))
	}
}

func TestHost_RemoveBreakpoint(t *testing.T) {
	f := newFixture(t)
	f.proc.AddUnit("main.lua", "work()\n", 1)
	f.start(t)
	s := f.script(t, "main.lua")

	bp, err := f.host.SetBreakpoint(s.ID, 1)
	if err != nil {
		t.Fatalf("SetBreakpoint() failed: %v", err)
	}
	f.host.RemoveBreakpoint(bp.ID)
	if got := f.proc.LocationTriggers(); len(got) != 0 {
		t.Errorf("expected triggers cleared, got %v", got)
	}
	if got := f.host.Breakpoints(); len(got) != 0 {
		t.Errorf("expected no breakpoints listed, got %v", got)
	}

	// Removing twice, or an id that never existed, is a no-op.
	f.host.RemoveBreakpoint(bp.ID)
	f.host.RemoveBreakpoint("bp-404")
}

func TestHost_Frames(t *testing.T) {
	f := newFixture(t)
	code := f.proc.AddUnit("main.lua", "local x = 1\nbreakpoint()\nreturn x\n", 1, 2, 3)
	f.start(t)
	s := f.script(t, "main.lua")

	bp, err := f.host.SetBreakpoint(s.ID, 2)
	if err != nil {
		t.Fatalf("SetBreakpoint() failed: %v", err)
	}

	localScope := target.ObjectRef{ID: 10, Class: target.ClassScope, Name: "Local", ScopeKind: target.ScopeLocal}
	globalScope := target.ObjectRef{ID: 11, Class: target.ClassScope, Name: "Global", ScopeKind: target.ScopeGlobal}
	receiver := target.ObjectRef{ID: 20, Class: target.ClassObject}
	f.proc.SetFrames(mainThread,
		target.FrameRef{Thread: mainThread, Depth: 0, Name: "inner", Location: lineLoc(code, 2), This: receiver},
		target.FrameRef{Thread: mainThread, Depth: 1, Name: "glue", Location: target.Location{Code: 999, Line: 1, Index: -1}},
	)
	f.proc.SetScopes(mainThread, 0,
		target.ScopeRef{Kind: target.ScopeLocal, Object: localScope},
		target.ScopeRef{Kind: target.ScopeGlobal, Object: globalScope},
	)

	f.proc.Emit(target.LocationEvent{Thread: mainThread, Location: lineLoc(code, 2), Trigger: bp.Triggers[0], StackDepth: 2})
	awaitEvent[notify.PausedEvent](t, f.sub)

	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	top := frames[0]
	if top.Name != "inner" {
		t.Errorf("expected frame name inner, got %q", top.Name)
	}
	if !top.HasPosition || top.Position.Script != s.ID || top.Position.Line != 2 {
		t.Errorf("expected position %d:2, got %+v", s.ID, top.Position)
	}
	if !top.AtPauseStatement {
		t.Error("expected frame on the breakpoint() line to be flagged")
	}
	if len(top.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(top.Scopes))
	}
	if top.Scopes[0].Kind != target.ScopeLocal || top.Scopes[1].Kind != target.ScopeGlobal {
		t.Errorf("unexpected scope kinds: %v, %v", top.Scopes[0].Kind, top.Scopes[1].Kind)
	}
	if _, ok := top.This.Resolve().(value.ObjectNode); !ok {
		t.Errorf("expected receiver to resolve to an object, got %T", top.This.Resolve())
	}

	// Frames outside any known script keep their stack slot but carry
	// no position.
	if frames[1].HasPosition {
		t.Error("expected no position for a frame in unknown code")
	}
	if frames[1].AtPauseStatement {
		t.Error("unmapped frame cannot sit on a pause statement")
	}

	// The frame list is built once per pause.
	again, err := f.host.Frames()
	if err != nil {
		t.Fatalf("second Frames() failed: %v", err)
	}
	if again[0].ID != frames[0].ID || again[1].ID != frames[1].ID {
		t.Error("expected stable frame ids within one pause")
	}
}

func TestHost_FramesNotPaused(t *testing.T) {
	f := newFixture(t)
	f.proc.AddUnit("main.lua", "return 1\n", 1)
	f.start(t)

	if _, err := f.host.Frames(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("expected ErrNotPaused, got %v", err)
	}
}

func TestHost_Evaluate(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(thread target.ThreadRef, frame target.FrameRef, expr string, bindings map[string]target.Value) (target.Value, error) {
		if thread != mainThread {
			t.Errorf("expected evaluation on main thread, got %v", thread)
		}
		if frame.Depth != 0 {
			t.Errorf("expected evaluation in the top frame, got depth %d", frame.Depth)
		}
		if expr != "1+1" {
			t.Errorf("expected expression 1+1, got %q", expr)
		}
		return target.Prim{Val: int64(2)}, nil
	}

	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.Evaluate(frames[0].ID, "1+1", nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	sv, ok := node.(value.SimpleValue)
	if !ok {
		t.Fatalf("expected SimpleValue, got %T", node)
	}
	if sv.Value != int64(2) {
		t.Errorf("expected 2, got %v", sv.Value)
	}
}

func TestHost_EvaluateBindings(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		return target.ObjectRef{ID: 30, Class: target.ClassObject}, nil
	}
	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.Evaluate(frames[0].ID, "tbl", nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	obj := node.(value.ObjectNode)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, bindings map[string]target.Value) (target.Value, error) {
		ref, ok := bindings["tbl"].(target.ObjectRef)
		if !ok || ref.ID != 30 {
			t.Errorf("expected binding tbl to resolve to object 30, got %v", bindings["tbl"])
		}
		return target.Prim{Val: true}, nil
	}
	res, err := f.host.Evaluate(frames[0].ID, "tbl ~= nil", map[string]value.ObjectID{"tbl": obj.ID})
	if err != nil {
		t.Fatalf("Evaluate() with binding failed: %v", err)
	}
	if sv, ok := res.(value.SimpleValue); !ok || sv.Value != true {
		t.Errorf("expected true, got %v", res)
	}

	_, err = f.host.Evaluate(frames[0].ID, "x", map[string]value.ObjectID{"x": value.ObjectID("obj-404")})
	if !errors.Is(err, ErrUnknownObject) {
		t.Errorf("expected ErrUnknownObject, got %v", err)
	}
}

func TestHost_EvaluateNotPausedNoTargetInteraction(t *testing.T) {
	f := newFixture(t)
	f.proc.AddUnit("main.lua", "return 1\n", 1)
	f.start(t)

	called := false
	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		called = true
		return target.Undefined{}, nil
	}
	if _, err := f.host.Evaluate("frame-1", "1+1", nil); !errors.Is(err, ErrNotPaused) {
		t.Errorf("expected ErrNotPaused, got %v", err)
	}
	if called {
		t.Error("evaluation must not reach the target without a pause")
	}
}

func TestHost_EvaluateUnknownFrame(t *testing.T) {
	f, _ := pausedFixture(t)

	if _, err := f.host.Evaluate("frame-404", "1", nil); !errors.Is(err, ErrNoSuchFrame) {
		t.Errorf("expected ErrNoSuchFrame, got %v", err)
	}
}

func TestHost_EvaluateScriptError(t *testing.T) {
	f, _ := pausedFixture(t)

	info := target.ExceptionInfo{Message: "attempt to index a nil value", TypeName: "Error"}
	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		return nil, &target.ScriptError{
			Thrown: target.ObjectRef{ID: 88, Class: target.ClassError, Exception: &info},
			Info:   info,
		}
	}
	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}

	_, err = f.host.Evaluate(frames[0].ID, "nil.x", nil)
	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvalError, got %v", err)
	}
	payload, ok := evalErr.Value.(value.ErrorValue)
	if !ok {
		t.Fatalf("expected ErrorValue payload, got %T", evalErr.Value)
	}
	if payload.Data.Message != "attempt to index a nil value" {
		t.Errorf("unexpected payload message %q", payload.Data.Message)
	}
}

func TestHost_SetFrameLocal(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, expr string, _ map[string]target.Value) (target.Value, error) {
		if expr != "40 + 2" {
			t.Errorf("expected the assignment expression, got %q", expr)
		}
		return target.Prim{Val: int64(42)}, nil
	}
	var gotName string
	var gotVal target.Value
	f.proc.WriteLocalFunc = func(_ target.FrameRef, name string, v target.Value) error {
		gotName = name
		gotVal = v
		return nil
	}

	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.SetFrameLocal(frames[0].ID, "x", "40 + 2")
	if err != nil {
		t.Fatalf("SetFrameLocal() failed: %v", err)
	}
	if sv, ok := node.(value.SimpleValue); !ok || sv.Value != int64(42) {
		t.Errorf("expected 42, got %v", node)
	}
	if gotName != "x" {
		t.Errorf("expected local x written, got %q", gotName)
	}
	if prim, ok := gotVal.(target.Prim); !ok || prim.Val != int64(42) {
		t.Errorf("expected 42 written, got %v", gotVal)
	}

	f.proc.WriteLocalFunc = func(_ target.FrameRef, _ string, _ target.Value) error {
		return target.ErrNoSuchLocal
	}
	if _, err := f.host.SetFrameLocal(frames[0].ID, "nope", "1"); !errors.Is(err, target.ErrNoSuchLocal) {
		t.Errorf("expected ErrNoSuchLocal, got %v", err)
	}
}

func TestHost_RestartFrame(t *testing.T) {
	f := newFixture(t)
	code := f.proc.AddUnit("main.lua", "caller()\nglue()\nleaf()\n", 1, 2, 3)
	f.start(t)
	s := f.script(t, "main.lua")

	bp, err := f.host.SetBreakpoint(s.ID, 3)
	if err != nil {
		t.Fatalf("SetBreakpoint() failed: %v", err)
	}
	f.proc.SetFrames(mainThread,
		target.FrameRef{Thread: mainThread, Depth: 0, Name: "leaf", Location: lineLoc(code, 3)},
		target.FrameRef{Thread: mainThread, Depth: 1, Name: "caller", Location: lineLoc(code, 1)},
	)
	f.proc.Emit(target.LocationEvent{Thread: mainThread, Location: lineLoc(code, 3), Trigger: bp.Triggers[0], StackDepth: 2})
	awaitEvent[notify.PausedEvent](t, f.sub)

	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	var popped *target.FrameRef
	f.proc.PopFunc = func(_ target.ThreadRef, frame target.FrameRef) error {
		popped = &frame
		f.proc.SetFrames(mainThread, target.FrameRef{Thread: mainThread, Depth: 1, Name: "caller", Location: lineLoc(code, 1)})
		return nil
	}
	rebuilt, err := f.host.RestartFrame(frames[0].ID)
	if err != nil {
		t.Fatalf("RestartFrame() failed: %v", err)
	}
	if popped == nil || popped.Depth != 0 {
		t.Fatalf("expected the leaf frame popped, got %+v", popped)
	}
	if len(rebuilt) != 1 || rebuilt[0].Name != "caller" {
		t.Fatalf("expected the rebuilt stack [caller], got %v", rebuilt)
	}
	if rebuilt[0].ID == frames[0].ID || rebuilt[0].ID == frames[1].ID {
		t.Error("rebuilt frames must carry fresh ids")
	}

	// The native stack moves on underneath; the cached descriptor can
	// no longer be located.
	f.proc.SetFrames(mainThread, target.FrameRef{Thread: mainThread, Depth: 1, Name: "caller", Location: lineLoc(code, 2)})
	if _, err := f.host.RestartFrame(rebuilt[0].ID); !errors.Is(err, ErrFrameNotLocatable) {
		t.Errorf("expected ErrFrameNotLocatable, got %v", err)
	}
}

func TestHost_Properties(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		return target.ObjectRef{ID: 30, Class: target.ClassObject}, nil
	}
	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.Evaluate(frames[0].ID, "tbl", nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	id := node.(value.ObjectNode).ID

	getter := target.ObjectRef{ID: 40, Class: target.ClassFunction}
	f.proc.SetProperties(30,
		target.PropertyDescriptor{Name: "n", Kind: target.DataProperty, Value: target.Prim{Val: int64(1)}, Writable: true, IsOwn: true},
		target.PropertyDescriptor{Name: "computed", Kind: target.AccessorProperty, Getter: &getter, IsOwn: true},
		target.PropertyDescriptor{Name: "inherited", Kind: target.DataProperty, Value: target.Prim{Val: "base"}, IsOwn: false},
	)
	f.proc.GetterFunc = func(g, owner target.ObjectRef) (target.Value, error) {
		if g.ID != 40 || owner.ID != 30 {
			t.Errorf("getter invoked with wrong refs: getter %d owner %d", g.ID, owner.ID)
		}
		return target.Prim{Val: "lazy"}, nil
	}

	all, err := f.host.Properties(id, false, false)
	if err != nil {
		t.Fatalf("Properties() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(all))
	}
	n := propByName(t, all, "n")
	if !n.Writable || !n.IsOwn {
		t.Errorf("unexpected flags for n: %+v", n)
	}
	if sv, ok := n.Value.(value.SimpleValue); !ok || sv.Value != int64(1) {
		t.Errorf("expected 1, got %v", n.Value)
	}
	computed := propByName(t, all, "computed")
	if sv, ok := computed.Value.(value.SimpleValue); !ok || sv.Value != "lazy" {
		t.Errorf("expected getter result, got %v", computed.Value)
	}
	if computed.Writable {
		t.Error("accessor without setter must not be writable")
	}
	if inherited := propByName(t, all, "inherited"); inherited.IsOwn {
		t.Error("prototype property must not be own")
	}

	own, err := f.host.Properties(id, true, false)
	if err != nil {
		t.Fatalf("Properties(own) failed: %v", err)
	}
	if len(own) != 2 {
		t.Errorf("expected 2 own properties, got %d", len(own))
	}
	accessors, err := f.host.Properties(id, true, true)
	if err != nil {
		t.Fatalf("Properties(accessors) failed: %v", err)
	}
	if len(accessors) != 1 || accessors[0].Name != "computed" {
		t.Errorf("expected only the accessor, got %v", accessors)
	}

	// Script-domain objects are served from the pause cache on repeat
	// reads.
	f.proc.SetProperties(30, target.PropertyDescriptor{Name: "mutated", Kind: target.DataProperty, Value: target.Prim{Val: true}, IsOwn: true})
	cached, err := f.host.Properties(id, true, false)
	if err != nil {
		t.Fatalf("cached Properties() failed: %v", err)
	}
	if len(cached) != 2 {
		t.Errorf("expected the cached property list, got %v", cached)
	}
}

func TestHost_PropertyGetterFailure(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		return target.ObjectRef{ID: 30, Class: target.ClassObject}, nil
	}
	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.Evaluate(frames[0].ID, "tbl", nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	id := node.(value.ObjectNode).ID

	getter := target.ObjectRef{ID: 40, Class: target.ClassFunction}
	f.proc.SetProperties(30,
		target.PropertyDescriptor{Name: "broken", Kind: target.AccessorProperty, Getter: &getter, IsOwn: true},
	)
	f.proc.GetterFunc = func(_, _ target.ObjectRef) (target.Value, error) {
		return nil, errors.New("getter exploded")
	}

	props, err := f.host.Properties(id, true, false)
	if err != nil {
		t.Fatalf("Properties() failed: %v", err)
	}
	broken := propByName(t, props, "broken")
	sv, ok := broken.Value.(value.SimpleValue)
	if !ok {
		t.Fatalf("expected a diagnostic string, got %T", broken.Value)
	}
	text, _ := sv.Value.(string)
	if !strings.HasPrefix(text, "<getter error:") {
		t.Errorf("expected a getter-error diagnostic, got %q", text)
	}
}

func TestHost_PropertiesHostObjectNotCached(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		return target.ObjectRef{ID: 50, Class: target.ClassHost}, nil
	}
	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.Evaluate(frames[0].ID, "handle", nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	id := node.(value.ObjectNode).ID

	f.proc.SetProperties(50, target.PropertyDescriptor{Name: "state", Kind: target.DataProperty, Value: target.Prim{Val: "before"}, IsOwn: true})
	first, err := f.host.Properties(id, true, false)
	if err != nil {
		t.Fatalf("Properties() failed: %v", err)
	}
	if sv := propByName(t, first, "state").Value.(value.SimpleValue); sv.Value != "before" {
		t.Fatalf("expected before, got %v", sv.Value)
	}

	// Host-runtime objects can mutate while paused, so every read goes
	// to the target.
	f.proc.SetProperties(50, target.PropertyDescriptor{Name: "state", Kind: target.DataProperty, Value: target.Prim{Val: "after"}, IsOwn: true})
	second, err := f.host.Properties(id, true, false)
	if err != nil {
		t.Fatalf("second Properties() failed: %v", err)
	}
	if sv := propByName(t, second, "state").Value.(value.SimpleValue); sv.Value != "after" {
		t.Errorf("expected a fresh read, got %v", sv.Value)
	}
}

func TestHost_PropertiesUnknownObject(t *testing.T) {
	f, _ := pausedFixture(t)

	if _, err := f.host.Properties(value.ObjectID("obj-404"), true, false); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("expected ErrUnknownObject, got %v", err)
	}
}

func TestHost_Extract(t *testing.T) {
	f, _ := pausedFixture(t)

	f.proc.EvalFunc = func(_ target.ThreadRef, _ target.FrameRef, _ string, _ map[string]target.Value) (target.Value, error) {
		return target.ObjectRef{ID: 30, Class: target.ClassObject}, nil
	}
	f.proc.SetProperties(30,
		target.PropertyDescriptor{Name: "a", Kind: target.DataProperty, Value: target.Prim{Val: int64(1)}, IsOwn: true},
		target.PropertyDescriptor{Name: "self", Kind: target.DataProperty, Value: target.ObjectRef{ID: 30, Class: target.ClassObject}, IsOwn: true},
	)

	frames, err := f.host.Frames()
	if err != nil {
		t.Fatalf("Frames() failed: %v", err)
	}
	node, err := f.host.Evaluate(frames[0].ID, "tbl", nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	data, err := f.host.Extract(node)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("expected a map, got %T", data)
	}
	if m["a"] != int64(1) {
		t.Errorf("expected a=1, got %v", m["a"])
	}
	if m["self"] != value.CycleMarker {
		t.Errorf("expected the self reference to close as a cycle, got %v", m["self"])
	}
}

func TestHost_Reset(t *testing.T) {
	f, _ := pausedFixture(t)
	f.host.SetExceptionPauseMode(ExceptionsAll)

	if err := f.host.Reset(); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if got := f.host.Breakpoints(); len(got) != 0 {
		t.Errorf("expected breakpoints cleared, got %v", got)
	}
	if got := f.proc.LocationTriggers(); len(got) != 0 {
		t.Errorf("expected triggers cleared, got %v", got)
	}
	if got := f.host.ExceptionPauseMode(); got != ExceptionsNever {
		t.Errorf("expected exception mode never, got %s", got)
	}
	awaitEvent[notify.ResumedEvent](t, f.sub)
	if err := f.proc.AwaitResume(); err != nil {
		t.Fatalf("reset did not resume the target: %v", err)
	}
	if f.host.Paused() {
		t.Error("expected host running after reset")
	}
}

func TestHost_UnitsCompiledDuringPauseReconciled(t *testing.T) {
	f, _ := pausedFixture(t)

	// In-pause evaluation compiled a new chunk; no load event fires
	// for it while suspended.
	f.proc.AddUnit("generated.lua", "return 1\n", 1)
	if _, ok := f.host.ScriptByName("generated.lua"); ok {
		t.Fatal("unit must not be visible before resume")
	}

	if err := f.host.Resume(); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	if _, ok := f.host.ScriptByName("generated.lua"); !ok {
		t.Error("expected the unit reconciled on resume")
	}
}
