package luavm

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

type meters int

type label string

func findProp(t *testing.T, props []target.PropertyDescriptor, name string) target.PropertyDescriptor {
	t.Helper()
	for _, pr := range props {
		if pr.Name == name {
			return pr
		}
	}
	t.Fatalf("property %q not found among %d properties", name, len(props))
	return target.PropertyDescriptor{}
}

func TestMirror_Primitives(t *testing.T) {
	p := New()
	defer p.Close()

	tests := []struct {
		name string
		in   lua.LValue
		want target.Value
	}{
		{"nil", lua.LNil, target.Null{}},
		{"true", lua.LTrue, target.Prim{Val: true}},
		{"false", lua.LFalse, target.Prim{Val: false}},
		{"integer", lua.LNumber(42), target.Prim{Val: int64(42)}},
		{"negative integer", lua.LNumber(-7), target.Prim{Val: int64(-7)}},
		{"zero", lua.LNumber(0), target.Prim{Val: int64(0)}},
		{"fraction", lua.LNumber(1.5), target.Prim{Val: 1.5}},
		{"beyond exact range", lua.LNumber(1 << 53), target.Prim{Val: float64(1 << 53)}},
		{"string", lua.LString("hi"), target.Prim{Val: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.mirror(tt.in); got != tt.want {
				t.Errorf("mirror(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMirror_Tables(t *testing.T) {
	p := New()
	defer p.Close()

	arr := p.vm.NewTable()
	arr.Append(lua.LNumber(10))
	arr.Append(lua.LNumber(20))
	arr.Append(lua.LNumber(30))
	ref, ok := p.mirror(arr).(target.ObjectRef)
	if !ok {
		t.Fatalf("mirror(dense table) = %T, want ObjectRef", p.mirror(arr))
	}
	if ref.Class != target.ClassArray {
		t.Errorf("dense table class = %v, want array", ref.Class)
	}
	if ref.Length != 3 {
		t.Errorf("Length = %d, want 3", ref.Length)
	}

	obj := p.vm.NewTable()
	obj.RawSetString("a", lua.LNumber(1))
	obj.RawSetString("b", lua.LNumber(2))
	if got := p.mirror(obj).(target.ObjectRef); got.Class != target.ClassObject {
		t.Errorf("map table class = %v, want object", got.Class)
	}

	mixed := p.vm.NewTable()
	mixed.Append(lua.LNumber(1))
	mixed.RawSetString("x", lua.LNumber(2))
	if got := p.mirror(mixed).(target.ObjectRef); got.Class != target.ClassObject {
		t.Errorf("mixed table class = %v, want object", got.Class)
	}

	empty := p.vm.NewTable()
	if got := p.mirror(empty).(target.ObjectRef); got.Class != target.ClassObject {
		t.Errorf("empty table class = %v, want object", got.Class)
	}
}

func TestMirror_Identity(t *testing.T) {
	p := New()
	defer p.Close()

	tbl := p.vm.NewTable()
	r1 := p.mirror(tbl).(target.ObjectRef)
	r2 := p.mirror(tbl).(target.ObjectRef)
	if r1.ID != r2.ID {
		t.Errorf("same table minted two ids: %d and %d", r1.ID, r2.ID)
	}

	other := p.vm.NewTable()
	r3 := p.mirror(other).(target.ObjectRef)
	if r3.ID == r1.ID {
		t.Error("distinct tables share an id")
	}
}

func TestMirror_Unmirror(t *testing.T) {
	p := New()
	defer p.Close()

	tbl := p.vm.NewTable()
	ref := p.mirror(tbl).(target.ObjectRef)

	tests := []struct {
		name string
		in   target.Value
		want lua.LValue
	}{
		{"undefined", target.Undefined{}, lua.LNil},
		{"null", target.Null{}, lua.LNil},
		{"bool", target.Prim{Val: true}, lua.LTrue},
		{"int", target.Prim{Val: int64(5)}, lua.LNumber(5)},
		{"float", target.Prim{Val: 2.5}, lua.LNumber(2.5)},
		{"string", target.Prim{Val: "s"}, lua.LString("s")},
		{"object ref", ref, tbl},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.unmirror(tt.in)
			if err != nil {
				t.Fatalf("unmirror() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("unmirror() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := p.unmirror(target.ObjectRef{ID: 404}); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("unmirror(unknown ref) error = %v, want ErrUnknownObject", err)
	}
}

func TestMirror_Functions(t *testing.T) {
	p := New()
	defer p.Close()

	src := "local function add(a, b)\n  return a + b\nend\nprint(add(1, 2))"
	if _, err := p.LoadScript("main.lua", src); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	refs, err := p.CodeUnits()
	if err != nil {
		t.Fatalf("CodeUnits() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("CodeUnits() = %d units, want 2", len(refs))
	}

	fn := p.vm.NewFunctionFromProto(p.units[refs[1]].proto)
	ref, ok := p.mirror(fn).(target.ObjectRef)
	if !ok {
		t.Fatalf("mirror(function) = %T, want ObjectRef", p.mirror(fn))
	}
	if ref.Class != target.ClassFunction {
		t.Errorf("class = %v, want function", ref.Class)
	}
	if ref.Name != "add" {
		t.Errorf("Name = %q, want add", ref.Name)
	}
	want := "local function add(a, b)\n  return a + b\nend"
	if ref.Source != want {
		t.Errorf("Source = %q, want the definition lines", ref.Source)
	}

	builtin := p.vm.GetGlobal("print").(*lua.LFunction)
	bref := p.mirror(builtin).(target.ObjectRef)
	if bref.Class != target.ClassFunction || bref.Name != "builtin" {
		t.Errorf("builtin = class %v name %q, want function/builtin", bref.Class, bref.Name)
	}
}

func TestMirror_Userdata(t *testing.T) {
	p := New()
	defer p.Close()

	ud := p.vm.NewUserData()
	ud.Value = meters(12)
	ref := p.mirror(ud).(target.ObjectRef)
	if ref.Class != target.ClassHost {
		t.Errorf("class = %v, want host", ref.Class)
	}
	if !strings.Contains(ref.Name, "meters") {
		t.Errorf("Name = %q, want the host type name", ref.Name)
	}
	if ref.Boxed != (target.Prim{Val: int64(12)}) {
		t.Errorf("Boxed = %#v, want Prim{12}", ref.Boxed)
	}

	sd := p.vm.NewUserData()
	sd.Value = label("tagged")
	sref := p.mirror(sd).(target.ObjectRef)
	if sref.Boxed != (target.Prim{Val: "tagged"}) {
		t.Errorf("Boxed = %#v, want Prim{tagged}", sref.Boxed)
	}

	opaque := p.vm.NewUserData()
	opaque.Value = struct{ n int }{1}
	oref := p.mirror(opaque).(target.ObjectRef)
	if oref.Boxed != nil {
		t.Errorf("struct userdata boxed %#v, want nil", oref.Boxed)
	}
	if oref.Name == "" {
		t.Error("struct userdata has no type name")
	}

	bare := p.vm.NewUserData()
	bref := p.mirror(bare).(target.ObjectRef)
	if bref.Name != "userdata" {
		t.Errorf("empty userdata Name = %q, want userdata", bref.Name)
	}
}

func TestMirror_TableProperties(t *testing.T) {
	p := New()
	defer p.Close()

	tbl := p.vm.NewTable()
	tbl.RawSetInt(10, lua.LTrue)
	tbl.RawSetInt(2, lua.LFalse)
	tbl.RawSetString("name", lua.LString("x"))
	props := p.tableProperties(tbl, true, false)
	if len(props) != 3 {
		t.Fatalf("got %d properties, want 3", len(props))
	}
	order := []string{props[0].Name, props[1].Name, props[2].Name}
	if order[0] != "2" || order[1] != "10" || order[2] != "name" {
		t.Errorf("order = %v, want numeric names first in numeric order", order)
	}
	for _, pr := range props {
		if pr.Kind != target.DataProperty || !pr.Writable || !pr.Enumerable || !pr.IsOwn {
			t.Errorf("property %q = %+v, want writable enumerable own data", pr.Name, pr)
		}
	}
	if got := findProp(t, props, "name").Value; got != (target.Prim{Val: "x"}) {
		t.Errorf("name = %#v, want Prim{x}", got)
	}
}

func TestMirror_MetatableChain(t *testing.T) {
	p := New()
	defer p.Close()

	base := p.vm.NewTable()
	base.RawSetString("inherited", lua.LNumber(1))
	mt := p.vm.NewTable()
	mt.RawSetString("__index", base)
	tbl := p.vm.NewTable()
	tbl.RawSetString("own", lua.LTrue)
	p.vm.SetMetatable(tbl, mt)

	own := p.tableProperties(tbl, true, false)
	if len(own) != 1 || own[0].Name != "own" {
		t.Errorf("own properties = %+v, want just own", own)
	}

	all := p.tableProperties(tbl, false, false)
	if len(all) != 2 {
		t.Fatalf("got %d properties, want 2", len(all))
	}
	if pr := findProp(t, all, "inherited"); pr.IsOwn {
		t.Error("inherited property reported as own")
	}
	if pr := findProp(t, all, "own"); !pr.IsOwn {
		t.Error("own property reported as inherited")
	}

	// a shadowing own key hides the chain entry
	tbl.RawSetString("inherited", lua.LNumber(9))
	all = p.tableProperties(tbl, false, false)
	pr := findProp(t, all, "inherited")
	if !pr.IsOwn || pr.Value != (target.Prim{Val: int64(9)}) {
		t.Errorf("shadowed property = %+v, want own value 9", pr)
	}
}

func TestMirror_ArrayPropertiesZeroBased(t *testing.T) {
	p := New()
	defer p.Close()

	tbl := p.vm.NewTable()
	tbl.Append(lua.LNumber(10))
	tbl.Append(lua.LNumber(20))
	tbl.Append(lua.LNumber(30))

	ref, ok := p.mirror(tbl).(target.ObjectRef)
	if !ok || ref.Class != target.ClassArray {
		t.Fatalf("mirror() = %#v, want an array ref", ref)
	}

	props, err := p.properties(ref, true)
	if err != nil {
		t.Fatalf("properties() error = %v", err)
	}
	if len(props) != 3 {
		t.Fatalf("got %d properties, want 3", len(props))
	}
	for i, want := range []int64{10, 20, 30} {
		if props[i].Name != strconv.Itoa(i) {
			t.Errorf("props[%d].Name = %q, want %q", i, props[i].Name, strconv.Itoa(i))
		}
		if props[i].Value != (target.Prim{Val: want}) {
			t.Errorf("props[%d].Value = %#v, want Prim{%d}", i, props[i].Value, want)
		}
	}
}

func TestMirror_ArrayExtract(t *testing.T) {
	p := New()
	defer p.Close()

	src := "local t = {10, 20, 30}\nprint(t[1])\n"
	if _, err := p.LoadScript("main.lua", src); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	id, err := p.SetLocationTrigger(lineLocation(t, p, 2))
	if err != nil {
		t.Fatalf("SetLocationTrigger() error = %v", err)
	}
	done := startRun(p)
	awaitBatch(t, p)

	frames, err := p.Frames(mainThread)
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	v, err := p.Evaluate(mainThread, frames[0], "t", nil)
	if err != nil {
		t.Fatalf("Evaluate(t) error = %v", err)
	}

	marsh := value.NewMarshaller(p, nil)
	got := value.NewExtractor(p, marsh, mainThread).Extract(marsh.Marshal(v))
	arr, ok := got.([]any)
	if !ok {
		t.Fatalf("Extract() = %T, want a slice", got)
	}
	if len(arr) != 3 {
		t.Fatalf("Extract() length = %d, want 3", len(arr))
	}
	for i, want := range []int64{10, 20, 30} {
		if arr[i] != want {
			t.Errorf("Extract()[%d] = %v, want %d", i, arr[i], want)
		}
	}
	marsh.Release()

	p.ClearTrigger(id)
	p.Resume()
	if err := awaitDeath(t, p, done); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestMirror_ScopeProperties(t *testing.T) {
	p := New()
	defer p.Close()

	if _, err := p.LoadScript("main.lua", workScript); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	id, err := p.SetLocationTrigger(lineLocation(t, p, 5))
	if err != nil {
		t.Fatalf("SetLocationTrigger() error = %v", err)
	}
	done := startRun(p)
	awaitBatch(t, p)

	frames, err := p.Frames(mainThread)
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	scopes, err := p.FrameScopes(frames[0])
	if err != nil {
		t.Fatalf("FrameScopes() error = %v", err)
	}
	byKind := make(map[target.ScopeKind]target.ObjectRef)
	for _, sc := range scopes {
		byKind[sc.Kind] = sc.Object
	}

	locals, err := p.OwnProperties(byKind[target.ScopeLocal], true, false)
	if err != nil {
		t.Fatalf("OwnProperties(local) error = %v", err)
	}
	if got := findProp(t, locals, "n").Value; got != (target.Prim{Val: int64(1)}) {
		t.Errorf("local n = %#v, want Prim{1}", got)
	}
	if got := findProp(t, locals, "acc").Value; got != (target.Prim{Val: int64(0)}) {
		t.Errorf("local acc = %#v, want Prim{0}", got)
	}

	closure, err := p.OwnProperties(byKind[target.ScopeClosure], true, false)
	if err != nil {
		t.Fatalf("OwnProperties(closure) error = %v", err)
	}
	if got := findProp(t, closure, "total").Value; got != (target.Prim{Val: int64(0)}) {
		t.Errorf("upvalue total = %#v, want Prim{0}", got)
	}

	globals, err := p.OwnProperties(byKind[target.ScopeGlobal], true, false)
	if err != nil {
		t.Fatalf("OwnProperties(global) error = %v", err)
	}
	pr := findProp(t, globals, "print")
	if fn, ok := pr.Value.(target.ObjectRef); !ok || fn.Class != target.ClassFunction {
		t.Errorf("global print = %#v, want a function ref", pr.Value)
	}

	// accessor enumeration is empty rather than an error
	accessors, err := p.OwnProperties(byKind[target.ScopeLocal], true, true)
	if err != nil || accessors != nil {
		t.Errorf("accessor properties = %v, %v, want nil, nil", accessors, err)
	}

	if _, err := p.OwnProperties(target.ObjectRef{ID: 404}, true, false); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("OwnProperties(unknown) error = %v, want ErrUnknownObject", err)
	}

	p.ClearTrigger(id)
	p.Resume()
	if err := awaitDeath(t, p, done); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestMirror_StaleScopeAfterResume(t *testing.T) {
	p := New()
	defer p.Close()

	if _, err := p.LoadScript("main.lua", workScript); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	id, err := p.SetLocationTrigger(lineLocation(t, p, 5))
	if err != nil {
		t.Fatalf("SetLocationTrigger() error = %v", err)
	}
	done := startRun(p)
	awaitBatch(t, p)

	frames, err := p.Frames(mainThread)
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	scopes, err := p.FrameScopes(frames[0])
	if err != nil {
		t.Fatalf("FrameScopes() error = %v", err)
	}
	p.Resume()
	awaitBatch(t, p)

	if _, err := p.OwnProperties(scopes[0].Object, true, false); !errors.Is(err, target.ErrStaleFrame) {
		t.Errorf("OwnProperties(stale scope) error = %v, want ErrStaleFrame", err)
	}

	p.ClearTrigger(id)
	p.Resume()
	if err := awaitDeath(t, p, done); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestMirror_PinUnpin(t *testing.T) {
	p := New()
	defer p.Close()

	tbl := p.vm.NewTable()
	ref := p.mirror(tbl).(target.ObjectRef)
	if err := p.PinObject(ref); err != nil {
		t.Fatalf("PinObject() error = %v", err)
	}
	if err := p.UnpinObject(ref); err != nil {
		t.Fatalf("UnpinObject() error = %v", err)
	}
	if err := p.UnpinObject(ref); err != nil {
		t.Errorf("UnpinObject() past zero error = %v, want nil", err)
	}
	if err := p.UnpinObject(target.ObjectRef{ID: 404}); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("UnpinObject(unknown) error = %v, want ErrUnknownObject", err)
	}
}
