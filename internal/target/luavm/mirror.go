package luavm

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/modern-go/reflect2"
	lua "github.com/yuin/gopher-lua"

	"github.com/nitish854/ncdbg/internal/target"
)

// objEntry is one registered object. value is nil for synthetic scope
// objects, which carry their frame binding instead.
type objEntry struct {
	value lua.LValue
	scope *luaScope
	pins  int
}

// luaScope binds a synthetic scope object to the frame it enumerates.
type luaScope struct {
	kind  target.ScopeKind
	frame *luaFrame
}

// identity returns the stable id for a VM reference value, minting one
// on first sight. Mirrored objects stay registered for the life of the
// target so handed-out references never dangle.
func (p *Process) identity(v lua.LValue) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[v]; ok {
		return id
	}
	id := p.nextID
	p.nextID++
	p.ids[v] = id
	p.objects[id] = &objEntry{value: v}
	return id
}

// scopeObject mints a fresh synthetic object enumerating one scope of
// a paused frame.
func (p *Process) scopeObject(kind target.ScopeKind, h *luaFrame) target.ObjectRef {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.objects[id] = &objEntry{scope: &luaScope{kind: kind, frame: h}}
	p.mu.Unlock()
	return target.ObjectRef{
		ID:        id,
		Class:     target.ClassScope,
		ScopeKind: kind,
	}
}

// mirror converts a VM value to its target representation.
func (p *Process) mirror(v lua.LValue) target.Value {
	switch lv := v.(type) {
	case nil, *lua.LNilType:
		return target.Null{}
	case lua.LBool:
		return target.Prim{Val: bool(lv)}
	case lua.LNumber:
		f := float64(lv)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return target.Prim{Val: int64(f)}
		}
		return target.Prim{Val: f}
	case lua.LString:
		return target.Prim{Val: string(lv)}
	case *lua.LTable:
		return p.mirrorTable(lv)
	case *lua.LFunction:
		return p.mirrorFunction(lv)
	case *lua.LUserData:
		return p.mirrorUserData(lv)
	default:
		return target.ObjectRef{
			ID:     p.identity(v),
			Class:  target.ClassHost,
			Name:   v.Type().String(),
			Handle: v,
		}
	}
}

func (p *Process) mirrorTable(tbl *lua.LTable) target.Value {
	n := tbl.Len()
	total := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { total++ })
	ref := target.ObjectRef{
		ID:     p.identity(tbl),
		Class:  target.ClassObject,
		Handle: tbl,
	}
	if n > 0 && total == n {
		ref.Class = target.ClassArray
		ref.Length = n
	}
	return ref
}

func (p *Process) mirrorFunction(fn *lua.LFunction) target.Value {
	ref := target.ObjectRef{
		ID:     p.identity(fn),
		Class:  target.ClassFunction,
		Handle: fn,
	}
	if fn.IsG {
		ref.Name = "builtin"
		return ref
	}
	p.mu.Lock()
	unitRef, known := p.byProto[fn.Proto]
	var unit *codeUnit
	if known {
		unit = p.units[unitRef]
	}
	p.mu.Unlock()
	if known {
		ref.Name = nameOnLine(unit.info.Source, fn.Proto.LineDefined)
		ref.Source = protoSource(unit.info.Source, fn.Proto)
	}
	return ref
}

// protoSource slices the lines a function definition spans in its
// script.
func protoSource(source string, proto *lua.FunctionProto) string {
	lines := strings.Split(source, "\n")
	from, to := proto.LineDefined, proto.LastLineDefined
	if from <= 0 || to < from || to > len(lines) {
		return ""
	}
	return strings.Join(lines[from-1:to], "\n")
}

// mirrorUserData wraps host-owned userdata. Named scalar types unwrap
// into the boxed primitive so the front end renders the value rather
// than an opaque handle.
func (p *Process) mirrorUserData(ud *lua.LUserData) target.Value {
	ref := target.ObjectRef{
		ID:     p.identity(ud),
		Class:  target.ClassHost,
		Handle: ud,
	}
	if ud.Value == nil {
		ref.Name = "userdata"
		return ref
	}
	typ := reflect2.TypeOf(ud.Value)
	ref.Name = typ.String()
	rv := reflect.ValueOf(ud.Value)
	switch typ.Kind() {
	case reflect.Bool:
		ref.Boxed = target.Prim{Val: rv.Bool()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		ref.Boxed = target.Prim{Val: rv.Int()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		ref.Boxed = target.Prim{Val: int64(rv.Uint())}
	case reflect.Float32, reflect.Float64:
		ref.Boxed = target.Prim{Val: rv.Float()}
	case reflect.String:
		ref.Boxed = target.Prim{Val: rv.String()}
	}
	return ref
}

// unmirror converts a target value back to a VM value.
func (p *Process) unmirror(v target.Value) (lua.LValue, error) {
	switch tv := v.(type) {
	case nil:
		return lua.LNil, nil
	case target.Undefined:
		return lua.LNil, nil
	case target.Null:
		return lua.LNil, nil
	case target.Prim:
		switch pv := tv.Val.(type) {
		case bool:
			return lua.LBool(pv), nil
		case int64:
			return lua.LNumber(pv), nil
		case float64:
			return lua.LNumber(pv), nil
		case string:
			return lua.LString(pv), nil
		default:
			return nil, fmt.Errorf("unsupported primitive %T", pv)
		}
	case target.ObjectRef:
		p.mu.Lock()
		entry, ok := p.objects[tv.ID]
		p.mu.Unlock()
		if !ok || entry.value == nil {
			return nil, ErrUnknownObject
		}
		return entry.value, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

// OwnProperties implements target.Interaction.
func (p *Process) OwnProperties(ref target.ObjectRef, ownOnly, accessorsOnly bool) ([]target.PropertyDescriptor, error) {
	if accessorsOnly {
		// no accessor properties in Lua
		return nil, nil
	}
	var props []target.PropertyDescriptor
	var inner error
	err := p.onDriver(func() {
		props, inner = p.properties(ref, ownOnly)
	})
	if err != nil {
		return nil, err
	}
	return props, inner
}

func (p *Process) properties(ref target.ObjectRef, ownOnly bool) ([]target.PropertyDescriptor, error) {
	p.mu.Lock()
	entry, ok := p.objects[ref.ID]
	p.mu.Unlock()
	if !ok {
		return nil, ErrUnknownObject
	}
	if entry.scope != nil {
		return p.scopeProperties(entry.scope)
	}
	if tbl, ok := entry.value.(*lua.LTable); ok {
		return p.tableProperties(tbl, ownOnly, ref.Class == target.ClassArray), nil
	}
	return nil, nil
}

func (p *Process) scopeProperties(sc *luaScope) ([]target.PropertyDescriptor, error) {
	p.mu.Lock()
	live := sc.frame.epoch == p.epoch
	p.mu.Unlock()
	if !live {
		return nil, target.ErrStaleFrame
	}

	var props []target.PropertyDescriptor
	switch sc.kind {
	case target.ScopeLocal:
		for i := 1; ; i++ {
			n, v := p.vm.GetLocal(sc.frame.dbg, i)
			if n == "" {
				break
			}
			if strings.HasPrefix(n, "(") {
				continue
			}
			// shadowed names keep the innermost value
			props = upsertProp(props, n, p.mirror(v))
		}
	case target.ScopeClosure:
		fn := sc.frame.fn
		for i, uv := range fn.Upvalues {
			if i >= len(fn.Proto.DbgUpvalues) {
				break
			}
			props = upsertProp(props, fn.Proto.DbgUpvalues[i], p.mirror(uv.Value()))
		}
	case target.ScopeGlobal:
		env := sc.frame.fn.Env
		if env == nil {
			env = p.vm.Get(lua.GlobalsIndex).(*lua.LTable)
		}
		return p.tableProperties(env, true, false), nil
	}
	return props, nil
}

func upsertProp(props []target.PropertyDescriptor, name string, v target.Value) []target.PropertyDescriptor {
	for i := range props {
		if props[i].Name == name {
			props[i].Value = v
			return props
		}
	}
	return append(props, target.PropertyDescriptor{
		Name:       name,
		Kind:       target.DataProperty,
		Value:      v,
		Writable:   true,
		Enumerable: true,
		IsOwn:      true,
	})
}

func (p *Process) tableProperties(tbl *lua.LTable, ownOnly, array bool) []target.PropertyDescriptor {
	var props []target.PropertyDescriptor
	seen := make(map[string]bool)

	appendFrom := func(t *lua.LTable, own bool) {
		key := lua.LValue(lua.LNil)
		for {
			k, v := t.Next(key)
			if k == lua.LNil {
				break
			}
			key = k
			name := propName(k)
			if seen[name] {
				continue
			}
			seen[name] = true
			props = append(props, target.PropertyDescriptor{
				Name:       name,
				Kind:       target.DataProperty,
				Value:      p.mirror(v),
				Writable:   true,
				Enumerable: true,
				IsOwn:      own,
			})
		}
	}

	if array {
		// Sequences surface zero-based: element i is property i-1.
		n := tbl.Len()
		for i := 1; i <= n; i++ {
			name := strconv.Itoa(i - 1)
			seen[name] = true
			props = append(props, target.PropertyDescriptor{
				Name:       name,
				Kind:       target.DataProperty,
				Value:      p.mirror(tbl.RawGetInt(i)),
				Writable:   true,
				Enumerable: true,
				IsOwn:      true,
			})
		}
	} else {
		appendFrom(tbl, true)
	}
	if !ownOnly {
		visited := map[*lua.LTable]bool{tbl: true}
		cur := tbl
		for {
			mt, ok := p.vm.GetMetatable(cur).(*lua.LTable)
			if !ok {
				break
			}
			idx, ok := mt.RawGetString("__index").(*lua.LTable)
			if !ok || visited[idx] {
				break
			}
			visited[idx] = true
			appendFrom(idx, false)
			cur = idx
		}
	}

	sort.Slice(props, func(i, j int) bool {
		return propNameLess(props[i].Name, props[j].Name)
	})
	return props
}

func propName(k lua.LValue) string {
	switch kv := k.(type) {
	case lua.LString:
		return string(kv)
	case lua.LNumber:
		f := float64(kv)
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return k.String()
	}
}

// propNameLess orders numeric names numerically ahead of the rest.
func propNameLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// InvokeGetter implements target.Interaction. Lua exposes no accessor
// properties, so there is never a getter to run.
func (p *Process) InvokeGetter(thread target.ThreadRef, getter, owner target.ObjectRef) (target.Value, error) {
	return nil, fmt.Errorf("lua objects expose no accessor properties")
}
