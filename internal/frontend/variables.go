package frontend

import (
	"path/filepath"

	"github.com/google/go-dap"

	"github.com/nitish854/ncdbg/internal/debug"
	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

// variableFor renders one named node as a DAP variable, registering a
// reference when the node has structure to expand.
func (sess *session) variableFor(name string, n value.Node) dap.Variable {
	n = resolved(n)
	v := dap.Variable{Name: name, Value: value.Describe(n), Type: value.TypeName(n)}
	if c, ok := n.(value.Complex); ok {
		v.VariablesReference = sess.refs.varRef(c.NodeID())
	}
	if arr, ok := n.(value.ArrayNode); ok {
		v.IndexedVariables = arr.Size
	}
	return v
}

// resolved forces lazy nodes so display and reference decisions see the
// real node.
func resolved(n value.Node) value.Node {
	if lazy, ok := n.(*value.LazyNode); ok {
		return lazy.Resolve()
	}
	return n
}

// sourceFor describes a registered script to the client. The content
// always travels by source reference: the authoritative text is what
// the target loaded, not whatever file the path resolves to on the
// client side.
func sourceFor(sc script.Script) dap.Source {
	return dap.Source{
		Name:            filepath.Base(sc.Name),
		Path:            sc.Name,
		SourceReference: sourceRef(sc.ID),
	}
}

// Source references are script IDs shifted by one; reference zero is
// reserved by the protocol.
func sourceRef(id script.ID) int { return int(id) + 1 }

func scriptForSourceRef(host *debug.Host, ref int) (script.Script, bool) {
	if ref <= 0 {
		return script.Script{}, false
	}
	return host.Script(script.ID(ref - 1))
}

// scopeTitle names a scope for display, preferring the target-provided
// name.
func scopeTitle(sc value.ScopeObject) string {
	if sc.Name != "" {
		return sc.Name
	}
	switch sc.Kind {
	case target.ScopeLocal:
		return "Locals"
	case target.ScopeClosure:
		return "Closure"
	case target.ScopeGlobal:
		return "Globals"
	default:
		return sc.Kind.String()
	}
}

// stopReason maps a pause reason onto the protocol's stop-reason
// vocabulary. Pause statements surface as breakpoints; the event
// description carries the precise reason.
func stopReason(r notify.PauseReason) string {
	switch r {
	case notify.ReasonStep:
		return "step"
	case notify.ReasonException:
		return "exception"
	default:
		return "breakpoint"
	}
}

// matchVariableFilter applies the protocol's indexed/named filter to a
// property name.
func matchVariableFilter(filter, name string) bool {
	switch filter {
	case "indexed":
		return isIndexName(name)
	case "named":
		return !isIndexName(name)
	default:
		return true
	}
}

func isIndexName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// pageVariables slices the variable list per the request's paging
// window. Count zero means the remainder.
func pageVariables(vars []dap.Variable, start, count int) []dap.Variable {
	if start < 0 || start > len(vars) {
		start = len(vars)
	}
	end := len(vars)
	if count > 0 && start+count < end {
		end = start + count
	}
	return vars[start:end]
}
