package value

import (
	"fmt"
	"strconv"

	"github.com/nitish854/ncdbg/internal/target"
)

// CycleMarker is the sentinel placed where extraction meets a node
// already on the current traversal path.
const CycleMarker = "<cycle>"

// Extractor realizes node graphs into plain Go data: nil, bool, int64,
// float64, string, []any, and map[string]any. Traversal is depth-first
// with a path-local visited set, so cyclic graphs terminate with
// CycleMarker at the cycle-closing node.
//
// Extraction never fails as a whole: unreadable objects extract to
// empty containers and failing getters to inline diagnostic strings.
type Extractor struct {
	inter  target.Interaction
	marsh  *Marshaller
	thread target.ThreadRef
}

// NewExtractor returns an extractor reading object graphs through
// inter, resolving ids through marsh, and running getters on thread.
func NewExtractor(inter target.Interaction, marsh *Marshaller, thread target.ThreadRef) *Extractor {
	return &Extractor{inter: inter, marsh: marsh, thread: thread}
}

// Extract realizes one node.
func (e *Extractor) Extract(n Node) any {
	return e.extract(n, make(map[ObjectID]bool))
}

func (e *Extractor) extract(n Node, visited map[ObjectID]bool) any {
	switch node := n.(type) {
	case nil:
		return nil
	case SimpleValue:
		return node.Value
	case EmptyNode:
		return nil
	case *LazyNode:
		return e.extract(node.Resolve(), visited)
	case FunctionNode:
		if visited[node.ID] {
			return CycleMarker
		}
		visited[node.ID] = true
		defer delete(visited, node.ID)
		return e.extractFunction(node, visited)
	case DateNode:
		return node.Display
	case RegExpNode:
		return node.Pattern
	case ErrorValue:
		if node.Data.TypeName != "" {
			return node.Data.TypeName + ": " + node.Data.Message
		}
		return node.Data.Message
	case ArrayNode:
		if visited[node.ID] {
			return CycleMarker
		}
		visited[node.ID] = true
		defer delete(visited, node.ID)
		return e.extractArray(node, visited)
	case ObjectNode:
		if visited[node.ID] {
			return CycleMarker
		}
		visited[node.ID] = true
		defer delete(visited, node.ID)
		return e.extractObject(node.ID, visited)
	case ScopeObject:
		if visited[node.ID] {
			return CycleMarker
		}
		visited[node.ID] = true
		defer delete(visited, node.ID)
		return e.extractObject(node.ID, visited)
	default:
		log.Warnf("extract: unhandled node type %T", n)
		return nil
	}
}

// extractFunction yields the function's display summary. A function
// carrying own properties is walked like an object instead, so
// prototype-style back-references through functions stay cycle-safe.
func (e *Extractor) extractFunction(node FunctionNode, visited map[ObjectID]bool) any {
	summary := "function"
	if node.Name != "" {
		summary = fmt.Sprintf("function %s", node.Name)
	}
	ref, ok := e.marsh.Ref(node.ID)
	if !ok {
		return summary
	}
	props, err := e.inter.OwnProperties(ref, true, false)
	if err != nil || len(props) == 0 {
		return summary
	}
	out := make(map[string]any, len(props))
	for _, prop := range props {
		out[prop.Name] = e.materialize(prop, ref, visited)
	}
	return out
}

func (e *Extractor) extractArray(node ArrayNode, visited map[ObjectID]bool) any {
	out := make([]any, node.Size)
	ref, ok := e.marsh.Ref(node.ID)
	if !ok {
		return out
	}
	props, err := e.inter.OwnProperties(ref, true, false)
	if err != nil {
		log.WithError(err).Warn("array property enumeration failed")
		return out
	}
	for _, prop := range props {
		idx, err := strconv.Atoi(prop.Name)
		if err != nil || idx < 0 || idx >= node.Size {
			continue
		}
		out[idx] = e.materialize(prop, ref, visited)
	}
	return out
}

func (e *Extractor) extractObject(id ObjectID, visited map[ObjectID]bool) any {
	out := make(map[string]any)
	ref, ok := e.marsh.Ref(id)
	if !ok {
		return out
	}
	props, err := e.inter.OwnProperties(ref, true, false)
	if err != nil {
		log.WithError(err).Warn("property enumeration failed")
		return out
	}
	for _, prop := range props {
		out[prop.Name] = e.materialize(prop, ref, visited)
	}
	return out
}

// materialize turns one property into plain data, invoking the getter
// for accessor properties. A getter failure degrades to a diagnostic
// string instead of aborting the traversal.
func (e *Extractor) materialize(prop target.PropertyDescriptor, owner target.ObjectRef, visited map[ObjectID]bool) any {
	if prop.Kind == target.DataProperty {
		return e.extract(e.marsh.Marshal(prop.Value), visited)
	}
	if prop.Getter == nil {
		return nil
	}
	v, err := e.inter.InvokeGetter(e.thread, *prop.Getter, owner)
	if err != nil {
		return fmt.Sprintf("<getter error: %s>", err)
	}
	return e.extract(e.marsh.Marshal(v), visited)
}
