// Package value implements the portable value model the front end
// sees: the node variants complex values marshal into, the marshaller
// that mints stable object ids and keeps references alive, and the
// cycle-safe extractor that turns a node graph into plain Go data.
//
// Nodes and object ids are scoped to the pause whose marshaller minted
// them, except ids explicitly promoted to session lifetime through
// Retain.
package value

import (
	"sync"

	"github.com/nitish854/ncdbg/internal/target"
)

// ObjectID is the stable handle external callers hold for a complex
// marshalled value. Two marshals of the same native reference within
// one pause yield the same ObjectID.
type ObjectID string

// Node is one value in the portable representation. Concrete types:
// SimpleValue, EmptyNode, ObjectNode, ArrayNode, FunctionNode,
// DateNode, RegExpNode, ErrorValue, ScopeObject, and *LazyNode.
type Node interface {
	isNode()
}

// Complex is implemented by every node that carries an ObjectID.
type Complex interface {
	Node
	NodeID() ObjectID
}

// SimpleValue is a primitive: bool, int64, float64, or string.
type SimpleValue struct {
	Value any
}

func (SimpleValue) isNode() {}

// EmptyNode is the absence of a value (null or undefined in the
// target's terms).
type EmptyNode struct{}

func (EmptyNode) isNode() {}

// ObjectNode is a plain object.
type ObjectNode struct {
	ID ObjectID
}

func (ObjectNode) isNode()            {}
func (n ObjectNode) NodeID() ObjectID { return n.ID }

// ArrayNode is an indexed collection of known size.
type ArrayNode struct {
	ID   ObjectID
	Size int
}

func (ArrayNode) isNode()            {}
func (n ArrayNode) NodeID() ObjectID { return n.ID }

// FunctionNode is a callable with a name and source text.
type FunctionNode struct {
	ID     ObjectID
	Name   string
	Source string
}

func (FunctionNode) isNode()            {}
func (n FunctionNode) NodeID() ObjectID { return n.ID }

// DateNode is a date/time value reduced to its display string.
type DateNode struct {
	ID      ObjectID
	Display string
}

func (DateNode) isNode()            {}
func (n DateNode) NodeID() ObjectID { return n.ID }

// RegExpNode is a compiled pattern.
type RegExpNode struct {
	ID      ObjectID
	Pattern string
}

func (RegExpNode) isNode()            {}
func (n RegExpNode) NodeID() ObjectID { return n.ID }

// ExceptionData is the descriptive payload of an ErrorValue.
type ExceptionData struct {
	Message    string
	TypeName   string
	StackTrace string
	SourceName string
	Line       int
}

// ErrorValue is an error object. Native is true when the error
// originates in the host runtime rather than in script code.
type ErrorValue struct {
	ID     ObjectID
	Data   ExceptionData
	Native bool
}

func (ErrorValue) isNode()            {}
func (n ErrorValue) NodeID() ObjectID { return n.ID }

// ScopeObject exposes the bindings of one scope-chain entry as an
// object.
type ScopeObject struct {
	ID   ObjectID
	Name string
	Kind target.ScopeKind
}

func (ScopeObject) isNode()            {}
func (n ScopeObject) NodeID() ObjectID { return n.ID }

// LazyNode defers a marshalling computation until first access. The
// computation runs at most once; all callers see the same result.
type LazyNode struct {
	once    sync.Once
	compute func() Node
	node    Node
}

// NewLazy wraps a deferred computation. A computation returning nil
// resolves to EmptyNode.
func NewLazy(compute func() Node) *LazyNode {
	return &LazyNode{compute: compute}
}

func (*LazyNode) isNode() {}

// Resolve runs the deferred computation on first call and returns its
// result thereafter.
func (l *LazyNode) Resolve() Node {
	l.once.Do(func() {
		l.node = l.compute()
		if l.node == nil {
			l.node = EmptyNode{}
		}
	})
	return l.node
}
