package target

import "fmt"

// Value is a script value as the target reports it. It is one of
// Undefined, Null, Prim, or ObjectRef; the ValueNode representation the
// front-end sees is built on top of these by the marshalling layer.
type Value interface {
	isValue()
}

// Undefined is the engine's "no value" value.
type Undefined struct{}

func (Undefined) isValue() {}

// Null is the engine's null value.
type Null struct{}

func (Null) isValue() {}

// Prim is a primitive scalar: bool, int64, float64, or string.
type Prim struct {
	Val any
}

func (Prim) isValue() {}

// ObjectClass tells the marshalling layer how to present an object.
type ObjectClass int

const (
	// ClassObject is a plain object.
	ClassObject ObjectClass = iota
	// ClassArray is an indexed collection.
	ClassArray
	// ClassFunction is a callable.
	ClassFunction
	// ClassDate is a date/time object with a display string.
	ClassDate
	// ClassRegExp is a compiled pattern object.
	ClassRegExp
	// ClassError is a thrown or constructed error object.
	ClassError
	// ClassScope is a scope pseudo-object exposing frame bindings.
	ClassScope
	// ClassHost is an object owned by the host runtime rather than the
	// script, e.g. a wrapped native handle.
	ClassHost
)

// String returns the conventional name of the class.
func (c ObjectClass) String() string {
	switch c {
	case ClassObject:
		return "object"
	case ClassArray:
		return "array"
	case ClassFunction:
		return "function"
	case ClassDate:
		return "date"
	case ClassRegExp:
		return "regexp"
	case ClassError:
		return "error"
	case ClassScope:
		return "scope"
	case ClassHost:
		return "host"
	default:
		return "unknown"
	}
}

// ObjectRef is an opaque reference to a live object in the target. The
// identity is stable while the object is alive; two refs with the same
// ID denote the same native object.
type ObjectRef struct {
	// ID is the target-assigned native identity.
	ID uint64

	// Class drives the marshalled representation.
	Class ObjectClass

	// Name carries the function name for ClassFunction and the scope
	// name for ClassScope; empty otherwise.
	Name string

	// Source carries the function source text for ClassFunction, the
	// pattern for ClassRegExp, and the display string for ClassDate.
	Source string

	// Length is the element count for ClassArray.
	Length int

	// ScopeKind is meaningful for ClassScope only.
	ScopeKind ScopeKind

	// Boxed is non-nil when the object wraps a primitive (a boxed
	// scalar the engine presents as an object).
	Boxed Value

	// Exception describes the error for ClassError.
	Exception *ExceptionInfo

	// Handle is target-private state for dereferencing the object; the
	// core never inspects it.
	Handle any
}

func (ObjectRef) isValue() {}

// ExceptionInfo is the descriptive payload of an error object or a
// thrown exception.
type ExceptionInfo struct {
	// Message is the error message, without any type prefix.
	Message string

	// TypeName is the engine's name for the error's type.
	TypeName string

	// StackTrace is the rendered script stack at the throw point, or
	// empty when unavailable.
	StackTrace string

	// SourceName and Line identify the throw site, when known. Line is
	// 1-based; 0 means unknown.
	SourceName string
	Line       int

	// Native is true when the error originates in the host runtime
	// rather than in script code.
	Native bool
}

// PropKind distinguishes data properties from accessor properties.
type PropKind int

const (
	// DataProperty holds a plain value.
	DataProperty PropKind = iota
	// AccessorProperty is read through a getter and written through a
	// setter.
	AccessorProperty
)

// PropertyDescriptor describes one property of an object, in either
// data or accessor form.
type PropertyDescriptor struct {
	Name string
	Kind PropKind

	// Value is the data value; nil for accessor properties.
	Value Value

	// Getter and Setter are set for accessor properties; either may be
	// nil when the property is read- or write-only.
	Getter *ObjectRef
	Setter *ObjectRef

	Writable     bool
	Enumerable   bool
	Configurable bool

	// IsOwn is false when the property was found on the prototype
	// chain rather than on the object itself.
	IsOwn bool
}

// Interaction is the object-graph access surface of a suspended target.
// All calls are only valid while the target is suspended.
type Interaction interface {
	// OwnProperties enumerates properties of ref. With ownOnly false
	// the prototype chain is included; with accessorsOnly true only
	// accessor properties are returned.
	OwnProperties(ref ObjectRef, ownOnly, accessorsOnly bool) ([]PropertyDescriptor, error)

	// InvokeGetter runs an accessor's getter with owner as receiver on
	// the given suspended thread.
	InvokeGetter(thread ThreadRef, getter ObjectRef, owner ObjectRef) (Value, error)
}

// ScriptError reports that an evaluation failed because the script
// itself raised an error. Thrown carries the raised value (which need
// not be an object).
type ScriptError struct {
	Thrown Value
	Info   ExceptionInfo
}

// Error implements error.
func (e *ScriptError) Error() string {
	if e.Info.TypeName != "" {
		return fmt.Sprintf("script error: %s: %s", e.Info.TypeName, e.Info.Message)
	}
	return fmt.Sprintf("script error: %s", e.Info.Message)
}
