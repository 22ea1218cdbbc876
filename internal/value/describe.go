package value

import (
	"fmt"
	"strconv"
)

// Describe renders a node as a short display string for the front end.
func Describe(n Node) string {
	switch node := n.(type) {
	case nil, EmptyNode:
		return "nil"
	case SimpleValue:
		switch v := node.Value.(type) {
		case string:
			return strconv.Quote(v)
		case bool:
			return strconv.FormatBool(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64)
		default:
			return fmt.Sprintf("%v", v)
		}
	case *LazyNode:
		return Describe(node.Resolve())
	case ObjectNode:
		return "object"
	case ArrayNode:
		return fmt.Sprintf("array[%d]", node.Size)
	case FunctionNode:
		if node.Name != "" {
			return "function " + node.Name
		}
		return "function"
	case DateNode:
		return node.Display
	case RegExpNode:
		return node.Pattern
	case ErrorValue:
		if node.Data.TypeName != "" {
			return node.Data.TypeName + ": " + node.Data.Message
		}
		return node.Data.Message
	case ScopeObject:
		if node.Name != "" {
			return node.Name
		}
		return node.Kind.String() + " scope"
	default:
		return fmt.Sprintf("%v", n)
	}
}

// TypeName reports the display type of a node.
func TypeName(n Node) string {
	switch node := n.(type) {
	case nil, EmptyNode:
		return "nil"
	case SimpleValue:
		switch node.Value.(type) {
		case string:
			return "string"
		case bool:
			return "boolean"
		case int64, float64:
			return "number"
		default:
			return "value"
		}
	case *LazyNode:
		return TypeName(node.Resolve())
	case ObjectNode:
		return "object"
	case ArrayNode:
		return "array"
	case FunctionNode:
		return "function"
	case DateNode:
		return "date"
	case RegExpNode:
		return "regexp"
	case ErrorValue:
		return "error"
	case ScopeObject:
		return "scope"
	default:
		return "value"
	}
}
