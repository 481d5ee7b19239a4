package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Value kinds.
const (
	ValueConstant  = "constant"
	ValueVariable  = "variable"
	ValueOperation = "operation"
)

// Named variables resolvable at runtime.
const (
	VariableNow     = "now"
	VariableSetMaxW = "setMaxW"
)

// Operation names.
const (
	OpAdd      = "add"
	OpSubtract = "subtract"
	OpMultiply = "multiply"
	OpDivide   = "divide"
)

// Value is a parameter value: a plain constant, a reference to a named
// runtime variable, or a binary operation over two Values. Constants are
// kept as decoded (string, int, float64, bool, []any) and interpreted by
// the resolver at use time.
type Value struct {
	Kind     string
	Const    any
	Variable string
	Op       string
	LHS      *Value
	RHS      *Value
}

// Constant returns a constant Value. Convenience for tests and actions
// that synthesize parameters.
func Constant(v any) Value {
	return Value{Kind: ValueConstant, Const: v}
}

// UnmarshalYAML decodes the three accepted shapes:
//
//	42                                  → constant
//	{variable: now}                     → named variable
//	{operation: add, lhs: ..., rhs: ...} → operation (operands recurse)
//
// Any other mapping is rejected so typos fail at load time.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		var c any
		if err := node.Decode(&c); err != nil {
			return err
		}
		v.Kind = ValueConstant
		v.Const = c
		return nil
	case yaml.MappingNode:
		return v.unmarshalMapping(node)
	default:
		return fmt.Errorf("line %d: unsupported parameter value", node.Line)
	}
}

func (v *Value) unmarshalMapping(node *yaml.Node) error {
	fields := map[string]*yaml.Node{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		fields[node.Content[i].Value] = node.Content[i+1]
	}

	if varNode, ok := fields["variable"]; ok {
		if len(fields) != 1 {
			return fmt.Errorf("line %d: variable reference takes no other keys", node.Line)
		}
		name := varNode.Value
		if name != VariableNow && name != VariableSetMaxW {
			return fmt.Errorf("line %d: unknown variable %q", varNode.Line, name)
		}
		v.Kind = ValueVariable
		v.Variable = name
		return nil
	}

	if opNode, ok := fields["operation"]; ok {
		switch opNode.Value {
		case OpAdd, OpSubtract, OpMultiply, OpDivide:
		default:
			return fmt.Errorf("line %d: unknown operation %q", opNode.Line, opNode.Value)
		}
		lhsNode, rhsNode := fields["lhs"], fields["rhs"]
		if lhsNode == nil || rhsNode == nil {
			return fmt.Errorf("line %d: operation %q needs lhs and rhs", node.Line, opNode.Value)
		}
		if len(fields) != 3 {
			return fmt.Errorf("line %d: operation takes only operation/lhs/rhs keys", node.Line)
		}
		lhs, rhs := &Value{}, &Value{}
		if err := lhsNode.Decode(lhs); err != nil {
			return fmt.Errorf("lhs: %w", err)
		}
		if err := rhsNode.Decode(rhs); err != nil {
			return fmt.Errorf("rhs: %w", err)
		}
		v.Kind = ValueOperation
		v.Op = opNode.Value
		v.LHS = lhs
		v.RHS = rhs
		return nil
	}

	return fmt.Errorf("line %d: mapping value must carry 'variable' or 'operation'", node.Line)
}

// MarshalYAML renders the same shapes UnmarshalYAML accepts.
func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case ValueConstant:
		return v.Const, nil
	case ValueVariable:
		return map[string]string{"variable": v.Variable}, nil
	case ValueOperation:
		return map[string]any{"operation": v.Op, "lhs": v.LHS, "rhs": v.RHS}, nil
	default:
		return nil, fmt.Errorf("value has no kind")
	}
}
