package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func decodeValue(t *testing.T, doc string) (Value, error) {
	t.Helper()
	var v Value
	err := yaml.Unmarshal([]byte(doc), &v)
	return v, err
}

func TestValueDecoding(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want Value
	}{
		{
			name: "integer constant",
			doc:  "42",
			want: Value{Kind: ValueConstant, Const: 42},
		},
		{
			name: "string constant",
			doc:  "/edev",
			want: Value{Kind: ValueConstant, Const: "/edev"},
		},
		{
			name: "list constant",
			doc:  "[a, b]",
			want: Value{Kind: ValueConstant, Const: []any{"a", "b"}},
		},
		{
			name: "named variable",
			doc:  "{variable: now}",
			want: Value{Kind: ValueVariable, Variable: VariableNow},
		},
		{
			name: "operation",
			doc:  "{operation: add, lhs: {variable: now}, rhs: 300}",
			want: Value{
				Kind: ValueOperation,
				Op:   OpAdd,
				LHS:  &Value{Kind: ValueVariable, Variable: VariableNow},
				RHS:  &Value{Kind: ValueConstant, Const: 300},
			},
		},
		{
			name: "nested operation",
			doc:  "{operation: multiply, lhs: {operation: subtract, lhs: 10, rhs: 4}, rhs: 2}",
			want: Value{
				Kind: ValueOperation,
				Op:   OpMultiply,
				LHS: &Value{
					Kind: ValueOperation,
					Op:   OpSubtract,
					LHS:  &Value{Kind: ValueConstant, Const: 10},
					RHS:  &Value{Kind: ValueConstant, Const: 4},
				},
				RHS: &Value{Kind: ValueConstant, Const: 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeValue(t, tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueDecodingRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown variable", "{variable: tomorrow}"},
		{"unknown operation", "{operation: modulo, lhs: 1, rhs: 2}"},
		{"operation missing operand", "{operation: add, lhs: 1}"},
		{"variable with extra keys", "{variable: now, extra: 1}"},
		{"bare mapping", "{foo: bar}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeValue(t, tt.doc)
			require.Error(t, err)
		})
	}
}

func TestValueMarshalRoundTrip(t *testing.T) {
	v := Value{
		Kind: ValueOperation,
		Op:   OpAdd,
		LHS:  &Value{Kind: ValueVariable, Variable: VariableNow},
		RHS:  &Value{Kind: ValueConstant, Const: 300},
	}
	out, err := yaml.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, v, back)
}
