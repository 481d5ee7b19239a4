package variables

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/store"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewResolver(st, func() time.Time { return fixedNow }), st
}

func opValue(op string, lhs, rhs definition.Value) definition.Value {
	return definition.Value{Kind: definition.ValueOperation, Op: op, LHS: &lhs, RHS: &rhs}
}

func varValue(name string) definition.Value {
	return definition.Value{Kind: definition.ValueVariable, Variable: name}
}

func TestResolveConstantsWidenToFloat(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	got, err := r.Resolve(ctx, definition.Constant(42))
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)

	got, err = r.Resolve(ctx, definition.Constant("/dcap"))
	require.NoError(t, err)
	assert.Equal(t, "/dcap", got)

	got, err = r.Resolve(ctx, definition.Constant(true))
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestResolveNow(t *testing.T) {
	r, _ := newTestResolver(t)

	got, err := r.Resolve(context.Background(), varValue(definition.VariableNow))
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got)
}

func TestResolveSetMaxW(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	// Without a site the variable is unresolvable.
	_, err := r.Resolve(ctx, varValue(definition.VariableSetMaxW))
	require.Error(t, err)
	assert.ErrorContains(t, err, "no site registered")

	siteID, err := st.RegisterSite(ctx, store.Site{LFDI: "AA", ChangedTime: fixedNow, CreatedTime: fixedNow})
	require.NoError(t, err)

	_, err = r.Resolve(ctx, varValue(definition.VariableSetMaxW))
	require.Error(t, err)
	assert.ErrorContains(t, err, "no DER settings")

	require.NoError(t, st.InsertDERSetting(ctx, store.DERSetting{
		SiteID: siteID, SetMaxWValue: 5000, SetMaxWMultiplier: 0, ChangedTime: fixedNow,
	}))
	require.NoError(t, st.InsertDERSetting(ctx, store.DERSetting{
		SiteID: siteID, SetMaxWValue: 45, SetMaxWMultiplier: 2, ChangedTime: fixedNow.Add(time.Minute),
	}))

	// The newest record wins and the multiplier scales the raw value.
	got, err := r.Resolve(ctx, varValue(definition.VariableSetMaxW))
	require.NoError(t, err)
	assert.Equal(t, 4500.0, got)
}

func TestResolveArithmetic(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name string
		v    definition.Value
		want any
	}{
		{
			name: "add numbers",
			v:    opValue(definition.OpAdd, definition.Constant(10), definition.Constant(4)),
			want: 14.0,
		},
		{
			name: "nested multiply",
			v: opValue(definition.OpMultiply,
				opValue(definition.OpSubtract, definition.Constant(10), definition.Constant(4)),
				definition.Constant(2)),
			want: 12.0,
		},
		{
			name: "divide",
			v:    opValue(definition.OpDivide, definition.Constant(9), definition.Constant(2)),
			want: 4.5,
		},
		{
			name: "now plus seconds",
			v:    opValue(definition.OpAdd, varValue(definition.VariableNow), definition.Constant(300)),
			want: fixedNow.Add(5 * time.Minute),
		},
		{
			name: "now minus seconds",
			v:    opValue(definition.OpSubtract, varValue(definition.VariableNow), definition.Constant(60)),
			want: fixedNow.Add(-time.Minute),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveArithmeticErrors(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name string
		v    definition.Value
	}{
		{
			name: "division by zero",
			v:    opValue(definition.OpDivide, definition.Constant(1), definition.Constant(0)),
		},
		{
			name: "multiply time",
			v:    opValue(definition.OpMultiply, varValue(definition.VariableNow), definition.Constant(2)),
		},
		{
			name: "string operand",
			v:    opValue(definition.OpAdd, definition.Constant("x"), definition.Constant(1)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.v)
			require.Error(t, err)
		})
	}
}

func TestResolveParametersDoesNotMutateInput(t *testing.T) {
	r, _ := newTestResolver(t)

	params := definition.Parameters{
		"duration_seconds": definition.Constant(20),
		"endpoint":         definition.Constant("/dcap"),
	}
	resolved, err := r.ResolveParameters(context.Background(), params)
	require.NoError(t, err)

	d, err := resolved.Int("duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, int64(20), d)

	// Input still holds the raw constant, untouched.
	assert.Equal(t, 20, params["duration_seconds"].Const)
}

func TestResolvedAccessors(t *testing.T) {
	p := Resolved{
		"rate":      30.0,
		"frac":      1.5,
		"endpoint":  "/edev",
		"flag":      true,
		"listeners": []any{"a", "b"},
	}

	n, err := p.Int("rate")
	require.NoError(t, err)
	assert.Equal(t, int64(30), n)

	_, err = p.Int("frac")
	require.Error(t, err)

	s, err := p.String("endpoint")
	require.NoError(t, err)
	assert.Equal(t, "/edev", s)

	b, err := p.Bool("flag")
	require.NoError(t, err)
	assert.True(t, b)

	b, err = p.Bool("absent")
	require.NoError(t, err)
	assert.False(t, b)

	list, err := p.StringSlice("listeners")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)

	opt, err := p.OptionalFloat("absent")
	require.NoError(t, err)
	assert.Nil(t, opt)
}
