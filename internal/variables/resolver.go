// Package variables resolves parameter expressions at the moment of use.
//
// Test procedure parameters may reference runtime variables ("now" is the
// current instant, "setMaxW" the client's most recently posted setMaxW in
// watts) and combine them arithmetically. Resolution is side-effect free
// and happens immediately before a parameter is consumed, so time-valued
// expressions reflect the firing instant rather than load time.
package variables

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/store"
)

// Resolver evaluates definition.Value expressions against live state.
type Resolver struct {
	store *store.Store
	now   func() time.Time
}

// NewResolver builds a resolver. now may be nil, defaulting to the wall
// clock; tests inject a fixed clock.
func NewResolver(st *store.Store, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: st, now: now}
}

// Resolve evaluates a single value. Results are time.Time (UTC), float64,
// or the constant's decoded form (string, bool, []any).
func (r *Resolver) Resolve(ctx context.Context, v definition.Value) (any, error) {
	switch v.Kind {
	case definition.ValueConstant:
		return normalizeConstant(v.Const), nil
	case definition.ValueVariable:
		return r.resolveVariable(ctx, v.Variable)
	case definition.ValueOperation:
		return r.resolveOperation(ctx, v)
	default:
		return nil, fmt.Errorf("unresolvable value kind %q", v.Kind)
	}
}

// ResolveParameters resolves every parameter into a fresh map. The input is
// never mutated; definitions stay reusable across runs.
func (r *Resolver) ResolveParameters(ctx context.Context, params definition.Parameters) (Resolved, error) {
	resolved := make(Resolved, len(params))
	for key, val := range params {
		out, err := r.Resolve(ctx, val)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		resolved[key] = out
	}
	return resolved, nil
}

func (r *Resolver) resolveVariable(ctx context.Context, name string) (any, error) {
	switch name {
	case definition.VariableNow:
		return r.now().UTC(), nil
	case definition.VariableSetMaxW:
		return r.resolveSetMaxW(ctx)
	default:
		return nil, fmt.Errorf("unknown variable %q", name)
	}
}

// resolveSetMaxW returns the most recently changed DER setting's setMaxW in
// watts. Posting DERSettings is the client's responsibility, so a missing
// record is a resolution error, not a default.
func (r *Resolver) resolveSetMaxW(ctx context.Context) (any, error) {
	site, err := r.store.ActiveSite(ctx)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("setMaxW: no site registered")
	}
	setting, err := r.store.LatestDERSetting(ctx, site.ID)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return nil, fmt.Errorf("setMaxW: site %d has no DER settings", site.ID)
	}
	return float64(setting.SetMaxWValue) * math.Pow(10, float64(setting.SetMaxWMultiplier)), nil
}

func (r *Resolver) resolveOperation(ctx context.Context, v definition.Value) (any, error) {
	lhs, err := r.Resolve(ctx, *v.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := r.Resolve(ctx, *v.RHS)
	if err != nil {
		return nil, err
	}
	return apply(v.Op, lhs, rhs)
}

// apply implements the arithmetic table: float op float, and time plus or
// minus a number of seconds.
func apply(op string, lhs, rhs any) (any, error) {
	if lt, ok := lhs.(time.Time); ok {
		seconds, ok := rhs.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: time operand requires numeric seconds, got %T", op, rhs)
		}
		offset := time.Duration(seconds * float64(time.Second))
		switch op {
		case definition.OpAdd:
			return lt.Add(offset), nil
		case definition.OpSubtract:
			return lt.Add(-offset), nil
		default:
			return nil, fmt.Errorf("%s: unsupported on time values", op)
		}
	}

	lf, lok := lhs.(float64)
	rf, rok := rhs.(float64)
	if !lok || !rok {
		return nil, fmt.Errorf("%s: unsupported operand types %T and %T", op, lhs, rhs)
	}
	switch op {
	case definition.OpAdd:
		return lf + rf, nil
	case definition.OpSubtract:
		return lf - rf, nil
	case definition.OpMultiply:
		return lf * rf, nil
	case definition.OpDivide:
		if rf == 0 {
			return nil, fmt.Errorf("divide: division by zero")
		}
		return lf / rf, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// normalizeConstant widens numeric constants to float64 so arithmetic and
// accessors see one numeric type regardless of how YAML decoded the scalar.
func normalizeConstant(c any) any {
	switch v := c.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float64:
		return v
	default:
		return c
	}
}
