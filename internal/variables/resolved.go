package variables

import (
	"fmt"
	"time"
)

// Resolved is a fully-evaluated parameter map.
type Resolved map[string]any

// Float returns the named numeric parameter.
func (p Resolved) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q: expected number, got %T", key, v)
	}
	return f, nil
}

// Int returns the named numeric parameter as an integer. Fractional values
// are rejected rather than silently truncated.
func (p Resolved) Int(key string) (int64, error) {
	f, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	n := int64(f)
	if float64(n) != f {
		return 0, fmt.Errorf("parameter %q: expected integer, got %v", key, f)
	}
	return n, nil
}

// OptionalFloat returns the named numeric parameter, or nil when absent.
func (p Resolved) OptionalFloat(key string) (*float64, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	f, err := p.Float(key)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// OptionalInt returns the named integer parameter, or nil when absent.
func (p Resolved) OptionalInt(key string) (*int64, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	n, err := p.Int(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// OptionalString returns the named string parameter, or "" when absent.
func (p Resolved) OptionalString(key string) (string, error) {
	if _, ok := p[key]; !ok {
		return "", nil
	}
	return p.String(key)
}

// OptionalTime returns the named time parameter, or nil when absent.
func (p Resolved) OptionalTime(key string) (*time.Time, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	t, err := p.Time(key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// String returns the named string parameter.
func (p Resolved) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Bool returns the named boolean parameter, defaulting to false when absent.
func (p Resolved) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: expected boolean, got %T", key, v)
	}
	return b, nil
}

// Time returns the named time parameter.
func (p Resolved) Time(key string) (time.Time, error) {
	v, ok := p[key]
	if !ok {
		return time.Time{}, fmt.Errorf("missing parameter %q", key)
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("parameter %q: expected time, got %T", key, v)
	}
	return t, nil
}

// StringSlice returns the named list-of-strings parameter.
func (p Resolved) StringSlice(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", key)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q: expected list, got %T", key, v)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q[%d]: expected string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}
