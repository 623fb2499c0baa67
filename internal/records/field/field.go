// Package field coerces snapshot values back into typed record fields.
// Snapshots round-trip through JSON, so numbers come back as float64 and
// temporal values as RFC 3339 strings; accessors use these helpers when
// reconstructing or patching records.
package field

import (
	"encoding/json"
	"fmt"
	"time"
)

// String returns the value under key as a string. Missing keys and nil
// values yield the empty string.
func String(snap map[string]any, key string) (string, error) {
	v, ok := snap[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Int64 returns the value under key as an int64, accepting the integer
// types a snapshot can carry. Missing keys and nil values yield zero.
func Int64(snap map[string]any, key string) (int64, error) {
	v, ok := snap[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("field %q: expected integer, got %T", key, v)
}

// Int64Ptr is Int64 for nullable columns: missing or nil yields nil.
func Int64Ptr(snap map[string]any, key string) (*int64, error) {
	v, ok := snap[key]
	if !ok || v == nil {
		return nil, nil
	}
	if p, isPtr := v.(*int64); isPtr {
		if p == nil {
			return nil, nil
		}
		n := *p
		return &n, nil
	}
	n, err := Int64(snap, key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Int is Int64 narrowed to int.
func Int(snap map[string]any, key string) (int, error) {
	n, err := Int64(snap, key)
	return int(n), err
}

// Bool returns the value under key as a bool. Missing keys and nil values
// yield false.
func Bool(snap map[string]any, key string) (bool, error) {
	v, ok := snap[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// Time returns the value under key as a time.Time, parsing RFC 3339 strings
// and passing time.Time values through. Missing keys and nil values yield
// the zero time.
func Time(snap map[string]any, key string) (time.Time, error) {
	v, ok := snap[key]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return *t, nil
	case string:
		parsed, err := parseTemporal(t)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %q: %w", key, err)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("field %q: expected timestamp, got %T", key, v)
}

// TimePtr is Time for nullable columns: missing, nil, and zero values all
// yield nil.
func TimePtr(snap map[string]any, key string) (*time.Time, error) {
	if v, ok := snap[key]; !ok || v == nil {
		return nil, nil
	}
	t, err := Time(snap, key)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

func parseTemporal(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
