// Package model defines the core data structures flowing through the pipeline.
package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record represents a single structured log entry. It has no fixed schema:
// values may be strings, numbers, booleans, nil, nested maps, or slices.
// A Record is owned by exactly one pipeline stage at a time; ownership
// transfers downstream when the stage emits it.
type Record map[string]any

// New creates an empty Record.
func New() Record {
	return make(Record)
}

// Clone creates a deep copy of the Record.
// Useful when a stage needs to emit a modified record while keeping
// the original intact.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for k, v := range r {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case Record:
		return map[string]any(val.Clone())
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return val
	}
}

// Get resolves a dotted path ("http.request.status") against the record.
// Returns the value and true if every segment resolves, or nil and false
// if any intermediate segment is missing or not a map.
func (r Record) Get(path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = map[string]any(r)

	for _, seg := range segments {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// GetString resolves a dotted path and stringifies the value.
// Non-string scalars are formatted; missing paths return "" and false.
func (r Record) GetString(path string) (string, bool) {
	v, ok := r.Get(path)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case nil:
		return "", true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// Set writes a value at a dotted path, creating intermediate maps as needed.
// An intermediate segment holding a non-map value is overwritten.
func (r Record) Set(path string, value any) {
	segments := strings.Split(path, ".")
	current := map[string]any(r)

	for _, seg := range segments[:len(segments)-1] {
		next, ok := asMap(current[seg])
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// Delete removes the value at a dotted path. Missing paths are a no-op.
func (r Record) Delete(path string) {
	segments := strings.Split(path, ".")
	current := map[string]any(r)

	for _, seg := range segments[:len(segments)-1] {
		next, ok := asMap(current[seg])
		if !ok {
			return
		}
		current = next
	}
	delete(current, segments[len(segments)-1])
}

// Has reports whether a dotted path resolves to any value.
func (r Record) Has(path string) bool {
	_, ok := r.Get(path)
	return ok
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// Number coerces a value to float64. It accepts the numeric types JSON
// decoding produces plus numeric strings, which is what CSV input yields.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
