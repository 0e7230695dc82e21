package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// has reports whether key is present with a non-null value.
func has(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// stringField returns the first non-empty value among keys, rendered as a
// string. Numbers keep their literal form.
func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func intField(m map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if n, ok := intValue(m[key]); ok {
			return n
		}
	}
	return 0
}

// idField reads an identifier. Integers come back as id; any other
// non-empty value comes back verbatim as raw so it can still key the record.
func idField(m map[string]any, keys ...string) (id int64, raw string) {
	for _, key := range keys {
		if !has(m, key) {
			continue
		}
		if n, ok := intValue(m[key]); ok {
			return n, ""
		}
		if s := stringValue(m[key]); s != "" {
			return 0, s
		}
	}
	return 0, ""
}

func intValue(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func floatField(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch t := m[key].(type) {
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, true
			}
		case float64:
			return t, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func objectField(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}
