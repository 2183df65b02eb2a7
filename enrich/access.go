package enrich

import (
	"strconv"

	"github.com/segmentio/encoding/json"
)

// str renders a scalar value, or returns the empty string.
func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// object returns a map or an empty map.
func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// objects returns all maps of a list.
func objects(v any) []map[string]any {
	vs, ok := v.([]any)
	if !ok {
		return nil
	}
	var result []map[string]any
	for _, e := range vs {
		if m, ok := e.(map[string]any); ok {
			result = append(result, m)
		}
	}
	return result
}

// integer reads a number from a value, which may be a string.
func integer(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}
