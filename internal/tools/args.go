package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Args are the decoded arguments of a tool call. Models are loose about
// types, so numbers may arrive as float64, json.Number or strings.
type Args map[string]any

// String returns the trimmed string value of key, or "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int returns key as an int clamped to [1, max], or def when absent or
// unparsable.
func (a Args) Int(key string, def, max int) int {
	n, ok := a.number(key)
	if !ok || n < 1 {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

func (a Args) number(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	}
	return 0, false
}

// Bool returns key as a bool, or def when absent.
func (a Args) Bool(key string, def bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
