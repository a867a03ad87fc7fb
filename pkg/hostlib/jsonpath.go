package hostlib

import (
	"encoding/json"
	"strconv"
)

// lookupPath walks a decoded JSON value by a list of keys. Numeric keys
// index into arrays. The second return is false when any step is absent
// or the value at a step cannot be descended into.
func lookupPath(v any, path []string) (any, bool) {
	cur := v
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// lookupString is lookupPath with scalar-to-string coercion, since hosts
// are inconsistent about quoting ids and numbers.
func lookupString(v any, path []string) (string, bool) {
	val, ok := lookupPath(v, path)
	if !ok {
		return "", false
	}
	switch s := val.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

// lookupInt coerces the value at path to int64.
func lookupInt(v any, path []string) (int64, bool) {
	val, ok := lookupPath(v, path)
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// lookupBool coerces the value at path to bool. Numeric 1/0 and the
// strings "true"/"1" count, since premium flags come in every shape.
func lookupBool(v any, path []string) (bool, bool) {
	val, ok := lookupPath(v, path)
	if !ok {
		return false, false
	}
	switch b := val.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		return b == "true" || b == "1", true
	default:
		return false, false
	}
}

// lookupStringMap returns the map at path with all scalar values coerced
// to strings. Used for dynamic form data echoed back by init responses.
func lookupStringMap(v any, path []string) (map[string]string, bool) {
	val, ok := lookupPath(v, path)
	if !ok {
		return nil, false
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for k := range m {
		s, ok := lookupString(m, []string{k})
		if !ok {
			continue
		}
		out[k] = s
	}
	return out, true
}
