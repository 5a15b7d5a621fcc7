package realtime

import (
	"encoding/json"
	"fmt"
)

// Normalize converts value into the JSON-shaped form every backend stores:
// map[string]any, string, float64 or bool. Empty objects and nulls are
// pruned; a value that prunes to nothing is returned as nil.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if p := prune(child); p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		// Arrays are stored as objects keyed by index.
		m := make(map[string]any, len(t))
		for i, child := range t {
			if p := prune(child); p != nil {
				m[fmt.Sprint(i)] = p
			}
		}
		if len(m) == 0 {
			return nil
		}
		return m
	default:
		return v
	}
}

// ValueAt returns the value found by walking segs from root, or nil.
func ValueAt(root any, segs []string) any {
	node := root
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[s]
	}
	return node
}

// SetAt returns root with value placed at segs. Scalars on the way are
// replaced by objects and parents left empty by a removal disappear. The
// maps along segs are modified in place.
func SetAt(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		m = make(map[string]any)
	}
	child := SetAt(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Copy returns a deep copy of a normalised value.
func Copy(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		out[k] = Copy(child)
	}
	return out
}
