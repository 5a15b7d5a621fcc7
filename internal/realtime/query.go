package realtime

import (
	"sort"
)

// Query filters the children of a subscribed path.
type Query struct {
	// OrderByChild sorts children by the named field of each child.
	// Children are sorted by key when empty.
	OrderByChild string `json:"order_by_child,omitempty"`
	// LimitToLast keeps only the last N children after sorting. Zero keeps all.
	LimitToLast int `json:"limit_to_last,omitempty"`
}

// Apply returns the children of value selected by q and their order.
// Non-object values pass through unchanged.
func (q *Query) Apply(value any) (any, []string) {
	m, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	field := ""
	if q != nil {
		field = q.OrderByChild
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if field != "" {
			a := childField(m[keys[i]], field)
			b := childField(m[keys[j]], field)
			if c := compareValues(a, b); c != 0 {
				return c < 0
			}
		}
		return keys[i] < keys[j]
	})

	if q != nil && q.LimitToLast > 0 && len(keys) > q.LimitToLast {
		keys = keys[len(keys)-q.LimitToLast:]
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, keys
}

func childField(child any, field string) any {
	m, ok := child.(map[string]any)
	if !ok {
		return nil
	}
	return m[field]
}

// compareValues orders nulls, then false, true, numbers, strings and objects.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	// false and true already differ by rank.
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func rank(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 2
		}
		return 1
	case float64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}
