package realtime

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Snapshot is a point-in-time view of a path.
type Snapshot struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Value  any    `json:"value,omitempty"`
	// Order lists child keys in query order. Children sort by key when empty.
	Order []string `json:"order,omitempty"`
}

// NewSnapshot builds a snapshot of value at path, filtered by q when set.
func NewSnapshot(path string, value any, q *Query) Snapshot {
	snap := Snapshot{Path: path}
	if q != nil {
		value, snap.Order = q.Apply(value)
	}
	snap.Value = value
	snap.Exists = value != nil
	return snap
}

// Key returns the last segment of the snapshot path.
func (s Snapshot) Key() string {
	return Key(s.Path)
}

// Children returns the child snapshots in order.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}

	keys := s.Order
	if len(keys) == 0 {
		keys = make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		out = append(out, Snapshot{Path: Join(s.Path, k), Exists: true, Value: v})
	}
	return out
}

// Child returns the snapshot of a direct child.
func (s Snapshot) Child(key string) Snapshot {
	var v any
	if m, ok := s.Value.(map[string]any); ok {
		v = m[key]
	}
	return Snapshot{Path: Join(s.Path, key), Exists: v != nil, Value: v}
}

// Filter re-applies q to the snapshot value.
func (s Snapshot) Filter(q *Query) Snapshot {
	return NewSnapshot(s.Path, s.Value, q)
}

// Decode copies the snapshot value into out, matching fields by their json tags.
func (s Snapshot) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(s.Value); err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return nil
}
