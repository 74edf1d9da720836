package core

import (
	"maps"

	"github.com/google/uuid"
)

// NewID returns a new random identifier used for agents, sessions,
// interactions and runs.
func NewID() string {
	return uuid.NewString()
}

// CloneStringMap returns a copy of m. A nil map yields an empty, non-nil map.
func CloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}

// CloneAnyMap returns a deep copy of m for the JSON-like value shapes
// (maps, slices, scalars) stored in configs and attributes.
func CloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		return CloneStringMap(t)
	default:
		return v
	}
}
