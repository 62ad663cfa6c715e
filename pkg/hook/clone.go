package hook

// Cloner lets pipeline values that are not plain JSON-like data opt
// into per-hook isolation with their own copy semantics.
type Cloner interface {
	CloneValue() any
}

// Clone returns an independent copy of a pipeline value. Maps and
// slices are copied recursively; scalars are returned as-is. Values of
// other types pass through unchanged unless they implement Cloner, so
// pipeline values should be JSON-like data or Cloner implementations.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Cloner:
		return t.CloneValue()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	default:
		return v
	}
}
