package story

import "encoding/json"

// Variables is story-level state holding JSON-like values
// (nil, bool, float64, string, []interface{}, map[string]interface{}).
type Variables map[string]interface{}

// Clone returns a deep copy of the variables
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

// Merge returns a copy of v with changes laid over it (shallow by key)
func (v Variables) Merge(changes Variables) Variables {
	out := v.Clone()
	for k, val := range changes {
		out[k] = cloneValue(val)
	}
	return out
}

// Lookup returns the value for name and whether it is present
func (v Variables) Lookup(name string) (interface{}, bool) {
	val, ok := v[name]
	return val, ok
}

func cloneValue(val interface{}) interface{} {
	switch t := val.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return val
	}
}
