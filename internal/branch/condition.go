package branch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/qninhdt/lumen-tales/server/internal/story"
)

// EvaluateCondition tests a single predicate against vars. An absent variable
// never satisfies a condition, whatever the operator.
func EvaluateCondition(c story.Condition, vars story.Variables) bool {
	actual, ok := vars.Lookup(c.VariableName)
	if !ok {
		return false
	}

	switch c.Operator {
	case story.OpEqual:
		return equal(actual, c.Value)
	case story.OpNotEqual:
		return !equal(actual, c.Value)
	case story.OpGreater, story.OpLess, story.OpGreaterOrEqual, story.OpLessOrEqual:
		cmp, ok := compare(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case story.OpGreater:
			return cmp > 0
		case story.OpLess:
			return cmp < 0
		case story.OpGreaterOrEqual:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case story.OpContains:
		found, applicable := contains(actual, c.Value)
		return applicable && found
	case story.OpNotContains:
		// inapplicable types fail both contains and not-contains
		found, applicable := contains(actual, c.Value)
		return applicable && !found
	default:
		return false
	}
}

// toNumber converts the numeric kinds JSON decoding and Go callers produce
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equal(a, b interface{}) bool {
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		return ok && af == bf
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b interface{}) (int, bool) {
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// contains reports membership for lists and substring for strings. The second
// result is false when the check does not apply to the variable's type.
func contains(haystack, needle interface{}) (bool, bool) {
	switch h := haystack.(type) {
	case []interface{}:
		for _, e := range h {
			if equal(e, needle) {
				return true, true
			}
		}
		return false, true
	case []string:
		for _, e := range h {
			if equal(e, needle) {
				return true, true
			}
		}
		return false, true
	case string:
		return strings.Contains(h, stringify(needle)), true
	default:
		return false, false
	}
}

func stringify(v interface{}) string {
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}
