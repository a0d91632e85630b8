package script

import (
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"
)

// RisorToGo converts a Risor object to a plain Go value
func RisorToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, RisorToGo(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any)
		for key, value := range o.Value() {
			result[key] = RisorToGo(value)
		}
		return result
	case *object.Set:
		var result []any
		for _, item := range o.Value() {
			result = append(result, RisorToGo(item))
		}
		return result
	default:
		// Fallback to string representation
		return obj.Inspect()
	}
}

// Truthy converts any value to a boolean indicating truthiness. It works
// with both Risor objects and plain Go values.
func Truthy(value any) bool {
	if obj, ok := value.(object.Object); ok {
		switch o := obj.(type) {
		case *object.Bool:
			return o.Value()
		case *object.Int:
			return o.Value() != 0
		case *object.Float:
			return o.Value() != 0.0
		case *object.String:
			val := o.Value()
			return val != "" && strings.ToLower(val) != "false"
		case *object.List:
			return len(o.Value()) > 0
		case *object.Map:
			return len(o.Value()) > 0
		default:
			return obj.IsTruthy()
		}
	}
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint:
		return v != 0
	case uint32:
		return v != 0
	case uint64:
		return v != 0
	case float32:
		return v != 0.0
	case float64:
		return v != 0.0
	case string:
		return v != "" && strings.ToLower(v) != "false"
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		return value != nil
	}
}

// ItemsOf converts any value to an array of values for use in iteration.
// It works with both Risor objects and plain Go values. Maps are flattened
// into key/value entries.
func ItemsOf(value any) ([]any, error) {
	if obj, ok := value.(object.Object); ok {
		switch o := obj.(type) {
		case *object.String, *object.Int, *object.Float, *object.Bool, *object.Time:
			return []any{RisorToGo(obj)}, nil
		case *object.NilType:
			return nil, nil
		case *object.List:
			var values []any
			for _, item := range o.Value() {
				values = append(values, RisorToGo(item))
			}
			return values, nil
		case *object.Set:
			var values []any
			for _, item := range o.Value() {
				values = append(values, RisorToGo(item))
			}
			return values, nil
		case *object.Map:
			var values []any
			for key, item := range o.Value() {
				values = append(values, map[string]any{"key": key, "value": RisorToGo(item)})
			}
			return values, nil
		default:
			return nil, fmt.Errorf("unsupported risor result type for iteration: %T", obj)
		}
	}
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		result := make([]any, len(v))
		for i, s := range v {
			result[i] = s
		}
		return result, nil
	case []int:
		result := make([]any, len(v))
		for i, n := range v {
			result[i] = n
		}
		return result, nil
	case []float64:
		result := make([]any, len(v))
		for i, f := range v {
			result[i] = f
		}
		return result, nil
	case map[string]any:
		var result []any
		for key, item := range v {
			result = append(result, map[string]any{"key": key, "value": item})
		}
		return result, nil
	case string, int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return []any{v}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported value type for iteration: %T", value)
	}
}
