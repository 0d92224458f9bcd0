package attrs

import (
	"fmt"
	"reflect"
	"strconv"
)

var floatSliceType = reflect.TypeOf([]float64(nil))

// formatValue renders an expression result for embedding in a string.
func formatValue(v interface{}) string {
	switch value := v.(type) {
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case int:
		return strconv.Itoa(value)
	case bool:
		return strconv.FormatBool(value)
	case string:
		return value
	}
	return fmt.Sprint(v)
}
