package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/yigit/hackhub/internal/backend"
)

func matchesAll(r backend.Row, filters []backend.Filter) bool {
	for _, f := range filters {
		if !matches(r, f) {
			return false
		}
	}
	return true
}

func matches(r backend.Row, f backend.Filter) bool {
	v := normalize(r[f.Column])
	switch f.Op {
	case backend.OpEq:
		return v != nil && compare(v, f.Value) == 0
	case backend.OpNeq:
		return v == nil || compare(v, f.Value) != 0
	case backend.OpIsNull:
		return v == nil
	case backend.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, want := range values {
			if v != nil && compare(v, want) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// normalize flattens pointers and numeric widths so values written by
// different callers compare equal
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// compare orders two column values; nil sorts first
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toInt(v any) int {
	if f, ok := normalize(v).(float64); ok {
		return int(f)
	}
	return 0
}
