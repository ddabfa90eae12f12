// Package values converts and compares individual cell values.
package values

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"datawrangler/internal/domain"
)

// timeLayouts are tried in order when parsing datetime strings.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// ToFloat returns the numeric value of v. Strings are parsed.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ParseBool accepts common boolean spellings.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	}
	return false, false
}

// ParseTime parses s with the supported layouts.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Cast converts a non-null value to the given dtype.
func Cast(v any, to domain.DType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch to {
	case domain.DTypeString:
		return domain.FormatValue(v), nil
	case domain.DTypeFloat64:
		if f, ok := ToFloat(v); ok {
			return f, nil
		}
		if b, ok := v.(bool); ok {
			return boolToFloat(b), nil
		}
	case domain.DTypeInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case bool:
			return int64(boolToFloat(x)), nil
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n, nil
			}
		}
		if f, ok := ToFloat(v); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
	case domain.DTypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if b, ok := ParseBool(x); ok {
				return b, nil
			}
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case float64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		}
	case domain.DTypeDatetime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			if t, ok := ParseTime(x); ok {
				return t, nil
			}
		}
	default:
		return nil, fmt.Errorf("unsupported target dtype %q", to)
	}
	return nil, fmt.Errorf("cannot cast %T value %q to %s", v, domain.FormatValue(v), to)
}

// Conforms reports whether a non-null value is a valid representation of
// the inferred type. Strings conform when they parse as that type.
func Conforms(v any, t domain.InferredType) bool {
	switch t {
	case domain.TypeNumeric:
		f, ok := ToFloat(v)
		return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
	case domain.TypeBoolean:
		switch x := v.(type) {
		case bool:
			return true
		case string:
			_, ok := ParseBool(x)
			return ok
		}
	case domain.TypeDatetime:
		switch x := v.(type) {
		case time.Time:
			return true
		case string:
			_, ok := ParseTime(x)
			return ok
		}
	case domain.TypeCategorical:
		switch x := v.(type) {
		case string, bool, int64:
			return true
		case float64:
			return x == math.Trunc(x)
		}
	case domain.TypeText:
		_, ok := v.(string)
		return ok
	}
	return false
}

// Compare orders two non-null values. Values of the same kind compare
// naturally; mixed kinds fall back to their canonical keys.
func Compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
		if y, ok := b.(float64); ok {
			return cmp.Compare(float64(x), y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, float64(y))
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp.Compare(boolToFloat(x), boolToFloat(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(domain.ValueKey(a), domain.ValueKey(b))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
