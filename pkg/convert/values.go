// Package convert turns values returned by the database drivers into Go
// numbers and strings.
//
// The Bolt driver reports integers as int64 and floats as float64. The HTTP
// transport decodes with UseNumber, so the same columns arrive as json.Number.
// Callers that compare or index results go through these helpers so both
// transports behave the same.
//
// Example:
//
//	if id, ok := convert.ToInt64(row["id"]); ok {
//		// use id
//	}
package convert

import (
	"encoding/json"
	"math"
	"strconv"
)

// ToFloat64 converts numeric driver values to float64.
// Returns (value, true) on success, (0, false) on failure.
//
// Supported types:
//   - float64, float32
//   - int, int32, int64, uint, uint32, uint64
//   - json.Number
//   - string (parsed as decimal, supports scientific notation)
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ToInt64 converts integral driver values to int64.
// Returns (value, true) on success, (0, false) on failure.
//
// Floats convert only when they hold a whole number, so an id decoded as
// 42.0 is accepted and 42.5 is not.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return int64(val), true
		}
	case float32:
		return ToInt64(float64(val))
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return ToInt64(f)
		}
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// ToStrings returns the string elements of a list value. Non-string elements
// are dropped.
func ToStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
