package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// Range of timestamps with a four-digit calendar year.
	minMillis = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxMillis = time.Date(9999, time.December, 31, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()

	// ErrOutOfRange is returned for timestamps with no calendar representation.
	ErrOutOfRange = errors.New("timestamp out of range")
)

// ResponseMapper handles type coercion for legacy responses, which encode
// booleans, enums, money and timestamps as integers and sometimes as strings.
type ResponseMapper struct{}

// NewResponseMapper creates a new response mapper.
func NewResponseMapper() *ResponseMapper {
	return &ResponseMapper{}
}

// ToString converts any value to a string.
func (m *ResponseMapper) ToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToInt converts a value to an integer. Fractional numbers are rejected.
func (m *ResponseMapper) ToInt(value interface{}) (int64, error) {
	if value == nil {
		return 0, fmt.Errorf("cannot convert nil to int")
	}

	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("cannot convert '%s' to int: %w", v, err)
		}
		return i, nil
	case float64:
		if v != math.Trunc(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("cannot convert %v to int", v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert '%s' to int: %w", v, err)
		}
		return i, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}

// ToBool converts a value to a boolean. Integers are true when non-zero.
func (m *ResponseMapper) ToBool(value interface{}) (bool, error) {
	if value == nil {
		return false, nil
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		// Handle common boolean strings
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		default:
			return false, fmt.Errorf("cannot convert '%s' to boolean", v)
		}
	default:
		i, err := m.ToInt(value)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to boolean: %w", value, err)
		}
		return i != 0, nil
	}
}

// ToDateTime converts a millisecond timestamp (number or numeric string) or an
// RFC 3339 string to a UTC time.
func (m *ResponseMapper) ToDateTime(value interface{}) (time.Time, error) {
	if value == nil {
		return time.Time{}, fmt.Errorf("cannot convert nil to datetime")
	}

	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return TimeFromMillis(ms)
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("cannot parse '%s' as datetime", v)
	default:
		ms, err := m.ToInt(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot convert %T to datetime: %w", value, err)
		}
		return TimeFromMillis(ms)
	}
}

// ToOptionalDateTime treats nil and 0 as absent.
func (m *ResponseMapper) ToOptionalDateTime(value interface{}) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); !ok || isNumeric(s) {
		ms, err := m.ToInt(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to datetime: %w", value, err)
		}
		if ms == 0 {
			return nil, nil
		}
	}
	t, err := m.ToDateTime(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ToOptionalID treats nil and 0 as absent.
func (m *ResponseMapper) ToOptionalID(value interface{}) (*int64, error) {
	if value == nil {
		return nil, nil
	}
	id, err := m.ToInt(value)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return &id, nil
}

// ToFixed converts a two-decimal fixed-point integer (money, karma).
func (m *ResponseMapper) ToFixed(value interface{}) (Fixed, error) {
	i, err := m.ToInt(value)
	if err != nil {
		return 0, err
	}
	return Fixed(i), nil
}

// Enum converts an integer-coded enum. Codes not in known map to fallback.
func Enum[T ~int](m *ResponseMapper, value interface{}, fallback T, known ...T) (T, error) {
	i, err := m.ToInt(value)
	if err != nil {
		return fallback, err
	}
	for _, k := range known {
		if int64(k) == i {
			return k, nil
		}
	}
	return fallback, nil
}

// TimeFromMillis converts Unix milliseconds to UTC, rejecting values outside years 0-9999.
func TimeFromMillis(ms int64) (time.Time, error) {
	if ms < minMillis || ms > maxMillis {
		return time.Time{}, fmt.Errorf("%w: %d ms", ErrOutOfRange, ms)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ParseMillis parses a decimal millisecond timestamp.
func ParseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid millisecond timestamp %q: %w", s, err)
	}
	return TimeFromMillis(ms)
}

// Fixed is an integer with two implied decimal places.
type Fixed int64

// Float returns the value as a float.
func (f Fixed) Float() float64 {
	return float64(f) / 100
}

// String formats the value as "12.34".
func (f Fixed) String() string {
	sign := ""
	v := uint64(f)
	if f < 0 {
		sign = "-"
		// Two's complement negation also covers MinInt64.
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}
