package mapper

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestResponseMapper_ToString(t *testing.T) {
	mapper := NewResponseMapper()

	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{"string", "hello", "hello"},
		{"int", 42, "42"},
		{"json number", json.Number("1700000000000"), "1700000000000"},
		{"float", 3.14, "3.14"},
		{"bool", true, "true"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapper.ToString(tt.input)
			if got != tt.expected {
				t.Errorf("ToString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResponseMapper_ToInt(t *testing.T) {
	mapper := NewResponseMapper()

	tests := []struct {
		name     string
		input    interface{}
		expected int64
		wantErr  bool
	}{
		{"int", 42, 42, false},
		{"int32", int32(42), 42, false},
		{"int64", int64(42), 42, false},
		{"float64", 42.0, 42, false},
		{"fractional float", 42.5, 0, true},
		{"float at 2^63", float64(math.MaxInt64), 0, true},
		{"float at -2^63", float64(math.MinInt64), math.MinInt64, false},
		{"json number", json.Number("1700000000000"), 1700000000000, false},
		{"json number fraction", json.Number("1.5"), 0, true},
		{"string valid", "42", 42, false},
		{"string invalid", "not a number", 0, true},
		{"nil", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapper.ToInt(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ToInt() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ToInt() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResponseMapper_ToBool(t *testing.T) {
	mapper := NewResponseMapper()

	tests := []struct {
		name     string
		input    interface{}
		expected bool
		wantErr  bool
	}{
		{"bool", true, true, false},
		{"one", json.Number("1"), true, false},
		{"zero", json.Number("0"), false, false},
		{"float one", 1.0, true, false},
		{"string", "1", true, false},
		{"bad string", "maybe", false, true},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapper.ToBool(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ToBool() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ToBool() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResponseMapper_ToDateTime(t *testing.T) {
	mapper := NewResponseMapper()
	want := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)

	for name, input := range map[string]interface{}{
		"json number":    json.Number("1700000000000"),
		"numeric string": "1700000000000",
		"int64":          int64(1700000000000),
		"rfc3339":        "2023-11-14T22:13:20Z",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := mapper.ToDateTime(input)
			if err != nil {
				t.Fatalf("ToDateTime() error = %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("ToDateTime() = %v, want %v", got, want)
			}
		})
	}

	if _, err := mapper.ToDateTime("yesterday"); err == nil {
		t.Error("expected error for unparseable string")
	}
	if _, err := mapper.ToDateTime(year10000Millis()); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func year10000Millis() int64 {
	return time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func TestTimeFromMillis_Bounds(t *testing.T) {
	if _, err := TimeFromMillis(maxMillis); err != nil {
		t.Errorf("max representable timestamp rejected: %v", err)
	}
	if _, err := TimeFromMillis(maxMillis + 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange above year 9999, got %v", err)
	}
	if _, err := TimeFromMillis(minMillis - 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange below year 0, got %v", err)
	}
	if _, err := ParseMillis("17e11"); err == nil {
		t.Error("expected error for non-integer timestamp")
	}
}

func TestResponseMapper_Optionals(t *testing.T) {
	mapper := NewResponseMapper()

	id, err := mapper.ToOptionalID(json.Number("0"))
	if err != nil || id != nil {
		t.Errorf("expected absent id for 0, got %v, %v", id, err)
	}
	id, err = mapper.ToOptionalID(json.Number("17"))
	if err != nil || id == nil || *id != 17 {
		t.Errorf("expected id 17, got %v, %v", id, err)
	}

	ts, err := mapper.ToOptionalDateTime(json.Number("0"))
	if err != nil || ts != nil {
		t.Errorf("expected absent time for 0, got %v, %v", ts, err)
	}
	ts, err = mapper.ToOptionalDateTime("2023-11-14T22:13:20Z")
	if err != nil || ts == nil {
		t.Errorf("expected time from rfc3339, got %v, %v", ts, err)
	}
	ts, err = mapper.ToOptionalDateTime(json.Number("1700000000000"))
	if err != nil || ts == nil || ts.Year() != 2023 {
		t.Errorf("expected 2023 time, got %v, %v", ts, err)
	}
}

func TestFixed(t *testing.T) {
	mapper := NewResponseMapper()

	f, err := mapper.ToFixed(json.Number("123456"))
	if err != nil {
		t.Fatalf("ToFixed() error = %v", err)
	}
	if f.String() != "1234.56" {
		t.Errorf("String() = %q", f.String())
	}
	extremes := map[Fixed]string{
		-5:                   "-0.05",
		Fixed(math.MaxInt64): "92233720368547758.07",
		Fixed(math.MinInt64): "-92233720368547758.08",
	}
	for in, want := range extremes {
		if got := in.String(); got != want {
			t.Errorf("Fixed(%d).String() = %q, want %q", int64(in), got, want)
		}
	}
	if f.Float() != 1234.56 {
		t.Errorf("Float() = %v", f.Float())
	}
}

type color int

const (
	colorUnknown color = -1
	colorRed     color = 0
	colorBlue    color = 1
)

func TestEnum(t *testing.T) {
	mapper := NewResponseMapper()

	got, err := Enum(mapper, json.Number("1"), colorUnknown, colorRed, colorBlue)
	if err != nil || got != colorBlue {
		t.Errorf("Enum() = %v, %v", got, err)
	}
	got, err = Enum(mapper, json.Number("9"), colorUnknown, colorRed, colorBlue)
	if err != nil || got != colorUnknown {
		t.Errorf("Enum() = %v, %v, want fallback", got, err)
	}
	if _, err := Enum(mapper, "red", colorUnknown, colorRed); err == nil {
		t.Error("expected error for non-integer enum")
	}
}
