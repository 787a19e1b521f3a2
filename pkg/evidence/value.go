package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type valueKind uint8

const (
	kindNone valueKind = iota
	kindNumber
	kindCategory
)

// Value is a raw measurement: a number, a category label, or nothing.
// The zero Value is None, so "no data" is never confused with zero.
type Value struct {
	kind valueKind
	num  float64
	cat  string
}

// Number wraps a numeric measurement.
func Number(f float64) Value { return Value{kind: kindNumber, num: f} }

// Category wraps a categorical measurement.
func Category(s string) Value { return Value{kind: kindCategory, cat: s} }

// None returns the empty value.
func None() Value { return Value{} }

// IsNone reports whether v carries no measurement.
func (v Value) IsNone() bool { return v.kind == kindNone }

// Number returns the numeric measurement, if v is numeric.
func (v Value) Number() (float64, bool) { return v.num, v.kind == kindNumber }

// Category returns the category label, if v is categorical.
func (v Value) Category() (string, bool) { return v.cat, v.kind == kindCategory }

func (v Value) String() string {
	switch v.kind {
	case kindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case kindCategory:
		return v.cat
	}
	return "none"
}

// MarshalJSON encodes numbers as JSON numbers, categories as strings and
// None as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindNumber:
		return json.Marshal(v.num)
	case kindCategory:
		return json.Marshal(v.cat)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a number, a string, a boolean or null. Booleans
// become the categories "true" and "false".
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = None()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Category(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Category(strconv.FormatBool(b))
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("raw value must be a number, string, boolean or null: %w", err)
		}
		*v = Number(f)
	}
	return nil
}

// MarshalYAML mirrors the JSON encoding.
func (v Value) MarshalYAML() (any, error) {
	switch v.kind {
	case kindNumber:
		return v.num, nil
	case kindCategory:
		return v.cat, nil
	}
	return nil, nil
}
