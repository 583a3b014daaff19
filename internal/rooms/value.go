package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrNonFinite rejects NaN and infinite attribute values.
var ErrNonFinite = errors.New("attribute value is not a finite number")

// Value is a single room attribute value: either a string or a number.
type Value struct {
	text    string
	number  float64
	numeric bool
}

// String returns a textual attribute value.
func String(s string) Value { return Value{text: s} }

// Number returns a numeric attribute value.
func Number(n float64) Value { return Value{number: n, numeric: true} }

func (v Value) finite() bool {
	return !v.numeric || !(math.IsNaN(v.number) || math.IsInf(v.number, 0))
}

// IsNumber reports whether the value is numeric.
func (v Value) IsNumber() bool { return v.numeric }

// Float returns the numeric value. ok is false for textual values; numeric-looking
// strings are not coerced.
func (v Value) Float() (float64, bool) {
	if !v.numeric {
		return 0, false
	}
	return v.number, true
}

// Text returns the textual form. Numbers use their shortest decimal representation.
func (v Value) Text() string {
	if v.numeric {
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	}
	return v.text
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.numeric {
		return json.Marshal(v.number)
	}
	return json.Marshal(v.text)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	default:
		return fmt.Errorf("attribute value must be a string or a number, got %s", string(data))
	}
	return nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: attribute value must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("line %d: %w: %s", node.Line, ErrNonFinite, node.Value)
		}
		*v = Number(f)
	default:
		*v = String(node.Value)
	}
	return nil
}

// Attributes maps an attribute name ("Level", "Room Status", "Area", ...) to its value.
// Absent attributes are simply not present.
type Attributes map[string]Value

// Text returns the textual form of the named attribute.
func (a Attributes) Text(name string) (string, bool) {
	v, ok := a[name]
	if !ok {
		return "", false
	}
	return v.Text(), true
}

// Float returns the named attribute if it is numeric.
func (a Attributes) Float(name string) (float64, bool) {
	v, ok := a[name]
	if !ok {
		return 0, false
	}
	return v.Float()
}
