package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Optional is a number that may be absent from a payload.
type Optional struct {
	Value float64
	Valid bool
}

// Some returns a present Optional.
func Some(v float64) Optional { return Optional{Value: v, Valid: true} }

// Get returns the value and whether it is present.
func (o Optional) Get() (float64, bool) { return o.Value, o.Valid }

// Finite reports whether the value is present and a finite number.
func (o Optional) Finite() bool {
	return o.Valid && !math.IsNaN(o.Value) && !math.IsInf(o.Value, 0)
}

// UnmarshalJSON accepts numbers, numeric strings and null.
// A present value that does not parse becomes NaN.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*o = Optional{}
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f, ok := toFloat64(v)
	if !ok {
		f = math.NaN()
	}
	*o = Optional{Value: f, Valid: true}
	return nil
}

// MarshalJSON writes null for absent or non-finite values.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Finite() {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// ID is an identifier the backend sends either as a number or a string.
type ID string

// UnmarshalJSON accepts numbers and strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	*id = ID(strings.TrimSpace(string(data)))
	return nil
}

func isNull(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// rawPresent reports whether a raw field was sent with a non-null value.
func rawPresent(raw json.RawMessage) bool {
	return raw != nil && !isNull(raw)
}

// rawFloat decodes a raw JSON scalar into a float, NaN if it does not parse.
func rawFloat(raw json.RawMessage) float64 {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return math.NaN()
	}
	if f, ok := toFloat64(v); ok {
		return f
	}
	return math.NaN()
}

// toFloat64 converts a decoded JSON scalar to float64 if possible.
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
