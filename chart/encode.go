package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// String renders the color as a CSS rgba() value.
func (c Color) String() string {
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, strconv.FormatFloat(c.A, 'f', -1, 64))
}

// MarshalJSON writes the CSS form.
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON reads the CSS rgba() form.
func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	var out Color
	if _, err := fmt.Sscanf(s, "rgba(%d, %d, %d, %g)", &out.R, &out.G, &out.B, &out.A); err != nil {
		return fmt.Errorf("invalid color %q: %w", s, err)
	}
	*c = out
	return nil
}

// MarshalJSON writes values with null in place of NaN, which JSON cannot carry.
func (d Dataset) MarshalJSON() ([]byte, error) {
	type plain Dataset
	data := make([]*float64, len(d.Values))
	for i := range d.Values {
		v := d.Values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		data[i] = &v
	}
	return json.Marshal(struct {
		plain
		Data []*float64 `json:"data"`
	}{plain(d), data})
}

// UnmarshalJSON reads null values back as NaN.
func (d *Dataset) UnmarshalJSON(b []byte) error {
	type plain Dataset
	var w struct {
		plain
		Data []*float64 `json:"data"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*d = Dataset(w.plain)
	d.Values = make([]float64, len(w.Data))
	for i, v := range w.Data {
		if v == nil {
			d.Values[i] = math.NaN()
		} else {
			d.Values[i] = *v
		}
	}
	return nil
}
