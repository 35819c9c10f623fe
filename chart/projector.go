// Package chart turns register buffers into declarative chart descriptions:
// the value trace with per-point alarm styling and flat reference lines for
// the alarm thresholds.
package chart

import (
	"math"

	"floorview/telemetry"
)

// Color is an RGBA color with alpha in [0,1].
type Color struct {
	R, G, B uint8
	A       float64
}

// Palette colors used by the console charts.
var (
	ColorPrimary   = Color{132, 0, 255, 0.9}
	ColorSecondary = Color{204, 0, 255, 0.8}
	ColorSetpoint  = Color{0, 255, 153, 0.8}
	ColorAlarm     = Color{255, 59, 59, 0.8}
	ColorViolated  = Color{255, 196, 196, 0.8}
	ColorLow       = Color{255, 153, 0, 0.8}
)

// Point marker styling.
const (
	RadiusNormal      = 5
	RadiusViolated    = 7
	BorderNormal      = 2
	BorderViolated    = 4
	TraceBorderWidth  = 3
	LimitBorderWidth  = 2
	DefaultValueLabel = "Value"
)

// LimitDash is the dash pattern of reference lines.
var LimitDash = []int{6, 4}

// Dataset kinds.
const (
	KindValue    = "value"
	KindSetpoint = "setpoint"
	KindLow      = "low"
	KindHigh     = "high"
)

// Dataset is one series of a chart.
type Dataset struct {
	Kind   string    `json:"kind"`
	Label  string    `json:"label"`
	Values []float64 `json:"-"`

	// Per-point marker styling, one entry per value. Empty for reference lines.
	PointRadius      []int   `json:"point_radius,omitempty"`
	PointBackground  []Color `json:"point_background,omitempty"`
	PointBorder      []Color `json:"point_border,omitempty"`
	PointBorderWidth []int   `json:"point_border_width,omitempty"`

	BorderColor Color `json:"border_color"`
	BorderWidth int   `json:"border_width"`
	BorderDash  []int `json:"border_dash,omitempty"`
}

// Spec is the full description of one register chart.
type Spec struct {
	RegisterID string    `json:"register_id"`
	Title      string    `json:"title"`
	Unit       string    `json:"unit,omitempty"`
	Labels     []string  `json:"labels"`
	Datasets   []Dataset `json:"datasets"`
	Violated   bool      `json:"violated"`
}

// Value returns the value trace, or nil.
func (s *Spec) Value() *Dataset {
	for i := range s.Datasets {
		if s.Datasets[i].Kind == KindValue {
			return &s.Datasets[i]
		}
	}
	return nil
}

// References returns the threshold lines.
func (s *Spec) References() []Dataset {
	var out []Dataset
	for _, d := range s.Datasets {
		if d.Kind != KindValue {
			out = append(out, d)
		}
	}
	return out
}

// Projector builds chart specs. The zero value is ready to use.
type Projector struct {
	// ValueLabel prefixes the value trace label. Defaults to "Value".
	ValueLabel string
}

// Project describes the chart of one register. Reference lines are exactly
// as long as the label list and are rebuilt on every call.
func (p Projector) Project(registerID, title, unit string, buf *telemetry.Buffer, def *telemetry.AlarmDefinition) Spec {
	var pts []telemetry.Point
	if buf != nil {
		pts = buf.Points()
	}
	labels := make([]string, len(pts))
	values := make([]float64, len(pts))
	for i, pt := range pts {
		labels[i] = pt.Label
		values[i] = pt.Value
	}

	spec := Spec{
		RegisterID: registerID,
		Title:      title,
		Unit:       unit,
		Labels:     labels,
	}
	if len(pts) > 0 {
		spec.Violated = pts[len(pts)-1].Violated
	}
	spec.Datasets = append(spec.Datasets, p.valueDataset(unit, values, pts))
	spec.Datasets = append(spec.Datasets, referenceLines(def, len(labels))...)
	return spec
}

func (p Projector) valueDataset(unit string, values []float64, pts []telemetry.Point) Dataset {
	label := p.ValueLabel
	if label == "" {
		label = DefaultValueLabel
	}
	if unit != "" {
		label += " (" + unit + ")"
	}

	d := Dataset{
		Kind:             KindValue,
		Label:            label,
		Values:           values,
		PointRadius:      make([]int, len(pts)),
		PointBackground:  make([]Color, len(pts)),
		PointBorder:      make([]Color, len(pts)),
		PointBorderWidth: make([]int, len(pts)),
		BorderColor:      ColorPrimary,
		BorderWidth:      TraceBorderWidth,
	}
	for i, pt := range pts {
		if pt.Violated {
			d.PointRadius[i] = RadiusViolated
			d.PointBackground[i] = ColorAlarm
			d.PointBorder[i] = ColorAlarm
			d.PointBorderWidth[i] = BorderViolated
		} else {
			d.PointRadius[i] = RadiusNormal
			d.PointBackground[i] = ColorPrimary
			d.PointBorder[i] = ColorSecondary
			d.PointBorderWidth[i] = BorderNormal
		}
	}
	return d
}

// referenceLines picks the threshold lines for the definition's condition:
// the setpoint for above/below, low and high for the range conditions.
// Bounds that are absent or not finite are left out.
func referenceLines(def *telemetry.AlarmDefinition, n int) []Dataset {
	if def == nil {
		return nil
	}
	cond := def.Condition()
	var out []Dataset
	switch {
	case cond.IsSetpoint():
		if def.Setpoint.Finite() {
			out = append(out, flatLine(KindSetpoint, "Setpoint", def.Setpoint.Value, ColorSetpoint, n))
		}
	case cond.IsRange():
		if low := def.LowBound(); low.Finite() {
			out = append(out, flatLine(KindLow, "Low", low.Value, ColorLow, n))
		}
		if high := def.HighBound(); high.Finite() {
			out = append(out, flatLine(KindHigh, "High", high.Value, ColorAlarm, n))
		}
	}
	return out
}

func flatLine(kind, name string, v float64, color Color, n int) Dataset {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return Dataset{
		Kind:        kind,
		Label:       name + " (" + telemetry.FormatValue(v, "") + ")",
		Values:      values,
		BorderColor: color,
		BorderWidth: LimitBorderWidth,
		BorderDash:  LimitDash,
	}
}

// Bounds returns the min and max over every finite value in the spec.
func (s *Spec) Bounds() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, d := range s.Datasets {
		for _, v := range d.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			ok = true
		}
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
