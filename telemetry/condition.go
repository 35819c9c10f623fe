package telemetry

import (
	"math"
	"strings"
)

// ConditionType selects how an alarm definition judges a value.
type ConditionType string

const (
	CondAbove        ConditionType = "above"
	CondBelow        ConditionType = "below"
	CondOutsideRange ConditionType = "outside_range"
	CondInsideRange  ConditionType = "inside_range"
)

// ParseCondition normalizes a backend condition string.
// Unknown values are returned as-is and never violate.
func ParseCondition(s string) ConditionType {
	return ConditionType(strings.ToLower(strings.TrimSpace(s)))
}

// IsRange reports whether the condition uses the low/high thresholds.
func (c ConditionType) IsRange() bool {
	return c == CondOutsideRange || c == CondInsideRange
}

// IsSetpoint reports whether the condition uses the setpoint.
func (c ConditionType) IsSetpoint() bool {
	return c == CondAbove || c == CondBelow
}

// AlarmDefinition is the alarm rule attached to a register.
type AlarmDefinition struct {
	ID            ID            `json:"id,omitempty"`
	RegisterID    ID            `json:"register_id"`
	Name          string        `json:"name,omitempty"`
	ConditionType ConditionType `json:"condition_type"`
	Setpoint      Optional      `json:"setpoint"`
	ThresholdLow  Optional      `json:"threshold_low"`
	ThresholdHigh Optional      `json:"threshold_high"`
	Unit          string        `json:"unit,omitempty"`

	// Older payloads carry the range as low/high.
	Low  Optional `json:"low"`
	High Optional `json:"high"`
}

// Condition returns the normalized condition type.
func (d *AlarmDefinition) Condition() ConditionType {
	return ParseCondition(string(d.ConditionType))
}

// LowBound returns threshold_low, falling back to low.
func (d *AlarmDefinition) LowBound() Optional {
	if d.ThresholdLow.Valid {
		return d.ThresholdLow
	}
	return d.Low
}

// HighBound returns threshold_high, falling back to high.
func (d *AlarmDefinition) HighBound() Optional {
	if d.ThresholdHigh.Valid {
		return d.ThresholdHigh
	}
	return d.High
}

// Evaluate reports whether value violates def. NaN never violates, a nil
// definition never violates, and range conditions need both bounds finite.
func Evaluate(value float64, def *AlarmDefinition) bool {
	if def == nil || math.IsNaN(value) {
		return false
	}

	switch def.Condition() {
	case CondAbove:
		sp, ok := def.Setpoint.Get()
		return ok && value > sp
	case CondBelow:
		sp, ok := def.Setpoint.Get()
		return ok && value < sp
	case CondOutsideRange:
		low, high := def.LowBound(), def.HighBound()
		if !low.Finite() || !high.Finite() {
			return false
		}
		return value < low.Value || value > high.Value
	case CondInsideRange:
		low, high := def.LowBound(), def.HighBound()
		if !low.Finite() || !high.Finite() {
			return false
		}
		return value >= low.Value && value <= high.Value
	default:
		return false
	}
}

// Describe returns a short human-readable rule, e.g. "above 3".
func (d *AlarmDefinition) Describe() string {
	if d == nil {
		return "(none)"
	}
	c := d.Condition()
	switch {
	case c.IsSetpoint() && d.Setpoint.Valid:
		return string(c) + " " + formatNumber(d.Setpoint.Value)
	case c.IsRange():
		return string(c) + " [" + formatOptional(d.LowBound()) + ", " + formatOptional(d.HighBound()) + "]"
	default:
		return string(c)
	}
}

func formatOptional(o Optional) string {
	if !o.Valid {
		return "-"
	}
	return formatNumber(o.Value)
}
