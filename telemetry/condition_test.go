package telemetry

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		input    string
		expected ConditionType
	}{
		{"above", CondAbove},
		{"ABOVE", CondAbove},
		{" Below ", CondBelow},
		{"Outside_Range", CondOutsideRange},
		{"inside_range", CondInsideRange},
		{"equals", ConditionType("equals")},
		{"", ConditionType("")},
	}

	for _, tc := range tests {
		if got := ParseCondition(tc.input); got != tc.expected {
			t.Errorf("ParseCondition(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		def      *AlarmDefinition
		expected bool
	}{
		{"above violates", 5, &AlarmDefinition{ConditionType: CondAbove, Setpoint: Some(3)}, true},
		{"below does not violate", 5, &AlarmDefinition{ConditionType: CondBelow, Setpoint: Some(3)}, false},
		{"outside range violates", 10, &AlarmDefinition{ConditionType: CondOutsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, true},
		{"inside range violates", 3, &AlarmDefinition{ConditionType: CondInsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, true},
		{"above equal setpoint", 3, &AlarmDefinition{ConditionType: CondAbove, Setpoint: Some(3)}, false},
		{"below violates", 1, &AlarmDefinition{ConditionType: CondBelow, Setpoint: Some(3)}, true},
		{"above without setpoint", 5, &AlarmDefinition{ConditionType: CondAbove}, false},
		{"outside range within", 4, &AlarmDefinition{ConditionType: CondOutsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, false},
		{"outside range below low", -1, &AlarmDefinition{ConditionType: CondOutsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, true},
		{"outside range missing high", 10, &AlarmDefinition{ConditionType: CondOutsideRange, ThresholdLow: Some(0)}, false},
		{"inside range at bounds", 5, &AlarmDefinition{ConditionType: CondInsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, true},
		{"inside range outside", 6, &AlarmDefinition{ConditionType: CondInsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, false},
		{"inside range NaN bound", 3, &AlarmDefinition{ConditionType: CondInsideRange, ThresholdLow: Some(math.NaN()), ThresholdHigh: Some(5)}, false},
		{"inside range infinite bound", 3, &AlarmDefinition{ConditionType: CondInsideRange, ThresholdLow: Some(math.Inf(-1)), ThresholdHigh: Some(5)}, false},
		{"legacy low/high", 10, &AlarmDefinition{ConditionType: CondOutsideRange, Low: Some(0), High: Some(5)}, true},
		{"upper case condition", 5, &AlarmDefinition{ConditionType: "ABOVE", Setpoint: Some(3)}, true},
		{"unknown condition", 5, &AlarmDefinition{ConditionType: "equals", Setpoint: Some(5)}, false},
		{"nil definition", 5, nil, false},
		{"NaN above", math.NaN(), &AlarmDefinition{ConditionType: CondAbove, Setpoint: Some(3)}, false},
		{"NaN below", math.NaN(), &AlarmDefinition{ConditionType: CondBelow, Setpoint: Some(3)}, false},
		{"NaN outside range", math.NaN(), &AlarmDefinition{ConditionType: CondOutsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5)}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.value, tc.def); got != tc.expected {
				t.Errorf("Evaluate(%v) = %v, want %v", tc.value, got, tc.expected)
			}
		})
	}
}

func TestAlarmDefinition_UnmarshalJSON(t *testing.T) {
	data := `{"id": 7, "register_id": 12, "condition_type": "Outside_Range",
		"setpoint": null, "threshold_low": "1.5", "threshold_high": 9, "unit": "bar"}`

	var def AlarmDefinition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if def.ID != "7" || def.RegisterID != "12" {
		t.Errorf("ids = %q/%q, want 7/12", def.ID, def.RegisterID)
	}
	if def.Condition() != CondOutsideRange {
		t.Errorf("Condition() = %q", def.Condition())
	}
	if def.Setpoint.Valid {
		t.Error("setpoint should be absent")
	}
	if v, ok := def.LowBound().Get(); !ok || v != 1.5 {
		t.Errorf("LowBound() = %v, %v", v, ok)
	}
	if v, ok := def.HighBound().Get(); !ok || v != 9 {
		t.Errorf("HighBound() = %v, %v", v, ok)
	}
	if !Evaluate(10, &def) {
		t.Error("10 should violate [1.5, 9]")
	}
}

func TestAlarmDefinition_Describe(t *testing.T) {
	tests := []struct {
		def      *AlarmDefinition
		expected string
	}{
		{nil, "(none)"},
		{&AlarmDefinition{ConditionType: CondAbove, Setpoint: Some(3)}, "above 3"},
		{&AlarmDefinition{ConditionType: CondOutsideRange, ThresholdLow: Some(0), ThresholdHigh: Some(5.5)}, "outside_range [0, 5.5]"},
		{&AlarmDefinition{ConditionType: CondInsideRange, ThresholdHigh: Some(2)}, "inside_range [-, 2]"},
	}

	for _, tc := range tests {
		if got := tc.def.Describe(); got != tc.expected {
			t.Errorf("Describe() = %q, want %q", got, tc.expected)
		}
	}
}

func TestOptional_MarshalJSON(t *testing.T) {
	tests := []struct {
		in       Optional
		expected string
	}{
		{Some(2.5), "2.5"},
		{Optional{}, "null"},
		{Some(math.NaN()), "null"},
	}

	for _, tc := range tests {
		b, err := json.Marshal(tc.in)
		if err != nil {
			t.Fatalf("Marshal error: %v", err)
		}
		if string(b) != tc.expected {
			t.Errorf("Marshal(%+v) = %s, want %s", tc.in, b, tc.expected)
		}
	}
}
