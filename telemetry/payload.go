package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Sample is one raw reading as sent by the backend.
type Sample struct {
	ID         ID              `json:"id,omitempty"`
	RegisterID ID              `json:"register_id"`
	Timestamp  string          `json:"timestamp"`
	ValueFloat json.RawMessage `json:"value_float,omitempty"`
	ValueInt   json.RawMessage `json:"value_int,omitempty"`
	RawValue   json.RawMessage `json:"raw_value,omitempty"`
	Unit       string          `json:"unit,omitempty"`
	Quality    string          `json:"quality,omitempty"`
}

// Value coerces the sample to a number from the first present field among
// value_float, value_int and raw_value. It returns NaN when no field is
// present or the first present one does not parse.
func (s *Sample) Value() float64 {
	for _, raw := range []json.RawMessage{s.ValueFloat, s.ValueInt, s.RawValue} {
		if rawPresent(raw) {
			return rawFloat(raw)
		}
	}
	return math.NaN()
}

// timestampLayouts are the formats the backend has been seen to emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp. Zone-less values are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).In(loc), true
	}
	return time.Time{}, false
}

// RegisterInfo describes a register listed in a poll payload. The backend
// sends either a bare display name or an object.
type RegisterInfo struct {
	Name    string `json:"name"`
	Tag     string `json:"tag,omitempty"`
	TagName string `json:"tag_name,omitempty"`
	Address string `json:"address,omitempty"`
	Unit    string `json:"unit,omitempty"`
}

// UnmarshalJSON accepts a string name or an object.
func (r *RegisterInfo) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*r = RegisterInfo{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = RegisterInfo{Name: name}
		return nil
	}
	type plain RegisterInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RegisterInfo(p)
	return nil
}

// DisplayName returns the best label for the register.
func (r RegisterInfo) DisplayName(id string) string {
	switch {
	case r.Name != "":
		return r.Name
	case r.TagName != "":
		return r.TagName
	case r.Tag != "":
		return r.Tag
	default:
		return id
	}
}

// ActiveAlarm is an alarm log entry from the backend.
type ActiveAlarm struct {
	ID          ID     `json:"id,omitempty"`
	RegisterID  ID     `json:"register_id"`
	Message     string `json:"message"`
	State       string `json:"state"`
	TriggeredAt string `json:"triggered_at"`
	Priority    string `json:"priority,omitempty"`
}

// Active reports whether the alarm is still raised.
func (a ActiveAlarm) Active() bool {
	return strings.EqualFold(a.State, "active")
}

// Payload is the telemetry poll response for one device.
type Payload struct {
	DeviceID    ID                      `json:"clp_id"`
	Registers   map[string]RegisterInfo `json:"registers"`
	Data        []Sample                `json:"data"`
	Definitions []AlarmDefinition       `json:"definitions_alarms"`
	Alarms      []ActiveAlarm           `json:"alarms"`
}
