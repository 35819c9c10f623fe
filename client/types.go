package client

import (
	"encoding/json"
	"strconv"

	"floorview/layout"
	"floorview/telemetry"
)

// Totals are the plant-wide counters of the dashboard summary.
type Totals struct {
	Devices      int `json:"total_clps"`
	Online       int `json:"online_clps"`
	Offline      int `json:"offline_clps"`
	Inactive     int `json:"inactive_clps"`
	Registers    int `json:"total_registers"`
	ActiveAlarms int `json:"active_alarms"`
	ActiveVLANs  int `json:"active_vlans"`
	LogsLast24h  int `json:"logs_last_24h"`
}

// DayCount is one bar of the log volume histogram.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// OfflineDevice is an active device that is not communicating.
type OfflineDevice struct {
	ID       telemetry.ID `json:"id"`
	Name     string       `json:"name"`
	IP       string       `json:"ip"`
	VLANID   telemetry.ID `json:"vlan_id"`
	LastSeen string       `json:"last_seen"`
	Reason   string       `json:"reason"`
	Location string       `json:"location"`
}

// Summary is the response of GET /api/dashboard/summary.
type Summary struct {
	Totals           Totals          `json:"totals"`
	LogVolume        []DayCount      `json:"log_volume"`
	AlarmsByPriority map[string]int  `json:"alarms_by_priority"`
	OfflineDevices   []OfflineDevice `json:"offline_clps"`
}

// VLANSummary aggregates the devices of one network segment.
type VLANSummary struct {
	Status      string        `json:"status"`
	StatusLabel string        `json:"status_label"`
	DeviceCount int           `json:"plc_count"`
	Devices     []interface{} `json:"plcs"`
}

// LayoutEnvelope wraps the diagram graph on GET and PUT.
type LayoutEnvelope struct {
	Layout      layout.Graph           `json:"layout"`
	VLANs       map[string]VLANSummary `json:"vlan_summary,omitempty"`
	GeneratedAt string                 `json:"generated_at,omitempty"`
}

// DeviceSummary is one entry of the device collection.
type DeviceSummary struct {
	ID          telemetry.ID `json:"id"`
	Name        string       `json:"name"`
	IP          string       `json:"ip"`
	Status      string       `json:"status"`
	StatusLabel string       `json:"status_label"`
	AlarmCount  int          `json:"alarm_count"`
	Protocol    string       `json:"protocol"`
	VLANID      telemetry.ID `json:"vlan_id"`
	Location    string       `json:"location"`
	LastRead    string       `json:"last_read"`
}

type deviceList struct {
	Devices []DeviceSummary `json:"plcs"`
}

// DeviceInfo is the header of a device detail.
type DeviceInfo struct {
	ID          telemetry.ID `json:"id"`
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	StatusLabel string       `json:"status_label"`
	Protocol    string       `json:"protocol"`
	IPAddress   string       `json:"ip_address"`
	VLANID      telemetry.ID `json:"vlan_id"`
	Location    string       `json:"location"`
	LastSeen    string       `json:"last_seen"`
	Description string       `json:"description"`
	LastLog     string       `json:"last_log"`
}

// RegisterStatus is a register row of a device detail.
type RegisterStatus struct {
	ID          telemetry.ID       `json:"id"`
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	StatusLabel string             `json:"status_label"`
	Tag         string             `json:"tag"`
	Address     string             `json:"address"`
	DataType    string             `json:"data_type"`
	Unit        string             `json:"unit"`
	LastValue   telemetry.Optional `json:"last_value"`
	LastRead    string             `json:"last_read"`
	Description string             `json:"description"`
}

// LogEntry is a recent data log row of a device detail.
type LogEntry struct {
	ID        telemetry.ID       `json:"id"`
	Timestamp string             `json:"timestamp"`
	Register  string             `json:"register"`
	Value     telemetry.Optional `json:"value"`
	Quality   string             `json:"quality"`
}

// AlarmEntry is a recent alarm row of a device detail.
type AlarmEntry struct {
	ID          telemetry.ID `json:"id"`
	Message     string       `json:"message"`
	Priority    string       `json:"priority"`
	State       string       `json:"state"`
	Register    string       `json:"register"`
	TriggeredAt string       `json:"triggered_at"`
}

// DeviceDetail is the response of GET /api/dashboard/clps/{id}. Telemetry,
// when sent, maps register ids to recent samples and seeds the charts.
type DeviceDetail struct {
	Device    DeviceInfo                    `json:"plc"`
	Registers []RegisterStatus              `json:"registers"`
	Logs      []LogEntry                    `json:"logs"`
	Alarms    []AlarmEntry                  `json:"alarms"`
	Telemetry map[string][]telemetry.Sample `json:"telemetry,omitempty"`
}

// Register returns the register row with the given id.
func (d *DeviceDetail) Register(id string) (RegisterStatus, bool) {
	for _, r := range d.Registers {
		if string(r.ID) == id {
			return r, true
		}
	}
	return RegisterStatus{}, false
}

// TrendRegister identifies the register of a trend.
type TrendRegister struct {
	ID   telemetry.ID `json:"id"`
	Name string       `json:"name"`
	Unit string       `json:"unit"`
}

// TrendPoint is one stored reading.
type TrendPoint struct {
	Timestamp string             `json:"timestamp"`
	Value     telemetry.Optional `json:"value"`
	Raw       json.RawMessage    `json:"raw,omitempty"`
	Quality   string             `json:"quality"`
}

// Trend is the response of GET /api/hmi/register/{id}/trend, oldest first.
type Trend struct {
	Register TrendRegister `json:"register"`
	Points   []TrendPoint  `json:"points"`
}

// Samples converts the trend to telemetry samples for the register.
func (t *Trend) Samples() []telemetry.Sample {
	out := make([]telemetry.Sample, 0, len(t.Points))
	for _, p := range t.Points {
		s := telemetry.Sample{
			RegisterID: t.Register.ID,
			Timestamp:  p.Timestamp,
			Unit:       t.Register.Unit,
			Quality:    p.Quality,
		}
		switch {
		case p.Value.Finite():
			s.ValueFloat = json.RawMessage(strconv.FormatFloat(p.Value.Value, 'g', -1, 64))
		case len(p.Raw) > 0 && string(p.Raw) != "null":
			s.RawValue = p.Raw
		}
		out = append(out, s)
	}
	return out
}

// Command is a manual command request.
type Command struct {
	Value float64 `json:"value"`
	Note  string  `json:"note"`
	Type  string  `json:"command_type"`
}

// CommandResult is the backend's answer to a manual command.
type CommandResult struct {
	Message   string                 `json:"message,omitempty"`
	Command   map[string]interface{} `json:"command,omitempty"`
	DataLogID telemetry.ID           `json:"datalog_id,omitempty"`
}
