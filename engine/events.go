package engine

import (
	"time"

	"floorview/chart"
	"floorview/client"
	"floorview/layout"
	"floorview/pointer"
	"floorview/telemetry"
	"floorview/viewport"
)

// EventType identifies the kind of event emitted on an EventBus.
type EventType int

const (
	// Console events
	EventLayoutLoaded EventType = iota + 1
	EventLayoutSaved
	EventNodeMoved
	EventViewportChanged
	EventSelectionChanged
	EventEditModeChanged
	EventStatus

	// Data events
	EventSummaryLoaded
	EventDevicesLoaded
	EventDetailLoaded
	EventViewOpened
	EventViewClosed
	EventChartUpdated
	EventReadingsUpdated
	EventViolation
	EventPollFailed
	EventCommandSubmitted

	// Sink events
	EventMQTTCreated
	EventMQTTUpdated
	EventMQTTDeleted
	EventMQTTStarted
	EventMQTTStopped
	EventValkeyCreated
	EventValkeyUpdated
	EventValkeyDeleted
	EventValkeyStarted
	EventValkeyStopped
	EventKafkaCreated
	EventKafkaUpdated
	EventKafkaDeleted
	EventKafkaConnected
	EventKafkaDisconnected

	// System events
	EventNamespaceChanged
	EventSettingsChanged
	EventConsoleOpened
	EventConsoleClosed
)

var eventNames = map[EventType]string{
	EventLayoutLoaded:      "layout",
	EventLayoutSaved:       "layout_saved",
	EventNodeMoved:         "node_moved",
	EventViewportChanged:   "viewport",
	EventSelectionChanged:  "selection",
	EventEditModeChanged:   "edit_mode",
	EventStatus:            "status",
	EventSummaryLoaded:     "summary",
	EventDevicesLoaded:     "devices",
	EventDetailLoaded:      "detail",
	EventViewOpened:        "view_opened",
	EventViewClosed:        "view_closed",
	EventChartUpdated:      "chart",
	EventReadingsUpdated:   "readings",
	EventViolation:         "violation",
	EventPollFailed:        "poll_failed",
	EventCommandSubmitted:  "command",
	EventMQTTCreated:       "mqtt_created",
	EventMQTTUpdated:       "mqtt_updated",
	EventMQTTDeleted:       "mqtt_deleted",
	EventMQTTStarted:       "mqtt_started",
	EventMQTTStopped:       "mqtt_stopped",
	EventValkeyCreated:     "valkey_created",
	EventValkeyUpdated:     "valkey_updated",
	EventValkeyDeleted:     "valkey_deleted",
	EventValkeyStarted:     "valkey_started",
	EventValkeyStopped:     "valkey_stopped",
	EventKafkaCreated:      "kafka_created",
	EventKafkaUpdated:      "kafka_updated",
	EventKafkaDeleted:      "kafka_deleted",
	EventKafkaConnected:    "kafka_connected",
	EventKafkaDisconnected: "kafka_disconnected",
	EventNamespaceChanged:  "namespace",
	EventSettingsChanged:   "settings",
	EventConsoleOpened:     "console_opened",
	EventConsoleClosed:     "console_closed",
}

// String returns the wire name of the event type.
func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is the envelope emitted by an EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// LayoutEvent carries the full diagram after a load or save.
type LayoutEvent struct {
	Graph    layout.Graph     `json:"graph"`
	Segments []layout.Segment `json:"segments"`
	EditMode bool             `json:"edit_mode"`
	Editable bool             `json:"editable"`
}

// NodeMovedEvent carries a drag step and the connections it moved.
type NodeMovedEvent struct {
	NodeID    string           `json:"node_id"`
	Position  viewport.Point   `json:"position"`
	Segments  []layout.Segment `json:"segments"`
	Committed bool             `json:"committed"`
}

// ViewportEvent carries the transform after a pan or zoom.
type ViewportEvent struct {
	Viewport viewport.State `json:"viewport"`
	Percent  int            `json:"percent"`
}

// SelectionEvent carries the selected node, if any.
type SelectionEvent struct {
	NodeID string          `json:"node_id"`
	Lookup *pointer.Lookup `json:"lookup,omitempty"`
}

// EditModeEvent carries the edit mode flag.
type EditModeEvent struct {
	EditMode bool `json:"edit_mode"`
}

// DetailEvent carries a loaded device detail.
type DetailEvent struct {
	Detail *client.DeviceDetail `json:"detail"`
	Focus  string               `json:"focus,omitempty"`
}

// ViewEvent identifies the device of the live view.
type ViewEvent struct {
	View View `json:"view"`
}

// ChartEvent carries one updated chart widget.
type ChartEvent struct {
	Widget  chart.Widget `json:"widget"`
	Created bool         `json:"created"`
}

// ReadingsEvent carries the latest values and the active alarm log.
type ReadingsEvent struct {
	Device   string                  `json:"device"`
	Readings []telemetry.Reading     `json:"readings"`
	Alarms   []telemetry.ActiveAlarm `json:"alarms"`
}

// ViolationEvent carries one violation transition.
type ViolationEvent struct {
	Device    string              `json:"device"`
	Violation telemetry.Violation `json:"violation"`
}

// PollFailedEvent carries a failed telemetry poll.
type PollFailedEvent struct {
	Device string `json:"device"`
	Error  string `json:"error"`
}

// CommandEvent carries the result of a manual command.
type CommandEvent struct {
	RegisterID string                `json:"register_id"`
	Result     *client.CommandResult `json:"result"`
}

// ServiceEvent is the payload for MQTT/Valkey/Kafka lifecycle events.
type ServiceEvent struct {
	Name string `json:"name"`
}

// SystemEvent is the payload for system-level events.
type SystemEvent struct {
	Detail string `json:"detail"`
}
