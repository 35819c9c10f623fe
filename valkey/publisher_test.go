package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"floorview/config"
	"floorview/layout"
	"floorview/telemetry"
	"floorview/viewport"
)

func newTestPublisher(selector string) *Publisher {
	return NewPublisher(&config.ValkeyConfig{
		Name:     "test",
		Address:  "localhost:6379",
		Selector: selector,
	}, "plant")
}

// TestViolationMessage_Structure tests the violation JSON structure.
func TestViolationMessage_Structure(t *testing.T) {
	pub := newTestPublisher("line1")
	ts := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	msg := pub.NewViolationMessage("3", telemetry.Violation{
		RegisterID: "12",
		Name:       "Pressure",
		Value:      4.5,
		Display:    "4.5 bar",
		Unit:       "bar",
		Definition: &telemetry.AlarmDefinition{ConditionType: "above", Setpoint: telemetry.Some(4)},
		Entered:    true,
		Timestamp:  ts,
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	requiredFields := []string{"factory", "device", "register", "name", "value", "display", "condition", "violated", "timestamp"}
	for _, field := range requiredFields {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if decoded["factory"] != "plant:line1" {
		t.Errorf("factory = %v", decoded["factory"])
	}
	if decoded["condition"] != "above 4" {
		t.Errorf("condition = %v", decoded["condition"])
	}
	if decoded["value"] != 4.5 {
		t.Errorf("value = %v", decoded["value"])
	}
	if decoded["timestamp"] != "2024-03-01T12:00:05Z" {
		t.Errorf("timestamp = %v", decoded["timestamp"])
	}
}

// TestNullValueHandling checks that a NaN reading is stored as null.
func TestNullValueHandling(t *testing.T) {
	msg := newTestPublisher("").NewViolationMessage("3", telemetry.Violation{RegisterID: "1", Value: math.NaN()})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	if v, ok := decoded["value"]; !ok || v != nil {
		t.Errorf("expected null value, got %v (present %v)", v, ok)
	}
	if decoded["condition"] != "(none)" {
		t.Errorf("condition = %v", decoded["condition"])
	}
}

func newTestStore(t *testing.T) *telemetry.Store {
	t.Helper()
	store := telemetry.NewStore(telemetry.Options{MaxPoints: 10, LabelFormat: "15:04:05", Location: time.UTC})
	store.Apply(&telemetry.Payload{
		Registers: map[string]telemetry.RegisterInfo{"1": {Name: "Pressure"}},
		Data: []telemetry.Sample{
			{RegisterID: "1", Timestamp: "2024-03-01T12:00:00Z", ValueFloat: json.RawMessage("2"), Unit: "bar"},
			{RegisterID: "1", Timestamp: "2024-03-01T12:00:04Z", ValueFloat: json.RawMessage("5"), Unit: "bar"},
		},
		Definitions: []telemetry.AlarmDefinition{{RegisterID: "1", ConditionType: "above", Setpoint: telemetry.Some(3)}},
		Alarms:      []telemetry.ActiveAlarm{{RegisterID: "1", Message: "high", State: "active"}},
	})
	return store
}

// TestSnapshot_RoundTrip encodes a store snapshot with msgpack and back.
func TestSnapshot_RoundTrip(t *testing.T) {
	snap := NewSnapshot("3", newTestStore(t))

	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Device != "3" {
		t.Errorf("device = %q", got.Device)
	}
	if len(got.Readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(got.Readings))
	}
	r := got.Readings[0]
	if r.Name != "Pressure" || r.Value != 5 || !r.Violated || r.Condition != "above 3" {
		t.Errorf("reading = %+v", r)
	}
	series := got.Series["1"]
	if len(series) != 2 {
		t.Fatalf("expected 2 points, got %d", len(series))
	}
	if series[0].Label != "12:00:00" || series[0].Violated {
		t.Errorf("first point = %+v", series[0])
	}
	if !series[1].Violated {
		t.Error("second point should be violated")
	}
	if len(got.Alarms) != 1 || got.Alarms[0].Message != "high" {
		t.Errorf("alarms = %+v", got.Alarms)
	}
}

// TestSnapshot_NaN keeps NaN values through msgpack.
func TestSnapshot_NaN(t *testing.T) {
	data, err := EncodeSnapshot(Snapshot{
		Device: "3",
		Series: map[string][]SnapshotPoint{"1": {{Label: "a", Value: math.NaN()}}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !math.IsNaN(got.Series["1"][0].Value) {
		t.Errorf("expected NaN, got %v", got.Series["1"][0].Value)
	}
}

// TestLayout_RoundTrip caches only the saveable part of a diagram.
func TestLayout_RoundTrip(t *testing.T) {
	g := layout.Graph{
		Nodes: []layout.Node{
			{ID: "A", Type: "plc", Position: viewport.Point{X: 10, Y: 20}, Label: "display only"},
			{ID: "B", Type: "device", Position: viewport.Point{X: 30, Y: 40}},
			{ID: "", Type: "device"},
		},
		Connections: []layout.Connection{{Source: "A", Target: "B"}},
	}

	data, err := EncodeLayout(g)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeLayout(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(got.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(got.Nodes))
	}
	if got.Nodes[0].Position != (viewport.Point{X: 10, Y: 20}) || got.Nodes[1].Position != (viewport.Point{X: 30, Y: 40}) {
		t.Errorf("positions = %v, %v", got.Nodes[0].Position, got.Nodes[1].Position)
	}
	if got.Nodes[0].Label != "" {
		t.Errorf("display field should not be cached, got %q", got.Nodes[0].Label)
	}
	if len(got.Connections) != 1 || got.Connections[0].Type != layout.DefaultConnectionType {
		t.Errorf("connections = %+v", got.Connections)
	}
}

// TestProcessCommand tests command queue request handling.
func TestProcessCommand(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		handler     CommandHandler
		wantSuccess bool
		wantError   string
		wantMessage string
	}{
		{
			name:      "invalid json",
			raw:       `{not json`,
			wantError: "invalid command request",
		},
		{
			name:      "missing register",
			raw:       `{"value": 3, "note": "raise setpoint"}`,
			handler:   func(context.Context, CommandRequest) (string, error) { return "ok", nil },
			wantError: "register is required",
		},
		{
			name:      "no handler",
			raw:       `{"register": 12, "value": 3, "note": "raise setpoint"}`,
			wantError: "no command handler configured",
		},
		{
			name: "handler error",
			raw:  `{"register": "12", "value": 3, "note": "x"}`,
			handler: func(context.Context, CommandRequest) (string, error) {
				return "", errors.New("note must have at least 5 characters")
			},
			wantError: "note must have at least 5 characters",
		},
		{
			name: "success",
			raw:  `{"request_id": "r1", "register": 12, "value": 3.5, "note": "raise setpoint"}`,
			handler: func(_ context.Context, req CommandRequest) (string, error) {
				if req.Register != "12" || req.Value != 3.5 || req.Note != "raise setpoint" {
					return "", errors.New("unexpected request")
				}
				return "Command registered", nil
			},
			wantSuccess: true,
			wantMessage: "Command registered",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := newTestPublisher("")
			pub.SetCommandHandler(tc.handler)

			resp := pub.processCommand([]byte(tc.raw))
			if resp.Success != tc.wantSuccess {
				t.Errorf("success = %v, want %v (error %q)", resp.Success, tc.wantSuccess, resp.Error)
			}
			if tc.wantError != "" && !strings.Contains(resp.Error, tc.wantError) {
				t.Errorf("error = %q, want %q", resp.Error, tc.wantError)
			}
			if resp.Message != tc.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tc.wantMessage)
			}
			if resp.Factory != "plant" {
				t.Errorf("factory = %q", resp.Factory)
			}
		})
	}
}

// TestPublisher_NotRunning tests calls on a disconnected publisher.
func TestPublisher_NotRunning(t *testing.T) {
	pub := newTestPublisher("")
	ctx := context.Background()

	if err := pub.PublishViolation("3", telemetry.Violation{RegisterID: "1"}); err != nil {
		t.Errorf("publish should be a no-op, got %v", err)
	}
	if err := pub.StoreSnapshot(ctx, Snapshot{Device: "3"}); err != nil {
		t.Errorf("snapshot should be a no-op, got %v", err)
	}
	if _, err := pub.LoadLayout(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if err := pub.Stop(); err != nil {
		t.Errorf("stop on stopped publisher: %v", err)
	}
}

// TestPublisher_Address tests address formatting.
func TestPublisher_Address(t *testing.T) {
	pub := newTestPublisher("")
	if got := pub.Address(); got != "redis://localhost:6379" {
		t.Errorf("address = %q", got)
	}
	pub.config.UseTLS = true
	if got := pub.Address(); got != "rediss://localhost:6379" {
		t.Errorf("tls address = %q", got)
	}
}

// TestManager tests publisher bookkeeping without a server.
func TestManager(t *testing.T) {
	m := NewManager("plant")
	m.LoadFromConfig([]config.ValkeyConfig{{Name: "a"}, {Name: "b"}})

	var called bool
	m.SetCommandHandler(func(context.Context, CommandRequest) (string, error) {
		called = true
		return "ok", nil
	})
	resp := m.Get("a").processCommand([]byte(`{"register": 1, "value": 2, "note": "hello"}`))
	if !called || !resp.Success {
		t.Error("handler should propagate to existing publishers")
	}

	late := m.Add(&config.ValkeyConfig{Name: "c"})
	called = false
	late.processCommand([]byte(`{"register": 1, "value": 2, "note": "hello"}`))
	if !called {
		t.Error("handler should apply to publishers added later")
	}

	if !m.Remove("b") || m.Remove("b") {
		t.Error("remove should succeed once")
	}
	if len(m.List()) != 2 {
		t.Errorf("expected 2 publishers, got %d", len(m.List()))
	}
	if m.AnyRunning() {
		t.Error("nothing should be running")
	}
	if _, ok := m.LoadLayout(context.Background()); ok {
		t.Error("no layout without a running server")
	}
	if n := m.StartAll(); n != 0 {
		t.Errorf("disabled publishers should not start, got %d", n)
	}
}
