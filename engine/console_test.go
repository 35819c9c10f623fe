package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"floorview/client"
	"floorview/config"
	"floorview/layout"
	"floorview/pointer"
	"floorview/telemetry"
	"floorview/valkey"
	"floorview/viewport"
)

// fakeBackend is an in-memory Backend. Device lookups for ids in gates
// block until the gate channel is closed.
type fakeBackend struct {
	mu sync.Mutex

	graph     layout.Graph
	layoutErr error
	putErr    error
	puts      []layout.Graph

	devices []client.DeviceSummary
	details map[string]*client.DeviceDetail
	gates   map[string]chan struct{}

	payloads []*telemetry.Payload
	pollErr  error
	polls    []string
	onPoll   func()

	trend    *client.Trend
	commands []client.Command
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		graph: layout.Graph{
			Nodes: []layout.Node{
				{ID: "A", Type: "plc", Position: viewport.Point{X: 10, Y: 20}, Metadata: map[string]interface{}{"plc_id": "3"}},
				{ID: "B", Type: "device", Position: viewport.Point{X: 30, Y: 40}},
			},
			Connections: []layout.Connection{{Source: "A", Target: "B"}},
		},
		devices: []client.DeviceSummary{{ID: "3", Name: "Press line"}},
		details: map[string]*client.DeviceDetail{
			"3": {
				Device: client.DeviceInfo{ID: "3", Name: "Press line", IPAddress: "10.0.0.3", VLANID: "7"},
				Telemetry: map[string][]telemetry.Sample{
					"12": {{RegisterID: "12", Timestamp: "2024-03-01T12:00:00Z", ValueFloat: json.RawMessage("2"), Unit: "bar"}},
				},
			},
			"B": {Device: client.DeviceInfo{ID: "B", Name: "Conveyor"}},
		},
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) Summary(ctx context.Context) (*client.Summary, error) {
	return &client.Summary{Totals: client.Totals{Devices: 1}}, nil
}

func (f *fakeBackend) Layout(ctx context.Context) (*client.LayoutEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.layoutErr != nil {
		return nil, f.layoutErr
	}
	return &client.LayoutEnvelope{Layout: f.graph}, nil
}

func (f *fakeBackend) PutLayout(ctx context.Context, g layout.Graph) (layout.Graph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, g)
	if f.putErr != nil {
		return layout.Graph{}, f.putErr
	}
	f.graph = g
	return g, nil
}

func (f *fakeBackend) Devices(ctx context.Context) ([]client.DeviceSummary, error) {
	return f.devices, nil
}

func (f *fakeBackend) Device(ctx context.Context, id string) (*client.DeviceDetail, error) {
	f.mu.Lock()
	gate := f.gates[id]
	d, ok := f.details[id]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, &client.APIError{Method: "GET", Path: "/api/dashboard/clps/" + id, Status: 404, Message: "CLP not found"}
	}
	return d, nil
}

func (f *fakeBackend) Trend(ctx context.Context, registerID string) (*client.Trend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trend == nil {
		return nil, errors.New("no trend")
	}
	return f.trend, nil
}

func (f *fakeBackend) SubmitCommand(ctx context.Context, registerID string, cmd client.Command) (*client.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return &client.CommandResult{Message: "Command registered"}, nil
}

func (f *fakeBackend) PollTelemetry(ctx context.Context, address, vlan string) (*telemetry.Payload, error) {
	f.mu.Lock()
	hook := f.onPoll
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, address+"/"+vlan)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.payloads) == 0 {
		return &telemetry.Payload{}, nil
	}
	p := f.payloads[0]
	f.payloads = f.payloads[1:]
	return p, nil
}

// recordingSink counts what a console hands to the publishers.
type recordingSink struct {
	mu         sync.Mutex
	violations []telemetry.Violation
	statuses   []error
	snapshots  []valkey.Snapshot
	layouts    []layout.Graph
}

func (s *recordingSink) Violation(device string, v telemetry.Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, v)
}

func (s *recordingSink) Alarms(string, []telemetry.ActiveAlarm) {}

func (s *recordingSink) Status(device string, pollErr error, added int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, pollErr)
}

func (s *recordingSink) Snapshot(snap valkey.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordingSink) LayoutSaved(g layout.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts = append(s.layouts, g)
}

func newTestConsole(t *testing.T, b Backend, role string) *Console {
	t.Helper()
	c := NewConsole(b, ConsoleOptions{
		ID:           "test",
		Role:         role,
		PollInterval: time.Hour,
		LabelFormat:  "15:04:05",
		Location:     time.UTC,
	})
	t.Cleanup(c.Close)
	return c
}

func pt(x, y float64) viewport.Point { return viewport.Point{X: x, Y: y} }

func positions(g layout.Graph) map[string]viewport.Point {
	out := make(map[string]viewport.Point, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n.Position
	}
	return out
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsoleOpen(t *testing.T) {
	b := newFakeBackend()
	c := NewConsole(b, ConsoleOptions{ID: "c1", Role: config.RoleViewer, PollInterval: time.Hour, Device: "3", Location: time.UTC})
	defer c.Close()

	var loaded []EventType
	var mu sync.Mutex
	c.Events.Subscribe(func(e Event) {
		mu.Lock()
		loaded = append(loaded, e.Type)
		mu.Unlock()
	})

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	d := c.Diagram()
	if got := positions(d.Graph); got["A"] != pt(10, 20) || got["B"] != pt(30, 40) {
		t.Errorf("positions = %v", got)
	}
	if len(d.Segments) != 1 {
		t.Errorf("expected 1 segment, got %d", len(d.Segments))
	}
	if d.Editable {
		t.Error("viewer console should not be editable")
	}
	if c.Summary() == nil || len(c.Devices()) != 1 {
		t.Error("summary and devices should be loaded")
	}

	view, ok := c.View()
	if !ok || view.Address != "10.0.0.3" || view.VLAN != "7" || view.Name != "Press line" {
		t.Errorf("view = %+v, %v", view, ok)
	}
	if _, ok := c.Chart("12"); !ok {
		t.Error("detail telemetry should seed a chart")
	}
	waitFor(t, "first poll", func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.polls) > 0
	})
	b.mu.Lock()
	if b.polls[0] != "10.0.0.3/7" {
		t.Errorf("poll target = %q", b.polls[0])
	}
	b.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	want := map[EventType]bool{EventSummaryLoaded: true, EventDevicesLoaded: true, EventLayoutLoaded: true, EventViewOpened: true, EventChartUpdated: true}
	for _, typ := range loaded {
		delete(want, typ)
	}
	if len(want) > 0 {
		t.Errorf("missing events: %v", want)
	}
}

func TestConsoleOpen_LayoutFailure(t *testing.T) {
	b := newFakeBackend()
	b.layoutErr = &client.TransportError{Method: "GET", Path: "/api/dashboard/layout", Err: errors.New("connection refused")}
	c := newTestConsole(t, b, config.RoleAdmin)

	if err := c.Open(context.Background()); err == nil {
		t.Fatal("expected layout error")
	}
	if s := c.Status(); s.Variant != VariantError || s.Message != "Failed to load layout: Backend unreachable: connection refused" {
		t.Errorf("status = %+v", s)
	}
}

type staticCache struct{ g layout.Graph }

func (s staticCache) LoadLayout(context.Context) (layout.Graph, bool) { return s.g, true }

func TestConsoleOpen_LayoutFromCache(t *testing.T) {
	b := newFakeBackend()
	b.layoutErr = errors.New("down")
	c := NewConsole(b, ConsoleOptions{Cache: staticCache{g: layout.Graph{Nodes: []layout.Node{{ID: "C", Type: "plc", Position: pt(5, 5)}}}}})
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := positions(c.Diagram().Graph); got["C"] != pt(5, 5) {
		t.Errorf("positions = %v", got)
	}
	if c.Status().Variant != VariantWarning {
		t.Errorf("status = %+v", c.Status())
	}
}

func TestConsoleSaveLayout_RoundTrip(t *testing.T) {
	b := newFakeBackend()
	sink := &recordingSink{}
	c := NewConsole(b, ConsoleOptions{Role: config.RoleAdmin, Sink: sink})
	defer c.Close()
	if err := c.ReloadLayout(context.Background()); err != nil {
		t.Fatalf("ReloadLayout: %v", err)
	}
	if err := c.SetEditMode(true); err != nil {
		t.Fatalf("SetEditMode: %v", err)
	}

	// Drag A by (50, 30) at zoom 1.
	c.HandlePointer(pointer.Event{Kind: pointer.Down, PointerID: 1, Target: "A", Pos: pt(100, 100)})
	res := c.HandlePointer(pointer.Event{Kind: pointer.Move, PointerID: 1, Pos: pt(150, 130)})
	if res.Moved != "A" || res.Position != pt(60, 50) {
		t.Fatalf("move result = %+v", res)
	}
	c.HandlePointer(pointer.Event{Kind: pointer.Up, PointerID: 1, Pos: pt(150, 130)})

	if err := c.SaveLayout(context.Background()); err != nil {
		t.Fatalf("SaveLayout: %v", err)
	}
	if len(b.puts) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(b.puts))
	}
	sent := b.puts[0]
	if got := positions(sent); got["A"] != pt(60, 50) || got["B"] != pt(30, 40) {
		t.Errorf("sent positions = %v", got)
	}
	if len(sent.Connections) != 1 || sent.Connections[0].Type != layout.DefaultConnectionType {
		t.Errorf("sent connections = %+v", sent.Connections)
	}
	if s := c.Status(); s.Message != "Layout saved" || s.Variant != VariantSuccess {
		t.Errorf("status = %+v", s)
	}
	if len(sink.layouts) != 1 {
		t.Error("saved layout should reach the sink")
	}

	// Reload returns the same positions.
	if err := c.ReloadLayout(context.Background()); err != nil {
		t.Fatalf("ReloadLayout: %v", err)
	}
	if got := positions(c.Diagram().Graph); got["A"] != pt(60, 50) {
		t.Errorf("reloaded positions = %v", got)
	}
}

func TestConsoleSaveLayout_Refused(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		editMode   bool
		wantErr    error
		wantStatus string
	}{
		{"edit mode off", config.RoleAdmin, false, layout.ErrEditModeDisabled, "Enable edit mode to save changes"},
		{"viewer", config.RoleViewer, false, ErrForbidden, "Not allowed for your role"},
		{"operator", config.RoleOperator, false, ErrForbidden, "Not allowed for your role"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			c := newTestConsole(t, b, tc.role)
			c.ReloadLayout(context.Background())
			if tc.editMode {
				c.SetEditMode(true)
			}

			err := c.SaveLayout(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if len(b.puts) != 0 {
				t.Error("nothing should be sent")
			}
			if got := c.Status().Message; got != tc.wantStatus {
				t.Errorf("status = %q, want %q", got, tc.wantStatus)
			}
		})
	}
}

func TestConsoleSaveLayout_FailureKeepsGraph(t *testing.T) {
	b := newFakeBackend()
	b.putErr = &client.APIError{Method: "PUT", Path: "/api/dashboard/layout", Status: 400, Message: "Invalid layout"}
	c := newTestConsole(t, b, config.RoleAdmin)
	c.ReloadLayout(context.Background())
	c.SetEditMode(true)
	c.HandlePointer(pointer.Event{Kind: pointer.Down, PointerID: 1, Target: "B", Pos: pt(0, 0)})
	c.HandlePointer(pointer.Event{Kind: pointer.Move, PointerID: 1, Pos: pt(10, 10)})
	c.HandlePointer(pointer.Event{Kind: pointer.Up, PointerID: 1, Pos: pt(10, 10)})

	if err := c.SaveLayout(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if got := positions(c.Diagram().Graph); got["B"] != pt(40, 50) {
		t.Errorf("local positions = %v", got)
	}
	if s := c.Status(); s.Message != "Failed to save layout: Invalid layout" {
		t.Errorf("status = %+v", s)
	}
}

func TestConsoleZoomAndReset(t *testing.T) {
	c := newTestConsole(t, newFakeBackend(), config.RoleViewer)

	c.ZoomIn(pt(0, 0))
	c.ZoomIn(pt(0, 0))
	if got := c.Status().Message; got != "Zoom 120%" {
		t.Errorf("status = %q", got)
	}
	for i := 0; i < 30; i++ {
		c.ZoomIn(pt(0, 0))
	}
	if got := c.Viewport().Percent; got != 250 {
		t.Errorf("zoom should clamp at 250%%, got %d", got)
	}

	c.ResetView()
	v := c.Viewport()
	if v.Percent != 100 || v.Viewport.Pan != pt(0, 0) {
		t.Errorf("viewport after reset = %+v", v)
	}
	if got := c.Status().Message; got != "View recentred and zoom reset" {
		t.Errorf("status = %q", got)
	}

	c.HandlePointer(pointer.Event{Kind: pointer.Wheel, Pos: pt(10, 10), DeltaY: 100, Ctrl: true})
	if got := c.Status().Message; got != "Zoom 90%" {
		t.Errorf("status after wheel = %q", got)
	}
}

func TestConsoleEditMode_Viewer(t *testing.T) {
	c := newTestConsole(t, newFakeBackend(), config.RoleViewer)
	if err := c.SetEditMode(true); !errors.Is(err, layout.ErrNotEditable) {
		t.Errorf("err = %v", err)
	}
	if c.EditMode() {
		t.Error("edit mode should stay off")
	}
}

func TestConsoleSelection_DropsStaleDetail(t *testing.T) {
	b := newFakeBackend()
	gate := make(chan struct{})
	b.gates["3"] = gate
	c := newTestConsole(t, b, config.RoleViewer)
	c.ReloadLayout(context.Background())

	var mu sync.Mutex
	var details []string
	c.Events.SubscribeTypes(func(e Event) {
		mu.Lock()
		details = append(details, string(e.Payload.(DetailEvent).Detail.Device.ID))
		mu.Unlock()
	}, EventDetailLoaded)

	// Click A: its lookup blocks on the gate.
	c.HandlePointer(pointer.Event{Kind: pointer.Down, PointerID: 1, Target: "A", Pos: pt(0, 0)})
	res := c.HandlePointer(pointer.Event{Kind: pointer.Up, PointerID: 1, Pos: pt(1, 1)})
	if res.Lookup == nil || res.Lookup.DeviceID != "3" {
		t.Fatalf("lookup = %+v", res.Lookup)
	}

	// Select B before A's answer arrives.
	c.Select("B")
	waitFor(t, "detail of B", func() bool {
		d, _ := c.Detail()
		return d != nil && d.Device.ID == "B"
	})

	close(gate)
	time.Sleep(20 * time.Millisecond)
	if d, _ := c.Detail(); d.Device.ID != "B" {
		t.Errorf("stale detail applied: %s", d.Device.ID)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(details) != 1 || details[0] != "B" {
		t.Errorf("detail events = %v", details)
	}
}

func openTestView(c *Console) {
	c.mu.Lock()
	c.view = &View{DeviceID: "3", Address: "10.0.0.3"}
	c.mu.Unlock()
}

func TestConsolePoll(t *testing.T) {
	b := newFakeBackend()
	b.payloads = []*telemetry.Payload{{
		Registers: map[string]telemetry.RegisterInfo{"12": {Name: "Pressure"}},
		Data: []telemetry.Sample{
			{RegisterID: "12", Timestamp: "2024-03-01T12:00:00Z", ValueFloat: json.RawMessage("2"), Unit: "bar"},
			{RegisterID: "12", Timestamp: "2024-03-01T12:00:04Z", ValueFloat: json.RawMessage("5"), Unit: "bar"},
		},
		Definitions: []telemetry.AlarmDefinition{{RegisterID: "12", ConditionType: "above", Setpoint: telemetry.Some(4)}},
	}}
	sink := &recordingSink{}
	c := NewConsole(b, ConsoleOptions{Sink: sink, Location: time.UTC})
	defer c.Close()
	openTestView(c)

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	w, ok := c.Chart("12")
	if !ok {
		t.Fatal("chart not created")
	}
	if w.Spec.Title != "Pressure" || len(w.Spec.Labels) != 2 || !w.Spec.Violated {
		t.Errorf("chart = %+v", w.Spec)
	}
	if len(w.Spec.References()) != 1 {
		t.Errorf("expected a setpoint line, got %d references", len(w.Spec.References()))
	}
	readings := c.Readings()
	if len(readings) != 1 || readings[0].Display != "5 bar" {
		t.Errorf("readings = %+v", readings)
	}
	if len(sink.violations) != 1 || !sink.violations[0].Entered {
		t.Errorf("violations = %+v", sink.violations)
	}
	if len(sink.snapshots) != 1 {
		t.Errorf("expected a snapshot, got %d", len(sink.snapshots))
	}

	// An empty poll changes nothing and keeps the chart.
	created := w.Created
	c.pollOnce(context.Background())
	if w2, _ := c.Chart("12"); w2.Created != created || len(w2.Spec.Labels) != 2 {
		t.Errorf("chart after empty poll = %+v", w2)
	}
}

func TestConsolePoll_Failure(t *testing.T) {
	b := newFakeBackend()
	b.pollErr = &client.APIError{Status: 500, Message: "boom"}
	sink := &recordingSink{}
	c := NewConsole(b, ConsoleOptions{Sink: sink})
	defer c.Close()
	openTestView(c)

	var failed []PollFailedEvent
	c.Events.SubscribeTypes(func(e Event) {
		failed = append(failed, e.Payload.(PollFailedEvent))
	}, EventPollFailed)

	if err := c.pollOnce(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
	if len(failed) != 1 || failed[0].Error != "boom" {
		t.Errorf("failed events = %+v", failed)
	}
	if len(sink.statuses) != 1 || sink.statuses[0] == nil {
		t.Errorf("statuses = %v", sink.statuses)
	}
	if len(c.Charts()) != 0 {
		t.Error("failed poll must not touch buffers")
	}
}

func TestConsolePoll_StaleDropped(t *testing.T) {
	tests := []struct {
		name string
		race func(c *Console)
	}{
		{"view changed", func(c *Console) {
			c.mu.Lock()
			c.viewGen++
			c.mu.Unlock()
		}},
		{"newer poll applied", func(c *Console) {
			c.seq.Accept(c.seq.Next())
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			b.payloads = []*telemetry.Payload{{
				Data: []telemetry.Sample{{RegisterID: "12", Timestamp: "2024-03-01T12:00:00Z", ValueFloat: json.RawMessage("2")}},
			}}
			c := newTestConsole(t, b, config.RoleViewer)
			openTestView(c)
			b.onPoll = func() { tc.race(c) }

			if err := c.pollOnce(context.Background()); err != nil {
				t.Fatalf("pollOnce: %v", err)
			}
			if len(c.Charts()) != 0 {
				t.Error("stale response should be dropped")
			}
		})
	}
}

func TestConsoleCloseDevice(t *testing.T) {
	b := newFakeBackend()
	c := newTestConsole(t, b, config.RoleViewer)
	if err := c.OpenDevice(context.Background(), "3", "12"); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	if _, ok := c.PollStats(); !ok {
		t.Error("polling should run")
	}

	c.CloseDevice()
	if _, ok := c.View(); ok {
		t.Error("view should be closed")
	}
	if _, ok := c.PollStats(); ok {
		t.Error("polling should stop")
	}
	if len(c.Charts()) != 0 {
		t.Error("charts should be dropped")
	}
	if err := c.pollOnce(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Errorf("pollOnce without view = %v", err)
	}
}

func TestConsoleCloseDevice_WhileOpening(t *testing.T) {
	b := newFakeBackend()
	c := NewConsole(b, ConsoleOptions{PollInterval: 10 * time.Millisecond, Location: time.UTC})
	defer c.Close()

	// The view is closed by a listener while OpenDevice is still delivering
	// its events.
	var once sync.Once
	c.Events.SubscribeTypes(func(Event) {
		once.Do(c.CloseDevice)
	}, EventViewOpened)

	if err := c.OpenDevice(context.Background(), "3", ""); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	if _, ok := c.PollStats(); ok {
		t.Fatal("scheduler still attached after close")
	}

	count := func() int {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.polls)
	}
	before := count()
	time.Sleep(100 * time.Millisecond)
	if after := count(); after != before {
		t.Errorf("closed view kept polling: %d polls became %d", before, after)
	}

	// Reopening runs exactly one loop.
	if err := c.OpenDevice(context.Background(), "3", ""); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	before = count()
	time.Sleep(200 * time.Millisecond)
	if n := count() - before; n > 30 {
		t.Errorf("%d polls in 200ms at a 10ms period, more than one loop is running", n)
	}
}

func TestConsolePoll_FailureAfterClose(t *testing.T) {
	b := newFakeBackend()
	b.pollErr = &client.APIError{Status: 500, Message: "boom"}
	sink := &recordingSink{}
	c := NewConsole(b, ConsoleOptions{Sink: sink})
	defer c.Close()
	openTestView(c)

	var failed int
	c.Events.SubscribeTypes(func(Event) { failed++ }, EventPollFailed)
	b.onPoll = func() {
		c.mu.Lock()
		c.viewGen++
		c.mu.Unlock()
	}

	if err := c.pollOnce(context.Background()); err != nil {
		t.Errorf("pollOnce = %v, want nil for a closed view", err)
	}
	if failed != 0 || len(sink.statuses) != 0 {
		t.Errorf("closed view reported failure: %d events, %d statuses", failed, len(sink.statuses))
	}
}

func TestConsoleOpenDevice_Unknown(t *testing.T) {
	c := newTestConsole(t, newFakeBackend(), config.RoleViewer)
	if err := c.OpenDevice(context.Background(), "99", ""); err == nil {
		t.Fatal("expected error")
	}
	if got := c.Status().Message; got != "Failed to load device: CLP not found" {
		t.Errorf("status = %q", got)
	}
}

func TestConsoleLoadTrend(t *testing.T) {
	b := newFakeBackend()
	b.trend = &client.Trend{
		Register: client.TrendRegister{ID: "12", Name: "Pressure", Unit: "bar"},
		Points: []client.TrendPoint{
			{Timestamp: "2024-03-01T12:00:00Z", Value: telemetry.Some(1)},
			{Timestamp: "2024-03-01T12:00:04Z", Value: telemetry.Some(2)},
		},
	}
	c := newTestConsole(t, b, config.RoleViewer)

	if err := c.LoadTrend(context.Background(), "12"); err != nil {
		t.Fatalf("LoadTrend: %v", err)
	}
	w, ok := c.Chart("12")
	if !ok || w.Spec.Title != "Pressure" || len(w.Spec.Labels) != 2 {
		t.Errorf("chart = %+v", w.Spec)
	}
}

func TestConsoleSubmitCommand(t *testing.T) {
	tests := []struct {
		role    string
		wantErr error
	}{
		{config.RoleViewer, ErrForbidden},
		{config.RoleOperator, nil},
		{config.RoleAdmin, nil},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			b := newFakeBackend()
			c := newTestConsole(t, b, tc.role)
			_, err := c.SubmitCommand(context.Background(), "12", client.Command{Value: 3, Note: "raise setpoint"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil {
				if len(b.commands) != 1 {
					t.Error("command not sent")
				}
				if got := c.Status().Message; got != "Command registered" {
					t.Errorf("status = %q", got)
				}
			}
		})
	}
}

func TestConsoleClose(t *testing.T) {
	c := NewConsole(newFakeBackend(), ConsoleOptions{PollInterval: time.Hour})
	if err := c.OpenDevice(context.Background(), "3", ""); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	c.Close()
	c.Close()

	if !c.Closed() {
		t.Error("console should be closed")
	}
	if _, ok := c.PollStats(); ok {
		t.Error("polling should stop on close")
	}
	if res := c.HandlePointer(pointer.Event{Kind: pointer.Down, Pos: pt(0, 0)}); !res.Ignored {
		t.Error("closed console should ignore input")
	}
	if err := c.SaveLayout(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("save after close = %v", err)
	}
}
