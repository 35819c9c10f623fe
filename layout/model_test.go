package layout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"floorview/viewport"
)

// echoStore stores the PUT body and echoes it back through JSON, as the
// backend does.
type echoStore struct {
	calls int
	last  Graph
	err   error
}

func (s *echoStore) PutLayout(ctx context.Context, g Graph) (Graph, error) {
	s.calls++
	if s.err != nil {
		return Graph{}, s.err
	}
	s.last = g
	data, err := json.Marshal(g)
	if err != nil {
		return Graph{}, err
	}
	var echo Graph
	if err := json.Unmarshal(data, &echo); err != nil {
		return Graph{}, err
	}
	return echo, nil
}

func twoNodeGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "A", Type: "plc", Position: viewport.Point{X: 10, Y: 20}},
			{ID: "B", Type: "plc", Position: viewport.Point{X: 30, Y: 40}},
		},
		Connections: []Connection{{Source: "A", Target: "B"}},
	}
}

func TestModel_SaveRoundTrip(t *testing.T) {
	store := &echoStore{}
	m := NewModel(store)
	m.Load(twoNodeGraph())

	if err := m.SetEditMode(true); err != nil {
		t.Fatalf("SetEditMode: %v", err)
	}
	if err := m.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	g := m.Graph()
	if len(g.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(g.Nodes))
	}
	want := map[string]viewport.Point{"A": {X: 10, Y: 20}, "B": {X: 30, Y: 40}}
	for _, n := range g.Nodes {
		if n.Position != want[n.ID] {
			t.Errorf("node %s at %+v, want %+v", n.ID, n.Position, want[n.ID])
		}
	}
	if len(g.Connections) != 1 || g.Connections[0].Source != "A" || g.Connections[0].Target != "B" {
		t.Errorf("connections = %+v", g.Connections)
	}
	if g.Connections[0].Type != DefaultConnectionType {
		t.Errorf("connection type = %q, want %q", g.Connections[0].Type, DefaultConnectionType)
	}
	if len(m.Segments()) != 1 {
		t.Errorf("segments = %d, want 1", len(m.Segments()))
	}
}

func TestModel_SaveRequiresEditMode(t *testing.T) {
	store := &echoStore{}
	m := NewModel(store)
	m.Load(twoNodeGraph())

	err := m.Save(context.Background())
	if !errors.Is(err, ErrEditModeDisabled) {
		t.Fatalf("Save error = %v, want ErrEditModeDisabled", err)
	}
	if store.calls != 0 {
		t.Errorf("store called %d times outside edit mode", store.calls)
	}
}

func TestModel_SaveFailureLeavesGraph(t *testing.T) {
	store := &echoStore{err: errors.New("backend down")}
	m := NewModel(store)
	m.Load(twoNodeGraph())
	m.SetEditMode(true)

	if _, err := m.MoveRendered("A", viewport.Point{X: 100, Y: 100}); err != nil {
		t.Fatalf("MoveRendered: %v", err)
	}
	err := m.Save(context.Background())
	if err == nil {
		t.Fatal("expected save error")
	}
	if store.calls != 1 {
		t.Errorf("store called %d times, want exactly one attempt", store.calls)
	}

	n, _ := m.Node("A")
	if n.Position != (viewport.Point{X: 10, Y: 20}) {
		t.Errorf("stored position changed to %+v", n.Position)
	}
	if p, _ := m.Rendered("A"); p != (viewport.Point{X: 100, Y: 100}) {
		t.Errorf("rendered position changed to %+v", p)
	}
}

func TestModel_SaveSendsRenderedPositions(t *testing.T) {
	store := &echoStore{}
	m := NewModel(store)
	m.Load(twoNodeGraph())
	m.SetEditMode(true)

	m.MoveRendered("B", viewport.Point{X: 300, Y: 400})
	if err := m.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, n := range store.last.Nodes {
		if n.ID == "B" && n.Position != (viewport.Point{X: 300, Y: 400}) {
			t.Errorf("PUT carried %+v for B", n.Position)
		}
		if n.Label != "" || n.Metadata != nil {
			t.Errorf("PUT carried display fields for %s: %+v", n.ID, n)
		}
	}
}

func TestModel_LoadFromJSON(t *testing.T) {
	data := `{
		"nodes": [
			{"id": "vlan-1", "type": "vlan", "label": "VLAN 1"},
			{"id": "plc-7", "type": "plc", "position": {"x": -5, "y": 12},
			 "metadata": {"plc_id": 7, "location": "Hall B", "register_id": 31}},
			{"id": "plc-7", "type": "plc", "position": {"x": 1, "y": 1}},
			{"id": "reg-1", "type": "register", "position": {"x": 5}},
			{"id": "", "type": "plc"}
		],
		"connections": [
			{"source": "vlan-1", "target": "plc-7", "type": "network"},
			{"source": "plc-7", "target": "gone"}
		]
	}`
	var g Graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	m := NewModel(nil)
	m.Load(g)

	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}

	vlan, _ := m.Node("vlan-1")
	if vlan.Position != (viewport.Point{X: 60, Y: 60}) {
		t.Errorf("first unplaced node at %+v, want (60,60)", vlan.Position)
	}
	reg, _ := m.Node("reg-1")
	if reg.Position != (viewport.Point{X: 300, Y: 60}) {
		t.Errorf("second unplaced node at %+v, want (300,60)", reg.Position)
	}

	plc, _ := m.Node("plc-7")
	if plc.Position != (viewport.Point{X: 0, Y: 12}) {
		t.Errorf("negative x not clamped: %+v", plc.Position)
	}
	if plc.LocationLabel != "Hall B" || plc.Label != "plc-7" || plc.Status != StatusOnline {
		t.Errorf("hydration = %+v", plc)
	}
	if plc.DeviceID() != "7" {
		t.Errorf("DeviceID() = %q, want 7", plc.DeviceID())
	}
	if r, ok := plc.FocusRegister(); !ok || r != "31" {
		t.Errorf("FocusRegister() = %q, %v", r, ok)
	}

	segs := m.Segments()
	if len(segs) != 1 {
		t.Fatalf("segments = %+v, want the dangling one skipped", segs)
	}
	if segs[0].From != (viewport.Point{X: 60 + NodeWidth/2, Y: 60 + NodeHeight/2}) {
		t.Errorf("segment from %+v", segs[0].From)
	}
}

func TestModel_MoveAndCommit(t *testing.T) {
	m := NewModel(nil)
	m.Load(twoNodeGraph())

	segs, err := m.MoveRendered("A", viewport.Point{X: -20, Y: 50})
	if err != nil {
		t.Fatalf("MoveRendered: %v", err)
	}
	if len(segs) != 1 || segs[0].From != (viewport.Point{X: NodeWidth / 2, Y: 50 + NodeHeight/2}) {
		t.Errorf("segments = %+v", segs)
	}

	state := m.CollectCurrentState()
	if state.Nodes[0].Position != (viewport.Point{X: 0, Y: 50}) {
		t.Errorf("collected %+v, want rendered position", state.Nodes[0].Position)
	}
	n, _ := m.Node("A")
	if n.Position != (viewport.Point{X: 10, Y: 20}) {
		t.Error("stored position changed before commit")
	}

	if err := m.Commit("A"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	n, _ = m.Node("A")
	if n.Position != (viewport.Point{X: 0, Y: 50}) {
		t.Errorf("committed position = %+v", n.Position)
	}

	if _, err := m.MoveRendered("nope", viewport.Point{}); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("MoveRendered unknown = %v", err)
	}
}

func TestModel_EditModeAndSelection(t *testing.T) {
	m := NewModel(nil)
	m.Load(twoNodeGraph())

	on, err := m.ToggleEditMode()
	if err != nil || !on {
		t.Fatalf("ToggleEditMode = %v, %v", on, err)
	}
	before := m.Graph()
	m.ToggleEditMode()
	if len(m.Graph().Nodes) != len(before.Nodes) {
		t.Error("toggling edit mode mutated the graph")
	}

	m.SetEditable(false)
	if err := m.SetEditMode(true); !errors.Is(err, ErrNotEditable) {
		t.Errorf("SetEditMode on read-only = %v", err)
	}

	if !m.Select("A") || m.Selected() != "A" {
		t.Error("Select(A) failed")
	}
	if !m.Select("B") || m.Selected() != "B" {
		t.Error("Select(B) failed")
	}
	m.Select("")
	if m.Selected() != "" {
		t.Error("selection not cleared")
	}

	m.Select("A")
	m.Load(Graph{Nodes: []Node{{ID: "C", Type: "plc"}}})
	if m.Selected() != "" {
		t.Error("selection survived reload without its node")
	}
}

func TestModel_NodeAt(t *testing.T) {
	m := NewModel(nil)
	m.Load(Graph{Nodes: []Node{
		{ID: "under", Type: "plc", Position: viewport.Point{X: 0, Y: 0}},
		{ID: "over", Type: "plc", Position: viewport.Point{X: 100, Y: 0}},
	}})

	tests := []struct {
		p    viewport.Point
		id   string
		want bool
	}{
		{viewport.Point{X: 50, Y: 10}, "under", true},
		{viewport.Point{X: 150, Y: 10}, "over", true},
		{viewport.Point{X: 500, Y: 500}, "", false},
	}
	for _, tc := range tests {
		id, ok := m.NodeAt(tc.p)
		if id != tc.id || ok != tc.want {
			t.Errorf("NodeAt(%+v) = %q, %v, want %q, %v", tc.p, id, ok, tc.id, tc.want)
		}
	}
}

func TestModel_Extent(t *testing.T) {
	m := NewModel(nil)
	if got := m.Extent(); got != (viewport.Point{}) {
		t.Errorf("empty extent = %+v", got)
	}
	m.Load(Graph{Nodes: []Node{
		{ID: "A", Type: "plc", Position: viewport.Point{X: 10, Y: 300}},
		{ID: "B", Type: "plc", Position: viewport.Point{X: 400, Y: 20}},
	}})
	want := viewport.Point{X: 400 + NodeWidth, Y: 300 + NodeHeight}
	if got := m.Extent(); got != want {
		t.Errorf("Extent() = %+v, want %+v", got, want)
	}
}

func TestSanitize(t *testing.T) {
	g := Sanitize(Graph{
		Nodes: []Node{
			{ID: "A", Type: "plc", Label: "shown"},
			{ID: "", Type: "plc"},
			{ID: "B"},
		},
		Connections: []Connection{
			{Source: "A", Target: "B"},
			{Source: "A"},
			{Source: "A", Target: "C", Type: "network"},
		},
	})

	if len(g.Nodes) != 1 || g.Nodes[0].ID != "A" || g.Nodes[0].Label != "" {
		t.Errorf("nodes = %+v", g.Nodes)
	}
	if len(g.Connections) != 2 {
		t.Fatalf("connections = %+v", g.Connections)
	}
	if g.Connections[0].Type != DefaultConnectionType || g.Connections[1].Type != "network" {
		t.Errorf("connection types = %q, %q", g.Connections[0].Type, g.Connections[1].Type)
	}
}

func TestNode_Kind(t *testing.T) {
	tests := []struct {
		node      Node
		kind      string
		monitored bool
		device    string
	}{
		{Node{ID: "plc-3", Type: "plc"}, KindPLC, true, "3"},
		{Node{ID: "device-9", Type: "Device"}, KindDevice, true, "9"},
		{Node{ID: "vlan-1", Type: "vlan"}, KindOther, false, "vlan-1"},
		{Node{ID: "x", Type: "box", Metadata: map[string]interface{}{"device_id": "d-4"}}, KindOther, true, "d-4"},
	}
	for _, tc := range tests {
		if got := tc.node.Kind(); got != tc.kind {
			t.Errorf("%s Kind() = %q, want %q", tc.node.ID, got, tc.kind)
		}
		if got := tc.node.Monitored(); got != tc.monitored {
			t.Errorf("%s Monitored() = %v, want %v", tc.node.ID, got, tc.monitored)
		}
		if got := tc.node.DeviceID(); got != tc.device {
			t.Errorf("%s DeviceID() = %q, want %q", tc.node.ID, got, tc.device)
		}
	}
}
