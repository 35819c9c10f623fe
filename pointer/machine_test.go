package pointer

import (
	"math"
	"testing"

	"floorview/layout"
	"floorview/viewport"
)

func pt(x, y float64) viewport.Point { return viewport.Point{X: x, Y: y} }

func newFixture(t *testing.T, edit bool) (*Machine, *viewport.Viewport, *layout.Model) {
	t.Helper()
	vp := viewport.New(viewport.DefaultLimits())
	model := layout.NewModel(nil)
	model.Load(layout.Graph{
		Nodes: []layout.Node{
			{ID: "plc-1", Type: "plc", Position: pt(100, 100), Metadata: map[string]interface{}{"register_id": 12.0}},
			{ID: "plc-2", Type: "plc", Position: pt(400, 100)},
			{ID: "vlan-1", Type: "vlan", Position: pt(100, 400)},
		},
		Connections: []layout.Connection{
			{Source: "plc-1", Target: "plc-2"},
			{Source: "vlan-1", Target: "plc-1"},
			{Source: "plc-2", Target: "missing"},
		},
	})
	if err := model.SetEditMode(edit); err != nil {
		t.Fatalf("SetEditMode: %v", err)
	}
	return New(vp, model), vp, model
}

func near(a, b viewport.Point) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestMachine_Pan(t *testing.T) {
	m, vp, _ := newFixture(t, false)
	vp.SetPan(pt(10, 10))
	vp.SetZoomAtPoint(pt(0, 0), 2)

	m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(50, 50)})
	if m.State() != Panning {
		t.Fatalf("State() = %v, want panning", m.State())
	}

	panBefore := vp.Pan()
	res := m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(80, 30)})
	if !res.Panned {
		t.Fatal("move did not pan")
	}
	want := panBefore.Add(pt(30, -20))
	if !near(vp.Pan(), want) {
		t.Errorf("pan = %+v, want %+v (raw delta, not divided by zoom)", vp.Pan(), want)
	}

	t.Run("second pointer ignored", func(t *testing.T) {
		if r := m.Handle(Event{Kind: Down, PointerID: 2, Pos: pt(0, 0)}); !r.Ignored {
			t.Error("second pan pointer accepted")
		}
		if r := m.Handle(Event{Kind: Move, PointerID: 2, Pos: pt(500, 500)}); !r.Ignored {
			t.Error("move of second pointer applied")
		}
		if !near(vp.Pan(), want) {
			t.Errorf("pan changed by second pointer: %+v", vp.Pan())
		}
	})

	m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(80, 30)})
	if m.State() != Idle {
		t.Errorf("State() after up = %v", m.State())
	}
}

func TestMachine_PanReleases(t *testing.T) {
	for _, kind := range []EventKind{Up, Cancel, Leave} {
		t.Run(kind.String(), func(t *testing.T) {
			m, _, _ := newFixture(t, false)
			m.Handle(Event{Kind: Down, PointerID: 7, Pos: pt(0, 0)})
			m.Handle(Event{Kind: kind, PointerID: 7, Pos: pt(0, 0)})
			if m.State() != Idle {
				t.Errorf("State() = %v after %v", m.State(), kind)
			}
		})
	}
}

func TestMachine_PanRequiresPrimary(t *testing.T) {
	m, _, _ := newFixture(t, false)
	if r := m.Handle(Event{Kind: Down, PointerID: 1, Button: ButtonSecondary}); !r.Ignored {
		t.Error("secondary button started a pan")
	}
	if m.State() != Idle {
		t.Errorf("State() = %v", m.State())
	}
}

func TestMachine_DragDividesByZoom(t *testing.T) {
	tests := []struct {
		name  string
		zoom  float64
		delta viewport.Point
		want  viewport.Point
	}{
		{"zoom 1", 1, pt(30, 40), pt(130, 140)},
		{"zoom 2", 2, pt(30, 40), pt(115, 120)},
		{"zoom 0.5", 0.5, pt(-10, 20), pt(80, 140)},
		{"clamped at zero", 1, pt(-500, -20), pt(0, 80)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, vp, model := newFixture(t, true)
			vp.SetZoomAtPoint(pt(0, 0), tc.zoom)

			start := pt(200, 200)
			m.Handle(Event{Kind: Down, PointerID: 1, Pos: start, Target: "plc-1"})
			if m.State() != DraggingNode || !m.Dragging("plc-1") {
				t.Fatalf("drag not started, state %v", m.State())
			}
			res := m.Handle(Event{Kind: Move, PointerID: 1, Pos: start.Add(tc.delta)})
			if res.Moved != "plc-1" || !near(res.Position, tc.want) {
				t.Fatalf("move result = %+v, want plc-1 at %+v", res, tc.want)
			}
			if len(res.Segments) != 2 {
				t.Errorf("segments = %d, want 2 touching plc-1", len(res.Segments))
			}
			if p, _ := model.Rendered("plc-1"); !near(p, tc.want) {
				t.Errorf("rendered = %+v", p)
			}

			up := m.Handle(Event{Kind: Up, PointerID: 1, Pos: start.Add(tc.delta)})
			if up.Committed != "plc-1" {
				t.Errorf("up result = %+v, want commit", up)
			}
			if up.Selected != "" {
				t.Error("drag that moved also selected")
			}
			n, _ := model.Node("plc-1")
			if !near(n.Position, tc.want) {
				t.Errorf("committed = %+v, want %+v", n.Position, tc.want)
			}
		})
	}
}

func TestMachine_DragIgnoresPan(t *testing.T) {
	for _, pan := range []viewport.Point{pt(0, 0), pt(250, -80), pt(-1000, 400)} {
		m, vp, _ := newFixture(t, true)
		vp.SetZoomAtPoint(pt(0, 0), 2)
		vp.SetPan(pan)

		start := pt(300, 300)
		m.Handle(Event{Kind: Down, PointerID: 1, Pos: start, Target: "plc-1"})
		res := m.Handle(Event{Kind: Move, PointerID: 1, Pos: start.Add(pt(60, 20))})
		if want := pt(130, 110); !near(res.Position, want) {
			t.Errorf("pan %+v: position = %+v, want %+v", pan, res.Position, want)
		}
	}
}

func TestMachine_DragSegmentsFollowNode(t *testing.T) {
	m, _, _ := newFixture(t, true)
	m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(0, 0), Target: "plc-2"})
	res := m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(10, 0)})

	if len(res.Segments) != 1 {
		t.Fatalf("segments = %+v, want only the live connection", res.Segments)
	}
	want := pt(410+layout.NodeWidth/2, 100+layout.NodeHeight/2)
	if !near(res.Segments[0].To, want) {
		t.Errorf("segment end = %+v, want %+v", res.Segments[0].To, want)
	}
}

func TestMachine_DragNeedsEditMode(t *testing.T) {
	m, _, model := newFixture(t, false)
	m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(0, 0), Target: "plc-1"})
	res := m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(50, 50)})
	if res.Moved != "" {
		t.Errorf("node moved outside edit mode: %+v", res)
	}
	if p, _ := model.Rendered("plc-1"); !near(p, pt(100, 100)) {
		t.Errorf("rendered = %+v", p)
	}
	if m.State() != Idle {
		t.Errorf("State() = %v", m.State())
	}
}

func TestMachine_IndependentDrags(t *testing.T) {
	m, _, model := newFixture(t, true)
	m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(0, 0), Target: "plc-1"})
	m.Handle(Event{Kind: Down, PointerID: 2, Pos: pt(0, 0), Target: "plc-2"})

	m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(10, 0)})
	m.Handle(Event{Kind: Move, PointerID: 2, Pos: pt(0, 10)})

	if p, _ := model.Rendered("plc-1"); !near(p, pt(110, 100)) {
		t.Errorf("plc-1 rendered = %+v", p)
	}
	if p, _ := model.Rendered("plc-2"); !near(p, pt(400, 110)) {
		t.Errorf("plc-2 rendered = %+v", p)
	}

	m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(10, 0)})
	if !m.Dragging("plc-2") || m.Dragging("plc-1") {
		t.Error("releasing one drag affected the other")
	}
}

func TestMachine_CancelDoesNotCommit(t *testing.T) {
	m, _, model := newFixture(t, true)
	m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(0, 0), Target: "plc-1"})
	m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(20, 20)})
	res := m.Handle(Event{Kind: Cancel, PointerID: 1})

	if res.Abandoned != "plc-1" {
		t.Errorf("cancel result = %+v", res)
	}
	n, _ := model.Node("plc-1")
	if !near(n.Position, pt(100, 100)) {
		t.Errorf("cancel committed %+v", n.Position)
	}
	if p, _ := model.Rendered("plc-1"); !near(p, pt(120, 120)) {
		t.Errorf("rendered = %+v, want left where it was", p)
	}
}

func TestMachine_ClickSelects(t *testing.T) {
	t.Run("monitored device", func(t *testing.T) {
		m, _, model := newFixture(t, false)
		m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(5, 5), Target: "plc-1"})
		res := m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(7, 6)})

		if res.Selected != "plc-1" || model.Selected() != "plc-1" {
			t.Fatalf("result = %+v", res)
		}
		if res.Lookup == nil || res.Lookup.DeviceID != "1" || res.Lookup.FocusRegister != "12" {
			t.Errorf("lookup = %+v", res.Lookup)
		}
	})

	t.Run("plain node has no lookup", func(t *testing.T) {
		m, _, _ := newFixture(t, false)
		m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(5, 5), Target: "vlan-1"})
		res := m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(5, 5)})
		if res.Selected != "vlan-1" || res.Lookup != nil {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("click in edit mode", func(t *testing.T) {
		m, _, _ := newFixture(t, true)
		m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(5, 5), Target: "plc-2"})
		m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(6, 5)})
		res := m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(6, 5)})
		if res.Selected != "plc-2" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("movement beyond slop is not a click", func(t *testing.T) {
		m, _, model := newFixture(t, false)
		m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(5, 5), Target: "plc-1"})
		m.Handle(Event{Kind: Move, PointerID: 1, Pos: pt(50, 5)})
		res := m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(5, 5)})
		if res.Selected != "" || model.Selected() != "" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("selecting another node replaces selection", func(t *testing.T) {
		m, _, model := newFixture(t, false)
		for _, id := range []string{"plc-1", "plc-2"} {
			m.Handle(Event{Kind: Down, PointerID: 1, Pos: pt(0, 0), Target: id})
			m.Handle(Event{Kind: Up, PointerID: 1, Pos: pt(0, 0)})
		}
		if model.Selected() != "plc-2" {
			t.Errorf("Selected() = %q", model.Selected())
		}
	})
}

func TestMachine_WheelZoom(t *testing.T) {
	m, vp, _ := newFixture(t, false)

	if r := m.Handle(Event{Kind: Wheel, Pos: pt(100, 100), DeltaY: -120}); !r.Ignored {
		t.Error("wheel without ctrl zoomed")
	}

	anchor := vp.ToCanvas(pt(100, 100))
	res := m.Handle(Event{Kind: Wheel, Pos: pt(100, 100), DeltaY: -120, Ctrl: true})
	if !res.Zoomed || math.Abs(res.Zoom-1.1) > 1e-9 {
		t.Fatalf("result = %+v, want zoom 1.1", res)
	}
	if !near(vp.ToCanvas(pt(100, 100)), anchor) {
		t.Errorf("anchor moved to %+v, want %+v", vp.ToCanvas(pt(100, 100)), anchor)
	}

	res = m.Handle(Event{Kind: Wheel, Pos: pt(100, 100), DeltaY: 120, Ctrl: true})
	if math.Abs(vp.Zoom()-1.0) > 1e-9 {
		t.Errorf("zoom = %v after zooming out, want 1", vp.Zoom())
	}
}

func TestParseKind(t *testing.T) {
	for k := Down; k <= Wheel; k++ {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("hover"); ok {
		t.Error("ParseKind accepted unknown kind")
	}
}
