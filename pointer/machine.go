// Package pointer turns raw pointer input on the floor diagram into pans,
// node drags and click selections.
package pointer

import (
	"math"

	"floorview/layout"
	"floorview/viewport"
)

// ClickSlop is how far (screen px) a press may travel and still count as a click.
const ClickSlop = 3.0

// EventKind is the kind of a pointer event.
type EventKind int

const (
	Down EventKind = iota
	Move
	Up
	Cancel
	Leave
	Wheel
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	case Cancel:
		return "cancel"
	case Leave:
		return "leave"
	case Wheel:
		return "wheel"
	default:
		return "unknown"
	}
}

// ParseKind maps an event name back to its kind.
func ParseKind(s string) (EventKind, bool) {
	for k := Down; k <= Wheel; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Button identifies the pressed mouse button.
type Button int

const (
	ButtonPrimary Button = iota
	ButtonMiddle
	ButtonSecondary
)

// Event is one pointer input. Pos is in screen space relative to the
// viewport's top-left. Target is the node id under the press, or "" for the
// background.
type Event struct {
	Kind      EventKind      `json:"kind"`
	PointerID int            `json:"pointer_id"`
	Button    Button         `json:"button"`
	Pos       viewport.Point `json:"pos"`
	Target    string         `json:"target,omitempty"`
	DeltaY    float64        `json:"delta_y,omitempty"`
	Ctrl      bool           `json:"ctrl,omitempty"`
}

// State is the pan state of the machine. Node drags are tracked per node
// and do not change it.
type State int

const (
	Idle State = iota
	Panning
	DraggingNode
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Panning:
		return "panning"
	case DraggingNode:
		return "dragging"
	default:
		return "unknown"
	}
}

// Lookup asks for the detail of a monitored device after a click.
type Lookup struct {
	NodeID        string `json:"node_id"`
	DeviceID      string `json:"device_id"`
	FocusRegister string `json:"focus_register,omitempty"`
}

// Result describes what one event changed.
type Result struct {
	Panned bool           `json:"panned,omitempty"`
	Pan    viewport.Point `json:"pan"`

	Zoomed bool    `json:"zoomed,omitempty"`
	Zoom   float64 `json:"zoom,omitempty"`

	Moved    string           `json:"moved,omitempty"`
	Position viewport.Point   `json:"position"`
	Segments []layout.Segment `json:"segments,omitempty"`

	Committed string `json:"committed,omitempty"`
	Abandoned string `json:"abandoned,omitempty"`

	Selected string  `json:"selected,omitempty"`
	Lookup   *Lookup `json:"lookup,omitempty"`

	Ignored bool `json:"ignored,omitempty"`
}

type panSession struct {
	pointerID int
	panStart  viewport.Point
	start     viewport.Point
}

// press tracks a pointer that went down on a node: a click candidate and,
// in edit mode, a drag.
type press struct {
	nodeID   string
	start    viewport.Point
	posStart viewport.Point
	dragging bool
	moved    bool
}

// Machine interprets pointer events against a viewport and a layout model.
// It is not safe for concurrent use; the owning console serializes access.
type Machine struct {
	vp    *viewport.Viewport
	model *layout.Model

	pan     *panSession
	presses map[int]*press // by pointer id
	drags   map[string]int // node id -> pointer id
	slop    float64
}

// New creates an idle machine.
func New(vp *viewport.Viewport, model *layout.Model) *Machine {
	return &Machine{
		vp:      vp,
		model:   model,
		presses: make(map[int]*press),
		drags:   make(map[string]int),
		slop:    ClickSlop,
	}
}

// State returns Panning while a pan is active, DraggingNode while any node
// drag is active, and Idle otherwise.
func (m *Machine) State() State {
	switch {
	case m.pan != nil:
		return Panning
	case len(m.drags) > 0:
		return DraggingNode
	default:
		return Idle
	}
}

// Dragging reports whether a node is being dragged.
func (m *Machine) Dragging(nodeID string) bool {
	_, ok := m.drags[nodeID]
	return ok
}

// Reset drops every session, for example when the layout is reloaded.
func (m *Machine) Reset() {
	m.pan = nil
	m.presses = make(map[int]*press)
	m.drags = make(map[string]int)
}

// Handle applies one event.
func (m *Machine) Handle(ev Event) Result {
	switch ev.Kind {
	case Down:
		return m.down(ev)
	case Move:
		return m.move(ev)
	case Up:
		return m.up(ev)
	case Cancel:
		return m.cancel(ev)
	case Leave:
		return m.leave(ev)
	case Wheel:
		return m.wheel(ev)
	default:
		return Result{Ignored: true}
	}
}

func (m *Machine) down(ev Event) Result {
	if ev.Button != ButtonPrimary {
		return Result{Ignored: true}
	}
	if _, busy := m.presses[ev.PointerID]; busy {
		return Result{Ignored: true}
	}

	if ev.Target == "" {
		if m.pan != nil {
			return Result{Ignored: true}
		}
		m.pan = &panSession{
			pointerID: ev.PointerID,
			panStart:  m.vp.Pan(),
			start:     ev.Pos,
		}
		return Result{}
	}

	if _, ok := m.model.Node(ev.Target); !ok {
		return Result{Ignored: true}
	}
	p := &press{nodeID: ev.Target, start: ev.Pos}
	if m.model.EditMode() {
		if _, taken := m.drags[ev.Target]; !taken {
			pos, _ := m.model.Rendered(ev.Target)
			p.posStart = pos
			p.dragging = true
			m.drags[ev.Target] = ev.PointerID
		}
	}
	m.presses[ev.PointerID] = p
	return Result{}
}

func (m *Machine) move(ev Event) Result {
	if m.pan != nil && m.pan.pointerID == ev.PointerID {
		pan := m.pan.panStart.Add(ev.Pos.Sub(m.pan.start))
		m.vp.SetPan(pan)
		return Result{Panned: true, Pan: pan}
	}

	p, ok := m.presses[ev.PointerID]
	if !ok {
		return Result{Ignored: true}
	}
	if ev.Pos.Dist(p.start) > m.slop {
		p.moved = true
	}
	if !p.dragging || !m.model.EditMode() {
		return Result{}
	}

	delta := m.surfacePoint(ev.Pos).Sub(m.surfacePoint(p.start))
	next := p.posStart.Add(delta)
	next = viewport.Point{X: math.Max(0, next.X), Y: math.Max(0, next.Y)}
	segs, err := m.model.MoveRendered(p.nodeID, next)
	if err != nil {
		m.drop(ev.PointerID)
		return Result{Ignored: true}
	}
	return Result{Moved: p.nodeID, Position: next, Segments: segs}
}

// surfacePoint maps a screen point to the canvas through the rendered
// surface box. The box origin carries the pan, so only zoom is divided out.
func (m *Machine) surfacePoint(screen viewport.Point) viewport.Point {
	ext := m.model.Extent()
	return m.vp.SurfaceToCanvas(screen, m.vp.SurfaceRect(ext.X, ext.Y))
}

func (m *Machine) up(ev Event) Result {
	if m.pan != nil && m.pan.pointerID == ev.PointerID {
		m.pan = nil
		return Result{}
	}

	p, ok := m.presses[ev.PointerID]
	if !ok {
		return Result{Ignored: true}
	}
	m.drop(ev.PointerID)

	var res Result
	if p.dragging {
		if err := m.model.Commit(p.nodeID); err == nil {
			res.Committed = p.nodeID
		}
	}
	if ev.Pos.Dist(p.start) > m.slop {
		p.moved = true
	}
	if !p.moved {
		m.selectNode(p.nodeID, &res)
	}
	return res
}

func (m *Machine) cancel(ev Event) Result {
	if m.pan != nil && m.pan.pointerID == ev.PointerID {
		m.pan = nil
		return Result{}
	}
	p, ok := m.presses[ev.PointerID]
	if !ok {
		return Result{Ignored: true}
	}
	m.drop(ev.PointerID)
	if p.dragging {
		return Result{Abandoned: p.nodeID}
	}
	return Result{}
}

// leave ends a pan; node drags keep their capture.
func (m *Machine) leave(ev Event) Result {
	if m.pan != nil && m.pan.pointerID == ev.PointerID {
		m.pan = nil
		return Result{}
	}
	return Result{Ignored: true}
}

// wheel zooms at the pointer when ctrl is held. Scrolling down zooms out.
func (m *Machine) wheel(ev Event) Result {
	if !ev.Ctrl || ev.DeltaY == 0 {
		return Result{Ignored: true}
	}
	direction := 1
	if ev.DeltaY > 0 {
		direction = -1
	}
	if !m.vp.ZoomStep(ev.Pos, direction) {
		return Result{}
	}
	return Result{Zoomed: true, Zoom: m.vp.Zoom(), Panned: true, Pan: m.vp.Pan()}
}

func (m *Machine) drop(pointerID int) {
	p, ok := m.presses[pointerID]
	if !ok {
		return
	}
	delete(m.presses, pointerID)
	if p.dragging && m.drags[p.nodeID] == pointerID {
		delete(m.drags, p.nodeID)
	}
}

func (m *Machine) selectNode(id string, res *Result) {
	if !m.model.Select(id) {
		return
	}
	res.Selected = id
	n, _ := m.model.Node(id)
	if !n.Monitored() {
		return
	}
	l := &Lookup{NodeID: id, DeviceID: n.DeviceID()}
	if reg, ok := n.FocusRegister(); ok {
		l.FocusRegister = reg
	}
	res.Lookup = l
}
