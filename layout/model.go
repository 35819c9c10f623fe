package layout

import (
	"context"
	"errors"
	"fmt"
	"math"

	"floorview/logging"
	"floorview/viewport"
)

// Sentinel errors.
var (
	ErrEditModeDisabled = errors.New("edit mode is disabled")
	ErrNotEditable      = errors.New("layout is read-only for this operator")
	ErrNoStore          = errors.New("no layout store configured")
	ErrUnknownNode      = errors.New("unknown node")
)

// NodeWidth and NodeHeight are the canvas-space size of a node box.
const (
	NodeWidth  = 180
	NodeHeight = 72
)

// Store persists a full graph and returns the canonical stored copy.
type Store interface {
	PutLayout(ctx context.Context, g Graph) (Graph, error)
}

// Segment is the drawable line of a connection, center to center.
type Segment struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   string         `json:"type,omitempty"`
	From   viewport.Point `json:"from"`
	To     viewport.Point `json:"to"`
}

// Model is the in-memory diagram of one console. It is the single source of
// truth for drawing and for the next save; it is never merged with the
// backend between saves.
// It is not safe for concurrent use; the owning console serializes access.
type Model struct {
	graph    Graph
	index    map[string]int
	rendered map[string]viewport.Point

	editMode bool
	editable bool
	selected string

	store Store
}

// NewModel creates an empty, editable model saving through store.
func NewModel(store Store) *Model {
	m := &Model{store: store, editable: true}
	m.Load(Graph{})
	return m
}

// Load replaces the graph wholesale. Display fields are hydrated, unplaced
// nodes get a grid slot, duplicate ids keep the first node, and rendered
// positions are reset to the stored ones. The selection survives only if
// its node still exists.
func (m *Model) Load(g Graph) {
	nodes := make([]Node, 0, len(g.Nodes))
	index := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			logging.DebugLog("layout", "dropping node without id (type %q)", n.Type)
			continue
		}
		if _, dup := index[n.ID]; dup {
			logging.DebugLog("layout", "dropping duplicate node %q", n.ID)
			continue
		}
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}

	fallback := 0
	for i := range nodes {
		n := &nodes[i]
		if n.unplaced {
			n.Position = gridPosition(fallback)
			n.unplaced = false
			fallback++
		}
		n.Position = clampPoint(n.Position)
		if n.Metadata != nil {
			md := make(map[string]interface{}, len(n.Metadata))
			for k, v := range n.Metadata {
				md[k] = v
			}
			n.Metadata = md
		}
		n.hydrate()
	}

	m.graph = Graph{
		Nodes:       nodes,
		Connections: append([]Connection(nil), g.Connections...),
	}
	m.index = index
	m.rendered = make(map[string]viewport.Point, len(nodes))
	for _, n := range nodes {
		m.rendered[n.ID] = n.Position
	}
	if _, ok := index[m.selected]; !ok {
		m.selected = ""
	}
}

// Graph returns a copy of the held graph with stored positions.
func (m *Model) Graph() Graph {
	g := Graph{
		Nodes:       append([]Node(nil), m.graph.Nodes...),
		Connections: append([]Connection(nil), m.graph.Connections...),
	}
	return g
}

// Node returns a node by id.
func (m *Model) Node(id string) (Node, bool) {
	i, ok := m.index[id]
	if !ok {
		return Node{}, false
	}
	return m.graph.Nodes[i], true
}

// Len returns the number of nodes.
func (m *Model) Len() int { return len(m.graph.Nodes) }

// Rendered returns where a node is currently drawn.
func (m *Model) Rendered(id string) (viewport.Point, bool) {
	p, ok := m.rendered[id]
	return p, ok
}

// MoveRendered draws a node at pos (clamped to non-negative) and returns the
// segments of every connection touching it, recomputed for the new position.
func (m *Model) MoveRendered(id string, pos viewport.Point) ([]Segment, error) {
	if _, ok := m.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	m.rendered[id] = clampPoint(pos)
	return m.SegmentsFor(id), nil
}

// Commit writes a node's rendered position into the graph. It does not
// persist anything.
func (m *Model) Commit(id string) error {
	i, ok := m.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	m.graph.Nodes[i].Position = m.rendered[id]
	return nil
}

// CollectCurrentState snapshots the rendered positions (id, type, position
// only) together with the held connections.
func (m *Model) CollectCurrentState() Graph {
	g := Graph{
		Nodes:       make([]Node, 0, len(m.graph.Nodes)),
		Connections: append([]Connection{}, m.graph.Connections...),
	}
	for _, n := range m.graph.Nodes {
		g.Nodes = append(g.Nodes, Node{
			ID:       n.ID,
			Type:     n.Type,
			Position: m.rendered[n.ID],
		})
	}
	return g
}

// EditMode reports whether dragging and saving are enabled.
func (m *Model) EditMode() bool { return m.editMode }

// Editable reports whether edit mode may be turned on.
func (m *Model) Editable() bool { return m.editable }

// SetEditable locks edit mode off for read-only operators.
func (m *Model) SetEditable(editable bool) {
	m.editable = editable
	if !editable {
		m.editMode = false
	}
}

// SetEditMode switches edit mode. The graph is not touched.
func (m *Model) SetEditMode(on bool) error {
	if on && !m.editable {
		return ErrNotEditable
	}
	m.editMode = on
	return nil
}

// ToggleEditMode flips edit mode and returns the new state.
func (m *Model) ToggleEditMode() (bool, error) {
	if err := m.SetEditMode(!m.editMode); err != nil {
		return m.editMode, err
	}
	return m.editMode, nil
}

// Select marks exactly one node as selected, or none for an empty id.
// Unknown ids clear the selection.
func (m *Model) Select(id string) bool {
	if _, ok := m.index[id]; !ok {
		m.selected = ""
		return false
	}
	m.selected = id
	return true
}

// Selected returns the selected node id, or "".
func (m *Model) Selected() string { return m.selected }

// Bounds returns the canvas rectangle a node is drawn in.
func (m *Model) Bounds(id string) (viewport.Rect, bool) {
	p, ok := m.rendered[id]
	if !ok {
		return viewport.Rect{}, false
	}
	return viewport.RectAt(p, NodeWidth, NodeHeight), true
}

// Extent returns the size of the canvas area covered by rendered nodes,
// measured from the canvas origin.
func (m *Model) Extent() viewport.Point {
	var ext viewport.Point
	for _, p := range m.rendered {
		ext.X = math.Max(ext.X, p.X+NodeWidth)
		ext.Y = math.Max(ext.Y, p.Y+NodeHeight)
	}
	return ext
}

// NodeAt returns the topmost node under a canvas point. Later nodes are
// drawn on top of earlier ones.
func (m *Model) NodeAt(p viewport.Point) (string, bool) {
	for i := len(m.graph.Nodes) - 1; i >= 0; i-- {
		id := m.graph.Nodes[i].ID
		if r, _ := m.Bounds(id); r.Contains(p) {
			return id, true
		}
	}
	return "", false
}

func (m *Model) segment(c Connection) (Segment, bool) {
	src, ok := m.Bounds(c.Source)
	if !ok {
		return Segment{}, false
	}
	dst, ok := m.Bounds(c.Target)
	if !ok {
		return Segment{}, false
	}
	return Segment{
		Source: c.Source,
		Target: c.Target,
		Type:   c.Type,
		From:   src.Center(),
		To:     dst.Center(),
	}, true
}

// Segments returns the drawable connections. Connections with a missing
// endpoint are skipped.
func (m *Model) Segments() []Segment {
	out := make([]Segment, 0, len(m.graph.Connections))
	for _, c := range m.graph.Connections {
		if s, ok := m.segment(c); ok {
			out = append(out, s)
		}
	}
	return out
}

// SegmentsFor returns the drawable connections touching a node.
func (m *Model) SegmentsFor(id string) []Segment {
	var out []Segment
	for _, c := range m.graph.Connections {
		if c.Source != id && c.Target != id {
			continue
		}
		if s, ok := m.segment(c); ok {
			out = append(out, s)
		}
	}
	return out
}

// PrepareSave returns the sanitized document to PUT, or an error when edit
// mode is off.
func (m *Model) PrepareSave() (Graph, error) {
	if !m.editMode {
		return Graph{}, ErrEditModeDisabled
	}
	return Sanitize(m.CollectCurrentState()), nil
}

// Save PUTs the current state and replaces the graph with the echoed one.
// On failure the graph is left as it was. There is no retry.
func (m *Model) Save(ctx context.Context) error {
	if m.store == nil {
		return ErrNoStore
	}
	g, err := m.PrepareSave()
	if err != nil {
		return err
	}
	echo, err := m.store.PutLayout(ctx, g)
	if err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	m.Load(echo)
	return nil
}
