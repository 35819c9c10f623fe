// Package layout holds the floor diagram graph: nodes placed in canvas space,
// the connections between them, edit mode and selection.
package layout

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"floorview/viewport"
)

// Node kinds as the console treats them.
const (
	KindPLC    = "plc"
	KindDevice = "device"
	KindOther  = "other"
)

// Node statuses.
const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusAlarm    = "alarm"
	StatusInactive = "inactive"
)

// DefaultConnectionType is stored for connections saved without a type.
const DefaultConnectionType = "link"

// Grid used to place nodes the backend sent without a position.
const (
	gridColumns  = 4
	gridOriginX  = 60
	gridOriginY  = 60
	gridSpacingX = 240
	gridSpacingY = 180
)

// Node is one equipment box on the diagram.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Position viewport.Point         `json:"position"`
	Status   string                 `json:"status,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Display fields sent by the backend or hydrated on load. Never saved.
	Name          string `json:"name,omitempty"`
	Label         string `json:"label,omitempty"`
	MetaLine      string `json:"meta_line,omitempty"`
	LocationLabel string `json:"location_label,omitempty"`
	StatusLabel   string `json:"status_label,omitempty"`

	unplaced bool
}

// UnmarshalJSON records whether the payload carried a usable position.
func (n *Node) UnmarshalJSON(data []byte) error {
	type wire Node
	var w struct {
		wire
		Position *struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		} `json:"position"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = Node(w.wire)
	n.Position = viewport.Point{}
	n.unplaced = true
	if w.Position != nil && w.Position.X != nil && w.Position.Y != nil {
		n.Position = viewport.Point{X: *w.Position.X, Y: *w.Position.Y}
		n.unplaced = false
	}
	return nil
}

// Placed reports whether the node has a position of its own.
func (n Node) Placed() bool { return !n.unplaced }

// Kind maps the backend type onto plc, device or other.
func (n Node) Kind() string {
	switch strings.ToLower(n.Type) {
	case KindPLC, "clp":
		return KindPLC
	case KindDevice:
		return KindDevice
	default:
		return KindOther
	}
}

// Monitored reports whether selecting the node should open its device detail.
func (n Node) Monitored() bool {
	if k := n.Kind(); k == KindPLC || k == KindDevice {
		return true
	}
	_, plc := n.metaID("plc_id")
	_, dev := n.metaID("device_id")
	return plc || dev
}

// DeviceID resolves the backend device id: metadata plc_id or device_id,
// otherwise the node id without its "plc-" or "device-" prefix.
func (n Node) DeviceID() string {
	if id, ok := n.metaID("plc_id"); ok {
		return id
	}
	if id, ok := n.metaID("device_id"); ok {
		return id
	}
	id := strings.TrimPrefix(n.ID, "plc-")
	return strings.TrimPrefix(id, "device-")
}

// FocusRegister returns the register id carried in metadata, if any.
func (n Node) FocusRegister() (string, bool) {
	return n.metaID("register_id")
}

func (n Node) metaID(key string) (string, bool) {
	v, ok := n.Metadata[key]
	if !ok || v == nil {
		return "", false
	}
	s := formatID(v)
	return s, s != ""
}

func formatID(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func (n Node) metaString(key string) string {
	if s, ok := n.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// StatusLabel returns the label shown for a status.
func StatusLabel(status string) string {
	switch status {
	case StatusAlarm:
		return "In alarm"
	case StatusOffline:
		return "Offline"
	case StatusInactive:
		return "Inactive"
	default:
		return "Online"
	}
}

// hydrate fills the display fields from metadata.
func (n *Node) hydrate() {
	if n.Status == "" {
		n.Status = StatusOnline
	}
	if n.StatusLabel == "" {
		n.StatusLabel = StatusLabel(n.Status)
	}
	if n.Label == "" {
		n.Label = n.Name
	}
	if n.Label == "" {
		n.Label = n.ID
	}
	if n.LocationLabel == "" {
		n.LocationLabel = n.metaString("location_label")
	}
	if n.LocationLabel == "" {
		n.LocationLabel = n.metaString("location")
	}
}

// Connection links two nodes. Direction is irrelevant for drawing.
type Connection struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
}

// Graph is a full diagram document as exchanged with the backend.
type Graph struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Sanitize drops nodes without id or type and connections without both
// endpoints, and defaults the connection type. Only id, type and position
// of each node are kept.
func Sanitize(g Graph) Graph {
	out := Graph{
		Nodes:       make([]Node, 0, len(g.Nodes)),
		Connections: make([]Connection, 0, len(g.Connections)),
	}
	for _, n := range g.Nodes {
		if n.ID == "" || n.Type == "" {
			continue
		}
		out.Nodes = append(out.Nodes, Node{ID: n.ID, Type: n.Type, Position: n.Position})
	}
	for _, c := range g.Connections {
		if c.Source == "" || c.Target == "" {
			continue
		}
		if c.Type == "" {
			c.Type = DefaultConnectionType
		}
		out.Connections = append(out.Connections, c)
	}
	return out
}

// gridPosition is where the i-th unplaced node goes.
func gridPosition(i int) viewport.Point {
	return viewport.Point{
		X: float64(gridOriginX + (i%gridColumns)*gridSpacingX),
		Y: float64(gridOriginY + (i/gridColumns)*gridSpacingY),
	}
}

func clampPoint(p viewport.Point) viewport.Point {
	return viewport.Point{X: math.Max(0, p.X), Y: math.Max(0, p.Y)}
}
