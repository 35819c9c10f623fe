package tui

import (
	"math"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"floorview/engine"
	"floorview/layout"
	"floorview/pointer"
	"floorview/viewport"
)

// A terminal cell stands for a cellW x cellH block of screen space, so the
// diagram keeps the same proportions as in the browser.
const (
	cellW = 8.0
	cellH = 16.0
)

// mousePointerID is the pointer id of the terminal mouse.
const mousePointerID = 1

// cellToScreen maps a cell offset inside the diagram to the screen point at
// the cell's centre.
func cellToScreen(col, row int) viewport.Point {
	return viewport.Point{X: (float64(col) + 0.5) * cellW, Y: (float64(row) + 0.5) * cellH}
}

// screenToCell maps a screen point to the cell containing it.
func screenToCell(p viewport.Point) (int, int) {
	return int(math.Floor(p.X / cellW)), int(math.Floor(p.Y / cellH))
}

// cellRect is a node box in cells, relative to the diagram's inner rect.
type cellRect struct {
	x, y, w, h int
}

func nodeCells(vp viewport.State, n layout.Node) cellRect {
	tl := vp.ToScreen(n.Position)
	br := vp.ToScreen(n.Position.Add(viewport.Point{X: layout.NodeWidth, Y: layout.NodeHeight}))
	x0, y0 := screenToCell(tl)
	x1, y1 := screenToCell(br)
	r := cellRect{x: x0, y: y0, w: x1 - x0, h: y1 - y0}
	if r.w < 3 {
		r.w = 3
	}
	if r.h < 3 {
		r.h = 3
	}
	return r
}

// lineCells rasterizes a segment between two cells (Bresenham).
func lineCells(x0, y0, x1, y1 int) [][2]int {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	var out [][2]int
	e := dx + dy
	for {
		out = append(out, [2]int{x0, y0})
		if x0 == x1 && y0 == y1 {
			return out
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func nodeColor(th Theme, status string) tcell.Color {
	switch status {
	case layout.StatusOffline:
		return th.NodeOffline
	case layout.StatusAlarm:
		return th.NodeAlarm
	case layout.StatusInactive:
		return th.NodeInactive
	default:
		return th.NodeOnline
	}
}

// nodeTitle is the first line drawn inside a node box.
func nodeTitle(n layout.Node) string {
	switch {
	case n.Name != "":
		return n.Name
	case n.Label != "":
		return n.Label
	default:
		return n.ID
	}
}

// DiagramView draws a console's floor diagram and turns terminal mouse
// input into pointer events.
type DiagramView struct {
	*tview.Box

	console *engine.Console

	diagram  engine.LayoutEvent
	vp       engine.ViewportEvent
	selected string
	pressed  bool

	// onSelect is called after a click selected a node.
	onSelect func(id string)
}

// NewDiagramView creates a diagram bound to a console.
func NewDiagramView(c *engine.Console) *DiagramView {
	d := &DiagramView{Box: tview.NewBox(), console: c}
	d.SetBorder(true).SetTitle(" Floor ")
	d.applyTheme()
	d.Sync()
	return d
}

func (d *DiagramView) applyTheme() {
	th := CurrentTheme
	d.SetBorderColor(th.Border).SetTitleColor(th.Accent)
}

// Sync copies the console's diagram and viewport for drawing.
// Must be called from the UI goroutine.
func (d *DiagramView) Sync() {
	d.diagram = d.console.Diagram()
	d.vp = d.console.Viewport()
	d.selected = d.console.Selected()
}

// Center returns the screen point at the middle of the diagram area.
func (d *DiagramView) Center() viewport.Point {
	_, _, w, h := d.GetInnerRect()
	return viewport.Point{X: float64(w) * cellW / 2, Y: float64(h) * cellH / 2}
}

// Draw draws the connections, then the nodes on top.
func (d *DiagramView) Draw(screen tcell.Screen) {
	d.Box.Draw(screen)
	x, y, w, h := d.GetInnerRect()
	th := CurrentTheme

	put := func(cx, cy int, r rune, style tcell.Style) {
		if cx < 0 || cy < 0 || cx >= w || cy >= h {
			return
		}
		screen.SetContent(x+cx, y+cy, r, nil, style)
	}

	edgeStyle := tcell.StyleDefault.Foreground(th.Edge).Background(th.Background)
	for _, s := range d.diagram.Segments {
		fx, fy := screenToCell(d.vp.Viewport.ToScreen(s.From))
		tx, ty := screenToCell(d.vp.Viewport.ToScreen(s.To))
		for _, c := range lineCells(fx, fy, tx, ty) {
			put(c[0], c[1], '·', edgeStyle)
		}
	}

	for _, n := range d.diagram.Graph.Nodes {
		r := nodeCells(d.vp.Viewport, n)
		color := nodeColor(th, n.Status)
		border := tcell.StyleDefault.Foreground(color).Background(th.Background)
		fill := tcell.StyleDefault.Foreground(th.Text).Background(th.Background)
		if n.ID == d.selected {
			border = border.Foreground(th.Accent).Bold(true)
			fill = fill.Background(th.Selected)
		}
		for cy := r.y; cy < r.y+r.h; cy++ {
			for cx := r.x; cx < r.x+r.w; cx++ {
				ch := ' '
				style := fill
				top, bottom := cy == r.y, cy == r.y+r.h-1
				left, right := cx == r.x, cx == r.x+r.w-1
				switch {
				case top && left:
					ch, style = '┌', border
				case top && right:
					ch, style = '┐', border
				case bottom && left:
					ch, style = '└', border
				case bottom && right:
					ch, style = '┘', border
				case top || bottom:
					ch, style = '─', border
				case left || right:
					ch, style = '│', border
				}
				put(cx, cy, ch, style)
			}
		}
		lines := []string{nodeTitle(n), n.MetaLine, n.LocationLabel}
		inner := r.w - 2
		for i, line := range lines {
			row := r.y + 1 + i
			if line == "" || row >= r.y+r.h-1 || inner <= 0 {
				continue
			}
			runes := []rune(line)
			if len(runes) > inner {
				runes = runes[:inner]
			}
			style := fill
			if i == 0 {
				style = style.Bold(true)
			} else {
				style = style.Foreground(th.TextDim)
			}
			for j, ch := range runes {
				put(r.x+1+j, row, ch, style)
			}
		}
	}

	if d.diagram.EditMode {
		label := " EDIT "
		for i, ch := range label {
			put(w-len(label)+i, 0, ch, tcell.StyleDefault.Foreground(th.Background).Background(th.Warning))
		}
	}
}

// MouseHandler maps terminal mouse actions to pointer events. The diagram
// captures the mouse while a button is held so drags continue outside it.
func (d *DiagramView) MouseHandler() func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (consumed bool, capture tview.Primitive) {
	return d.WrapMouseHandler(func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (consumed bool, capture tview.Primitive) {
		mx, my := event.Position()
		inside := d.InRect(mx, my)
		if !inside && !d.pressed {
			return false, nil
		}
		x, y, _, _ := d.GetInnerRect()
		pos := cellToScreen(mx-x, my-y)
		ev := pointer.Event{PointerID: mousePointerID, Button: pointer.ButtonPrimary, Pos: pos}

		switch action {
		case tview.MouseLeftDown:
			setFocus(d)
			ev.Kind = pointer.Down
			ev.Target, _ = d.console.NodeAt(pos)
			d.pressed = true
		case tview.MouseMove:
			if !d.pressed {
				return inside, nil
			}
			ev.Kind = pointer.Move
		case tview.MouseLeftUp:
			if !d.pressed {
				return inside, nil
			}
			ev.Kind = pointer.Up
			d.pressed = false
		case tview.MouseScrollUp, tview.MouseScrollDown:
			// The terminal has no page to scroll, so the wheel always zooms.
			ev.Kind = pointer.Wheel
			ev.Ctrl = true
			ev.DeltaY = 1
			if action == tview.MouseScrollUp {
				ev.DeltaY = -1
			}
		default:
			return inside, nil
		}

		res := d.console.HandlePointer(ev)
		d.Sync()
		if res.Selected != "" && d.onSelect != nil {
			d.onSelect(res.Selected)
		}
		if d.pressed {
			return true, d
		}
		return true, nil
	})
}

// InputHandler handles diagram keys that need the viewport centre.
func (d *DiagramView) InputHandler() func(event *tcell.EventKey, setFocus func(p tview.Primitive)) {
	return d.WrapInputHandler(func(event *tcell.EventKey, setFocus func(p tview.Primitive)) {
		switch event.Rune() {
		case '+', '=':
			d.console.ZoomIn(d.Center())
		case '-', '_':
			d.console.ZoomOut(d.Center())
		case '0':
			d.console.ResetView()
		case 'n':
			d.console.Select(d.neighbour(1))
		case 'p':
			d.console.Select(d.neighbour(-1))
		default:
			return
		}
		d.Sync()
	})
}

// Blur ends a press when focus moves away mid-drag.
func (d *DiagramView) Blur() {
	if d.pressed {
		d.pressed = false
		d.console.HandlePointer(pointer.Event{Kind: pointer.Cancel, PointerID: mousePointerID})
		d.Sync()
	}
	d.Box.Blur()
}

// neighbour returns the node id step places from the selection, wrapping.
func (d *DiagramView) neighbour(step int) string {
	nodes := d.diagram.Graph.Nodes
	if len(nodes) == 0 {
		return ""
	}
	idx := -1
	for i, n := range nodes {
		if n.ID == d.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		if step > 0 {
			return nodes[0].ID
		}
		return nodes[len(nodes)-1].ID
	}
	idx = (idx + step + len(nodes)) % len(nodes)
	return nodes[idx].ID
}
