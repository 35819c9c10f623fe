// Package viewport holds the pan/zoom state of the floor diagram and converts
// between screen space (pointer coordinates relative to the viewport) and
// canvas space (where node positions are stored).
package viewport

import "math"

// Default zoom limits.
const (
	DefaultMinZoom  = 0.5
	DefaultMaxZoom  = 2.5
	DefaultZoomStep = 0.1
)

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" yaml:"y" msgpack:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Scale returns p*k.
func (p Point) Scale(k float64) Point { return Point{X: p.X * k, Y: p.Y * k} }

// Div returns p/k.
func (p Point) Div(k float64) Point { return Point{X: p.X / k, Y: p.Y / k} }

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Rect is an axis-aligned rectangle. Min is the top-left corner.
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// RectAt builds a rectangle from its top-left corner and size.
func RectAt(origin Point, w, h float64) Rect {
	return Rect{Min: origin, Max: Point{X: origin.X + w, Y: origin.Y + h}}
}

// Contains reports whether p lies inside r (edges inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// Width returns the horizontal extent of r.
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height returns the vertical extent of r.
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// ZoomLimits bounds the zoom level.
type ZoomLimits struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// DefaultLimits returns the standard 0.5..2.5 range with 0.1 steps.
func DefaultLimits() ZoomLimits {
	return ZoomLimits{Min: DefaultMinZoom, Max: DefaultMaxZoom, Step: DefaultZoomStep}
}

// normalized fills zero or inverted fields with defaults.
func (l ZoomLimits) normalized() ZoomLimits {
	d := DefaultLimits()
	if l.Min <= 0 {
		l.Min = d.Min
	}
	if l.Max <= 0 {
		l.Max = d.Max
	}
	if l.Max < l.Min {
		l.Min, l.Max = l.Max, l.Min
	}
	if l.Step <= 0 {
		l.Step = d.Step
	}
	return l
}

// Clamp restricts level to [Min, Max].
func (l ZoomLimits) Clamp(level float64) float64 {
	if math.IsNaN(level) {
		return l.Min
	}
	return math.Min(l.Max, math.Max(l.Min, level))
}

// State is a serializable copy of the transform.
type State struct {
	Pan  Point   `json:"pan"`
	Zoom float64 `json:"zoom"`
}

// ToCanvas converts a viewport-relative screen point to canvas space.
func (s State) ToCanvas(screen Point) Point {
	return screen.Sub(s.Pan).Div(s.Zoom)
}

// ToScreen converts a canvas point to viewport-relative screen space.
func (s State) ToScreen(canvas Point) Point {
	return canvas.Scale(s.Zoom).Add(s.Pan)
}

// Viewport is the pan/zoom transform of the diagram surface.
// It is not safe for concurrent use; the owning console serializes access.
type Viewport struct {
	pan    Point
	zoom   float64
	limits ZoomLimits
}

// New creates a viewport at the origin with zoom 1 (clamped into limits).
func New(limits ZoomLimits) *Viewport {
	v := &Viewport{limits: limits.normalized()}
	v.Reset()
	return v
}

// Limits returns the zoom limits.
func (v *Viewport) Limits() ZoomLimits { return v.limits }

// Pan returns the current pan offset in screen pixels.
func (v *Viewport) Pan() Point { return v.pan }

// Zoom returns the current zoom level.
func (v *Viewport) Zoom() float64 { return v.zoom }

// State returns a copy of pan and zoom.
func (v *Viewport) State() State { return State{Pan: v.pan, Zoom: v.zoom} }

// Percent returns the zoom level as a rounded percentage.
func (v *Viewport) Percent() int { return int(math.Round(v.zoom * 100)) }

// SetPan replaces the pan offset. Pan is unconstrained.
func (v *Viewport) SetPan(p Point) { v.pan = p }

// Reset moves pan back to the origin and zoom to 1.
func (v *Viewport) Reset() {
	v.pan = Point{}
	v.zoom = v.limits.Clamp(1)
}

// ToCanvas converts a viewport-relative screen point to canvas space.
func (v *Viewport) ToCanvas(screen Point) Point {
	return v.State().ToCanvas(screen)
}

// ToScreen converts a canvas point to viewport-relative screen space.
func (v *Viewport) ToScreen(canvas Point) Point {
	return v.State().ToScreen(canvas)
}

// SetZoomAtPoint changes the zoom level while keeping the canvas point under
// screen fixed. The level is clamped; it returns false when nothing changed.
func (v *Viewport) SetZoomAtPoint(screen Point, level float64) bool {
	next := v.limits.Clamp(level)
	if next == v.zoom {
		return false
	}
	anchor := v.ToCanvas(screen)
	v.zoom = next
	v.pan = screen.Sub(anchor.Scale(next))
	return true
}

// ZoomStep zooms one step in (direction > 0) or out (direction < 0) around screen.
func (v *Viewport) ZoomStep(screen Point, direction int) bool {
	switch {
	case direction > 0:
		return v.SetZoomAtPoint(screen, roundStep(v.zoom+v.limits.Step))
	case direction < 0:
		return v.SetZoomAtPoint(screen, roundStep(v.zoom-v.limits.Step))
	}
	return false
}

// roundStep removes float drift from repeated step additions.
func roundStep(level float64) float64 {
	return math.Round(level*1e6) / 1e6
}

// SurfaceRect returns the screen-space bounding box of the transformed
// surface whose untransformed size is (w, h).
func (v *Viewport) SurfaceRect(w, h float64) Rect {
	return RectAt(v.pan, w*v.zoom, h*v.zoom)
}

// SurfaceToCanvas converts a screen point to canvas space using the rendered
// bounding box of the surface. Pan is carried by the box origin, so only the
// scale factor is compensated.
func (v *Viewport) SurfaceToCanvas(screen Point, surface Rect) Point {
	return screen.Sub(surface.Min).Div(v.zoom)
}
