package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoData is returned when a spec has nothing to draw.
var ErrNoData = errors.New("chart has no finite values")

// Default image size.
const (
	DefaultWidth  = 800
	DefaultHeight = 320
)

func (c Color) toDrawing() drawing.Color {
	a := math.Max(0, math.Min(1, c.A))
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(a * 255))}
}

// seriesStyle styles a dataset; orig maps series indexes back to dataset
// indexes once NaN values have been dropped.
func seriesStyle(d Dataset, orig []int) gochart.Style {
	st := gochart.Style{
		StrokeColor:     d.BorderColor.toDrawing(),
		StrokeWidth:     float64(d.BorderWidth),
		StrokeDashArray: dashArray(d.BorderDash),
	}
	if d.Kind == KindValue {
		st.DotWidth = RadiusNormal
		st.DotColor = ColorPrimary.toDrawing()
		st.DotColorProvider = func(_, _ gochart.Range, index int, _, _ float64) drawing.Color {
			if index < len(orig) && orig[index] < len(d.PointBackground) {
				return d.PointBackground[orig[index]].toDrawing()
			}
			return ColorPrimary.toDrawing()
		}
	}
	return st
}

func dashArray(dash []int) []float64 {
	if len(dash) == 0 {
		return nil
	}
	out := make([]float64, len(dash))
	for i, v := range dash {
		out[i] = float64(v)
	}
	return out
}

// RenderPNG rasterises a spec. NaN values are dropped from the trace; the x
// axis is the point index so labels with equal text do not collapse.
func RenderPNG(spec Spec, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	lo, hi, ok := spec.Bounds()
	if !ok {
		return nil, ErrNoData
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}

	var series []gochart.Series
	for _, d := range spec.Datasets {
		var xs, ys []float64
		var orig []int
		for i, v := range d.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			xs = append(xs, float64(i))
			ys = append(ys, v)
			orig = append(orig, i)
		}
		if len(xs) == 0 {
			continue
		}
		// go-chart needs two points to draw a line.
		if len(xs) == 1 {
			xs = append(xs, xs[0]+1)
			ys = append(ys, ys[0])
		}
		series = append(series, gochart.ContinuousSeries{
			Name:    d.Label,
			XValues: xs,
			YValues: ys,
			Style:   seriesStyle(d, orig),
		})
	}

	ch := gochart.Chart{
		Title:      spec.Title,
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: gochart.Box{Top: 24, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      gochart.XAxis{Ticks: labelTicks(spec.Labels)},
		YAxis: gochart.YAxis{
			Name:  spec.Unit,
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: series,
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart %s: %w", spec.RegisterID, err)
	}
	return buf.Bytes(), nil
}

// labelTicks places at most eight time labels along the index axis.
func labelTicks(labels []string) []gochart.Tick {
	if len(labels) == 0 {
		return nil
	}
	step := int(math.Ceil(float64(len(labels)) / 8))
	if step < 1 {
		step = 1
	}
	var ticks []gochart.Tick
	for i := 0; i < len(labels); i += step {
		ticks = append(ticks, gochart.Tick{Value: float64(i), Label: labels[i]})
	}
	return ticks
}
