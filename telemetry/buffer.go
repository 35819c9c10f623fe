package telemetry

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// MaxPoints is the default per-register buffer capacity.
const MaxPoints = 100

// DefaultLabelFormat renders chart labels as wall-clock time.
const DefaultLabelFormat = "15:04:05"

// Point is one buffered reading.
type Point struct {
	Timestamp time.Time `json:"timestamp" msgpack:"ts"`
	Raw       string    `json:"raw_timestamp" msgpack:"raw"`
	Label     string    `json:"label" msgpack:"label"`
	Value     float64   `json:"-" msgpack:"value"`
	Unit      string    `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Violated  bool      `json:"violated" msgpack:"violated"`
	Sample    *Sample   `json:"-" msgpack:"-"`
}

// Buffer is a fixed-capacity FIFO of points kept in ascending timestamp
// order with no two points sharing a timestamp. When full, the oldest point
// is dropped. Buffers are owned by a Store and are not safe for concurrent use.
type Buffer struct {
	entries []Point
	head    int
	count   int
	size    int
}

// NewBuffer creates a buffer with the given capacity.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = MaxPoints
	}
	return &Buffer{
		entries: make([]Point, size),
		size:    size,
	}
}

// Len returns the number of buffered points.
func (b *Buffer) Len() int { return b.count }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.size }

func (b *Buffer) at(i int) *Point {
	return &b.entries[(b.head+i)%b.size]
}

// Last returns the newest point.
func (b *Buffer) Last() (Point, bool) {
	if b.count == 0 {
		return Point{}, false
	}
	return *b.at(b.count - 1), true
}

// contains reports whether a point with exactly this timestamp is buffered.
func (b *Buffer) contains(ts time.Time) bool {
	i := sort.Search(b.count, func(i int) bool { return !b.at(i).Timestamp.Before(ts) })
	return i < b.count && b.at(i).Timestamp.Equal(ts)
}

// push appends p as the newest point, overwriting the oldest if full.
func (b *Buffer) push(p Point) {
	idx := (b.head + b.count) % b.size
	if b.count == b.size {
		idx = b.head
		b.head = (b.head + 1) % b.size
	} else {
		b.count++
	}
	b.entries[idx] = p
}

// Ingest sorts pts by timestamp, skips timestamps already buffered (or
// repeated within pts) and inserts the rest in order. It returns the points
// that remain buffered after eviction, oldest first.
func (b *Buffer) Ingest(pts []Point) []Point {
	if len(pts) == 0 {
		return nil
	}
	sorted := make([]Point, len(pts))
	copy(sorted, pts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var fresh []Point
	for _, p := range sorted {
		if b.contains(p.Timestamp) {
			continue
		}
		if n := len(fresh); n > 0 && fresh[n-1].Timestamp.Equal(p.Timestamp) {
			continue
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return nil
	}

	last, ok := b.Last()
	if !ok || fresh[0].Timestamp.After(last.Timestamp) {
		for _, p := range fresh {
			b.push(p)
		}
	} else {
		b.merge(fresh)
	}

	// Report only what survived eviction.
	oldest := b.at(0).Timestamp
	added := fresh[:0:0]
	for _, p := range fresh {
		if !p.Timestamp.Before(oldest) {
			added = append(added, p)
		}
	}
	return added
}

// merge rebuilds the ring when incoming points interleave with buffered ones.
func (b *Buffer) merge(fresh []Point) {
	all := make([]Point, 0, b.count+len(fresh))
	all = append(all, b.Points()...)
	all = append(all, fresh...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if len(all) > b.size {
		all = all[len(all)-b.size:]
	}
	b.head = 0
	b.count = 0
	for i := range b.entries {
		b.entries[i] = Point{}
	}
	for _, p := range all {
		b.push(p)
	}
}

// Points returns a copy of the buffered points, oldest first.
func (b *Buffer) Points() []Point {
	out := make([]Point, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = *b.at(i)
	}
	return out
}

// Labels returns the formatted timestamps, oldest first.
func (b *Buffer) Labels() []string {
	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.at(i).Label
	}
	return out
}

// Values returns the numeric values, oldest first. Unparseable readings are NaN.
func (b *Buffer) Values() []float64 {
	out := make([]float64, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.at(i).Value
	}
	return out
}

// Since returns points with timestamps strictly after ts, in order.
func (b *Buffer) Since(ts time.Time) []Point {
	var result []Point
	for i := 0; i < b.count; i++ {
		if p := b.at(i); p.Timestamp.After(ts) {
			result = append(result, *p)
		}
	}
	return result
}

// Reevaluate recomputes every violated flag against def.
func (b *Buffer) Reevaluate(def *AlarmDefinition) {
	for i := 0; i < b.count; i++ {
		p := b.at(i)
		p.Violated = Evaluate(p.Value, def)
	}
}

// Reset drops every point.
func (b *Buffer) Reset() {
	for i := range b.entries {
		b.entries[i] = Point{}
	}
	b.head = 0
	b.count = 0
}

// formatNumber prints a value the way the console shows readings.
func formatNumber(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatValue prints a reading with its unit, or "--" when NaN.
func FormatValue(v float64, unit string) string {
	if math.IsNaN(v) {
		return "--"
	}
	if unit == "" {
		return formatNumber(v)
	}
	return formatNumber(v) + " " + unit
}
