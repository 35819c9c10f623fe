package telemetry

import (
	"reflect"
	"sort"
	"strconv"
	"time"

	"floorview/logging"
)

// Options configures a Store.
type Options struct {
	MaxPoints   int
	LabelFormat string
	Location    *time.Location
}

// Reading is the latest value of a register.
type Reading struct {
	RegisterID string           `json:"register_id"`
	Name       string           `json:"name"`
	Value      float64          `json:"-"`
	Display    string           `json:"value"`
	Unit       string           `json:"unit"`
	Violated   bool             `json:"violated"`
	Timestamp  time.Time        `json:"timestamp"`
	Definition *AlarmDefinition `json:"definition,omitempty"`
}

// Violation is a change of a register's violation state, judged on its
// newest point.
type Violation struct {
	RegisterID string           `json:"register_id"`
	Name       string           `json:"name"`
	Value      float64          `json:"-"`
	Display    string           `json:"value"`
	Unit       string           `json:"unit,omitempty"`
	Definition *AlarmDefinition `json:"definition,omitempty"`
	Entered    bool             `json:"entered"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Update summarizes what one Apply or Seed changed.
type Update struct {
	Changed    []string
	Added      int
	Skipped    int
	Violations []Violation
}

// Store holds the telemetry of one view: a buffer per register, the alarm
// definitions, register names and the active alarm log.
// It is not safe for concurrent use; the owning console serializes access.
type Store struct {
	maxPoints   int
	labelFormat string
	loc         *time.Location

	buffers   map[string]*Buffer
	defs      map[string]*AlarmDefinition
	registers map[string]RegisterInfo
	units     map[string]string
	alarms    []ActiveAlarm
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = MaxPoints
	}
	if opts.LabelFormat == "" {
		opts.LabelFormat = DefaultLabelFormat
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Store{
		maxPoints:   opts.MaxPoints,
		labelFormat: opts.LabelFormat,
		loc:         opts.Location,
	}
	s.Reset()
	return s
}

// Reset drops all buffers and definitions.
func (s *Store) Reset() {
	s.buffers = make(map[string]*Buffer)
	s.defs = make(map[string]*AlarmDefinition)
	s.registers = make(map[string]RegisterInfo)
	s.units = make(map[string]string)
	s.alarms = nil
}

// MaxPoints returns the per-register capacity.
func (s *Store) MaxPoints() int { return s.maxPoints }

// Apply ingests a poll payload. Only registers listed in the payload are
// processed; when the list is empty the registers found in data are used.
func (s *Store) Apply(p *Payload) Update {
	var up Update
	if p == nil {
		return up
	}

	defs := make(map[string]*AlarmDefinition, len(p.Definitions))
	for i := range p.Definitions {
		d := p.Definitions[i]
		if d.RegisterID == "" {
			continue
		}
		defs[string(d.RegisterID)] = &d
	}

	byRegister := make(map[string][]Sample)
	for _, smp := range p.Data {
		rid := string(smp.RegisterID)
		byRegister[rid] = append(byRegister[rid], smp)
	}

	ids := make([]string, 0, len(p.Registers))
	if len(p.Registers) > 0 {
		for id, info := range p.Registers {
			s.registers[id] = info
			ids = append(ids, id)
		}
	} else {
		for id := range byRegister {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)

	for _, id := range ids {
		s.ingest(id, byRegister[id], defs[id], true, &up)
	}

	if p.Alarms != nil {
		s.alarms = append([]ActiveAlarm(nil), p.Alarms...)
	}
	return up
}

// Seed fills a register from the device detail telemetry map before polling
// takes over. Existing definitions are kept.
func (s *Store) Seed(registerID string, samples []Sample) Update {
	var up Update
	s.ingest(registerID, samples, s.defs[registerID], false, &up)
	return up
}

// SetRegisterInfo records display data for a register.
func (s *Store) SetRegisterInfo(id string, info RegisterInfo) {
	s.registers[id] = info
}

func (s *Store) ingest(id string, samples []Sample, def *AlarmDefinition, replaceDef bool, up *Update) {
	buf := s.buffers[id]
	created := buf == nil
	if created {
		buf = NewBuffer(s.maxPoints)
		s.buffers[id] = buf
	}

	prev, hadPrev := buf.Last()

	defChanged := false
	if replaceDef && !reflect.DeepEqual(s.defs[id], def) {
		if def == nil {
			delete(s.defs, id)
		} else {
			s.defs[id] = def
		}
		defChanged = true
		buf.Reevaluate(def)
	}

	pts := make([]Point, 0, len(samples))
	for i := range samples {
		smp := samples[i]
		ts, ok := ParseTimestamp(smp.Timestamp, s.loc)
		if !ok {
			up.Skipped++
			logging.DebugLog("telemetry", "register %s: skipping sample with timestamp %q", id, smp.Timestamp)
			continue
		}
		v := smp.Value()
		pts = append(pts, Point{
			Timestamp: ts,
			Raw:       smp.Timestamp,
			Label:     ts.In(s.loc).Format(s.labelFormat),
			Value:     v,
			Unit:      smp.Unit,
			Violated:  Evaluate(v, def),
			Sample:    &smp,
		})
	}

	added := buf.Ingest(pts)
	up.Added += len(added)

	if unit := lastUnit(pts); unit != "" {
		s.units[id] = unit
	} else if def != nil && def.Unit != "" && s.units[id] == "" {
		s.units[id] = def.Unit
	}

	if created || defChanged || len(added) > 0 {
		up.Changed = append(up.Changed, id)
	}

	cur, hasCur := buf.Last()
	if !hasCur {
		return
	}
	wasViolated := hadPrev && prev.Violated
	if cur.Violated != wasViolated {
		up.Violations = append(up.Violations, Violation{
			RegisterID: id,
			Name:       s.registerName(id),
			Value:      cur.Value,
			Display:    FormatValue(cur.Value, s.units[id]),
			Unit:       s.units[id],
			Definition: s.defs[id],
			Entered:    cur.Violated,
			Timestamp:  cur.Timestamp,
		})
	}
}

func lastUnit(pts []Point) string {
	var unit string
	var newest time.Time
	for _, p := range pts {
		if p.Unit != "" && !p.Timestamp.Before(newest) {
			unit = p.Unit
			newest = p.Timestamp
		}
	}
	return unit
}

func (s *Store) registerName(id string) string {
	return s.registers[id].DisplayName(id)
}

// Buffer returns the buffer of a register, or nil.
func (s *Store) Buffer(id string) *Buffer { return s.buffers[id] }

// Definition returns the alarm definition of a register, or nil.
func (s *Store) Definition(id string) *AlarmDefinition { return s.defs[id] }

// Unit returns the unit shown for a register.
func (s *Store) Unit(id string) string { return s.units[id] }

// Name returns the display name of a register.
func (s *Store) Name(id string) string { return s.registerName(id) }

// Registers returns the ids of all buffered registers in display order.
func (s *Store) Registers() []string {
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Latest returns the newest reading of a register.
func (s *Store) Latest(id string) (Reading, bool) {
	buf := s.buffers[id]
	if buf == nil {
		return Reading{}, false
	}
	p, ok := buf.Last()
	if !ok {
		return Reading{}, false
	}
	unit := s.units[id]
	return Reading{
		RegisterID: id,
		Name:       s.registerName(id),
		Value:      p.Value,
		Display:    FormatValue(p.Value, unit),
		Unit:       unit,
		Violated:   p.Violated,
		Timestamp:  p.Timestamp,
		Definition: s.defs[id],
	}, true
}

// Readings returns the latest reading of every register that has one.
func (s *Store) Readings() []Reading {
	var out []Reading
	for _, id := range s.Registers() {
		if r, ok := s.Latest(id); ok {
			out = append(out, r)
		}
	}
	return out
}

// Alarms returns the alarm log from the last payload that carried one.
func (s *Store) Alarms() []ActiveAlarm {
	return append([]ActiveAlarm(nil), s.alarms...)
}

// sortIDs orders numeric ids numerically and the rest lexically after them.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.ParseFloat(ids[i], 64)
		b, berr := strconv.ParseFloat(ids[j], 64)
		switch {
		case aerr == nil && berr == nil:
			if a != b {
				return a < b
			}
			return ids[i] < ids[j]
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
