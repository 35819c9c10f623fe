package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"floorview/chart"
	"floorview/client"
	"floorview/config"
	"floorview/layout"
	"floorview/logging"
	"floorview/pointer"
	"floorview/poll"
	"floorview/telemetry"
	"floorview/valkey"
	"floorview/viewport"
)

// Backend is the part of the plant API a console reads and writes.
// *client.Client satisfies it.
type Backend interface {
	Summary(ctx context.Context) (*client.Summary, error)
	Layout(ctx context.Context) (*client.LayoutEnvelope, error)
	PutLayout(ctx context.Context, g layout.Graph) (layout.Graph, error)
	Devices(ctx context.Context) ([]client.DeviceSummary, error)
	Device(ctx context.Context, id string) (*client.DeviceDetail, error)
	Trend(ctx context.Context, registerID string) (*client.Trend, error)
	SubmitCommand(ctx context.Context, registerID string, cmd client.Command) (*client.CommandResult, error)
	PollTelemetry(ctx context.Context, address, vlan string) (*telemetry.Payload, error)
}

var _ Backend = (*client.Client)(nil)

// LayoutCache supplies a diagram when the backend cannot.
// *valkey.Manager satisfies it.
type LayoutCache interface {
	LoadLayout(ctx context.Context) (layout.Graph, bool)
}

var _ LayoutCache = (*valkey.Manager)(nil)

// ConsoleOptions configures a Console.
type ConsoleOptions struct {
	ID   string
	Role string

	PollInterval time.Duration
	MaxPoints    int
	LabelFormat  string
	Location     *time.Location
	Limits       viewport.ZoomLimits

	// Device is opened in the live view by Open when set.
	Device string
	VLAN   string

	Sink  Sink
	Cache LayoutCache
}

// View identifies the device shown in the live view.
type View struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	VLAN     string `json:"vlan,omitempty"`
	Focus    string `json:"focus,omitempty"`
}

// Console is one operator's view of the plant: the diagram with its
// viewport and pointer state, the inspector detail, and the live telemetry
// view of at most one device.
//
// All state sits behind one mutex. Network calls are made without it and
// their results are applied under it; events are emitted after it is
// released so subscribers may call back into the console.
type Console struct {
	id      string
	role    string
	opts    ConsoleOptions
	backend Backend
	sink    Sink
	cache   LayoutCache

	// Events carries this console's updates to its front-end.
	Events *EventBus

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	vp        *viewport.Viewport
	model     *layout.Model
	machine   *pointer.Machine
	store     *telemetry.Store
	projector chart.Projector
	charts    *chart.Registry
	seq       telemetry.Sequencer
	scheduler *poll.Scheduler

	selToken uint64 // bumped on every selection; stale detail lookups are dropped
	viewGen  uint64 // bumped on every view change; stale polls are dropped
	view     *View
	detail   *client.DeviceDetail
	focus    string
	summary  *client.Summary
	devices  []client.DeviceSummary
	status   Status
	closed   bool
}

// NewConsole creates a console with an empty diagram. Call Open to load it.
func NewConsole(backend Backend, opts ConsoleOptions) *Console {
	if opts.Role == "" {
		opts.Role = config.RoleViewer
	}
	if opts.Limits == (viewport.ZoomLimits{}) {
		opts.Limits = viewport.DefaultLimits()
	}
	sink := opts.Sink
	if sink == nil {
		sink = discardSink{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	vp := viewport.New(opts.Limits)
	model := layout.NewModel(backend)
	model.SetEditable(config.RoleAllows(opts.Role, config.RoleAdmin))

	return &Console{
		id:      opts.ID,
		role:    opts.Role,
		opts:    opts,
		backend: backend,
		sink:    sink,
		cache:   opts.Cache,
		Events:  NewEventBus(),
		ctx:     ctx,
		cancel:  cancel,
		vp:      vp,
		model:   model,
		machine: pointer.New(vp, model),
		store: telemetry.NewStore(telemetry.Options{
			MaxPoints:   opts.MaxPoints,
			LabelFormat: opts.LabelFormat,
			Location:    opts.Location,
		}),
		charts: chart.NewRegistry(),
		status: info("Ready"),
	}
}

// ID returns the console id.
func (c *Console) ID() string { return c.id }

// Role returns the operator role the console was opened with.
func (c *Console) Role() string { return c.role }

func (c *Console) emitAll(evs []Event) {
	for _, e := range evs {
		c.Events.Emit(e)
	}
}

func (c *Console) emit(t EventType, payload interface{}) {
	c.Events.Emit(Event{Type: t, Payload: payload})
}

// setStatusLocked records a status and returns the event to emit.
func (c *Console) setStatusLocked(s Status) Event {
	c.status = s
	return Event{Type: EventStatus, Payload: s}
}

func (c *Console) setStatus(s Status) {
	c.mu.Lock()
	ev := c.setStatusLocked(s)
	c.mu.Unlock()
	c.Events.Emit(ev)
}

// Open loads the dashboard summary, the device list and the diagram, then
// opens the configured device. Summary and device list failures only set
// the status; a layout failure falls back to the cache and is returned when
// there is none.
func (c *Console) Open(ctx context.Context) error {
	if summary, err := c.backend.Summary(ctx); err != nil {
		logging.DebugLog("engine", "console %s: summary: %v", c.id, err)
		c.setStatus(errorStatus("Failed to load summary", err))
	} else {
		c.mu.Lock()
		c.summary = summary
		c.mu.Unlock()
		c.emit(EventSummaryLoaded, summary)
	}

	if devices, err := c.backend.Devices(ctx); err != nil {
		logging.DebugLog("engine", "console %s: devices: %v", c.id, err)
		c.setStatus(errorStatus("Failed to load devices", err))
	} else {
		c.mu.Lock()
		c.devices = devices
		c.mu.Unlock()
		c.emit(EventDevicesLoaded, devices)
	}

	if err := c.ReloadLayout(ctx); err != nil {
		return err
	}

	if c.opts.Device != "" {
		return c.OpenDevice(ctx, c.opts.Device, "")
	}
	return nil
}

// ReloadLayout replaces the diagram with the backend's copy. Local edits
// that were not saved are lost.
func (c *Console) ReloadLayout(ctx context.Context) error {
	env, err := c.backend.Layout(ctx)
	var g layout.Graph
	switch {
	case err == nil:
		g = env.Layout
	case c.cache != nil:
		cached, ok := c.cache.LoadLayout(ctx)
		if !ok {
			c.setStatus(errorStatus("Failed to load layout", err))
			return err
		}
		logging.DebugLog("engine", "console %s: layout from cache after: %v", c.id, err)
		g = cached
	default:
		c.setStatus(errorStatus("Failed to load layout", err))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.machine.Reset()
	c.model.Load(g)
	evs := []Event{{Type: EventLayoutLoaded, Payload: c.layoutEventLocked()}}
	if err != nil {
		evs = append(evs, c.setStatusLocked(warning("Backend unreachable, showing cached layout")))
	}
	c.mu.Unlock()

	c.emitAll(evs)
	return nil
}

func (c *Console) layoutEventLocked() LayoutEvent {
	return LayoutEvent{
		Graph:    c.model.CollectCurrentState(),
		Segments: c.model.Segments(),
		EditMode: c.model.EditMode(),
		Editable: c.model.Editable(),
	}
}

// HandlePointer feeds one pointer event to the state machine. A click on a
// monitored node starts a detail lookup in the background.
func (c *Console) HandlePointer(ev pointer.Event) pointer.Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pointer.Result{Ignored: true}
	}
	res := c.machine.Handle(ev)

	var evs []Event
	if res.Panned || res.Zoomed {
		evs = append(evs, Event{Type: EventViewportChanged, Payload: c.viewportEventLocked()})
	}
	if res.Zoomed {
		evs = append(evs, c.setStatusLocked(zoomStatus(c.vp.Percent())))
	}
	if res.Moved != "" {
		evs = append(evs, Event{Type: EventNodeMoved, Payload: NodeMovedEvent{
			NodeID:   res.Moved,
			Position: res.Position,
			Segments: res.Segments,
		}})
	}
	if res.Committed != "" {
		pos, _ := c.model.Rendered(res.Committed)
		evs = append(evs, Event{Type: EventNodeMoved, Payload: NodeMovedEvent{
			NodeID:    res.Committed,
			Position:  pos,
			Segments:  c.model.SegmentsFor(res.Committed),
			Committed: true,
		}})
	}
	if res.Abandoned != "" {
		pos, _ := c.model.Rendered(res.Abandoned)
		evs = append(evs, Event{Type: EventNodeMoved, Payload: NodeMovedEvent{
			NodeID:   res.Abandoned,
			Position: pos,
			Segments: c.model.SegmentsFor(res.Abandoned),
		}})
	}
	var token uint64
	if res.Selected != "" {
		c.selToken++
		token = c.selToken
		evs = append(evs, Event{Type: EventSelectionChanged, Payload: SelectionEvent{NodeID: res.Selected, Lookup: res.Lookup}})
	}
	c.mu.Unlock()

	c.emitAll(evs)
	if res.Lookup != nil {
		go c.lookup(token, *res.Lookup)
	}
	return res
}

// Select selects a node from the keyboard and starts its detail lookup.
// An empty or unknown id clears the selection.
func (c *Console) Select(id string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.selToken++
	token := c.selToken
	ok := c.model.Select(id)
	var l *pointer.Lookup
	if ok {
		if n, _ := c.model.Node(id); n.Monitored() {
			l = &pointer.Lookup{NodeID: id, DeviceID: n.DeviceID()}
			if reg, has := n.FocusRegister(); has {
				l.FocusRegister = reg
			}
		}
	}
	selected := c.model.Selected()
	c.mu.Unlock()

	c.emit(EventSelectionChanged, SelectionEvent{NodeID: selected, Lookup: l})
	if l != nil {
		go c.lookup(token, *l)
	}
	return ok
}

// lookup fetches a device detail for the inspector. The result is dropped
// when another selection happened meanwhile.
func (c *Console) lookup(token uint64, l pointer.Lookup) {
	ctx, cancel := context.WithTimeout(c.ctx, client.DefaultTimeout)
	defer cancel()

	detail, err := c.backend.Device(ctx, l.DeviceID)

	c.mu.Lock()
	if c.closed || token != c.selToken {
		c.mu.Unlock()
		logging.DebugLog("engine", "console %s: dropping stale detail for %s", c.id, l.DeviceID)
		return
	}
	if err != nil {
		ev := c.setStatusLocked(errorStatus("Failed to load device", err))
		c.mu.Unlock()
		c.Events.Emit(ev)
		return
	}
	c.detail = detail
	c.focus = l.FocusRegister
	c.mu.Unlock()

	c.emit(EventDetailLoaded, DetailEvent{Detail: detail, Focus: l.FocusRegister})
}

func (c *Console) viewportEventLocked() ViewportEvent {
	return ViewportEvent{Viewport: c.vp.State(), Percent: c.vp.Percent()}
}

func (c *Console) zoom(center viewport.Point, direction int) bool {
	c.mu.Lock()
	changed := c.vp.ZoomStep(center, direction)
	evs := []Event{c.setStatusLocked(zoomStatus(c.vp.Percent()))}
	if changed {
		evs = append(evs, Event{Type: EventViewportChanged, Payload: c.viewportEventLocked()})
	}
	c.mu.Unlock()
	c.emitAll(evs)
	return changed
}

// ZoomIn zooms one step in around center, in screen space.
func (c *Console) ZoomIn(center viewport.Point) bool { return c.zoom(center, 1) }

// ZoomOut zooms one step out around center, in screen space.
func (c *Console) ZoomOut(center viewport.Point) bool { return c.zoom(center, -1) }

// ResetView recentres the diagram at zoom 1.
func (c *Console) ResetView() {
	c.mu.Lock()
	c.vp.Reset()
	evs := []Event{
		{Type: EventViewportChanged, Payload: c.viewportEventLocked()},
		c.setStatusLocked(info("View recentred and zoom reset")),
	}
	c.mu.Unlock()
	c.emitAll(evs)
}

// SetEditMode switches node dragging and saving on or off.
func (c *Console) SetEditMode(on bool) error {
	c.mu.Lock()
	if err := c.model.SetEditMode(on); err != nil {
		ev := c.setStatusLocked(errorStatus("", err))
		c.mu.Unlock()
		c.Events.Emit(ev)
		return err
	}
	evs := c.editModeEventsLocked()
	c.mu.Unlock()
	c.emitAll(evs)
	return nil
}

// ToggleEditMode flips edit mode and returns the new state.
func (c *Console) ToggleEditMode() (bool, error) {
	c.mu.Lock()
	on := !c.model.EditMode()
	c.mu.Unlock()
	if err := c.SetEditMode(on); err != nil {
		return !on, err
	}
	return on, nil
}

func (c *Console) editModeEventsLocked() []Event {
	on := c.model.EditMode()
	msg := "Edit mode disabled"
	if on {
		msg = "Edit mode enabled: drag nodes, then save"
	}
	return []Event{
		{Type: EventEditModeChanged, Payload: EditModeEvent{EditMode: on}},
		c.setStatusLocked(info(msg)),
	}
}

// SaveLayout sends the whole diagram, with dragged positions, to the
// backend and replaces the local graph with the stored copy. On failure the
// local graph is kept as it is.
func (c *Console) SaveLayout(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !config.RoleAllows(c.role, config.RoleAdmin) {
		ev := c.setStatusLocked(errorStatus("", ErrForbidden))
		c.mu.Unlock()
		c.Events.Emit(ev)
		return ErrForbidden
	}
	g, err := c.model.PrepareSave()
	if err != nil {
		ev := c.setStatusLocked(errorStatus("", err))
		c.mu.Unlock()
		c.Events.Emit(ev)
		return err
	}
	ev := c.setStatusLocked(info("Saving layout..."))
	c.mu.Unlock()
	c.Events.Emit(ev)

	echo, err := c.backend.PutLayout(ctx, g)
	if err != nil {
		logging.DebugLog("engine", "console %s: save layout: %v", c.id, err)
		c.setStatus(errorStatus("Failed to save layout", err))
		return fmt.Errorf("save layout: %w", err)
	}

	c.mu.Lock()
	c.machine.Reset()
	c.model.Load(echo)
	evs := []Event{
		{Type: EventLayoutSaved, Payload: c.layoutEventLocked()},
		c.setStatusLocked(success("Layout saved")),
	}
	c.mu.Unlock()

	c.emitAll(evs)
	c.sink.LayoutSaved(echo)
	return nil
}

// OpenDevice enters the live view of a device: its detail seeds the charts
// and polling starts. Any previous view is torn down first.
func (c *Console) OpenDevice(ctx context.Context, deviceID, focus string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidInput)
	}
	gen, err := c.teardownView()
	if err != nil {
		return err
	}

	detail, err := c.backend.Device(ctx, deviceID)
	if err != nil {
		logging.DebugLog("engine", "console %s: open device %s: %v", c.id, deviceID, err)
		c.setStatus(errorStatus("Failed to load device", err))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if gen != c.viewGen {
		c.mu.Unlock()
		return nil
	}

	view := &View{
		DeviceID: deviceID,
		Name:     detail.Device.Name,
		Address:  detail.Device.IPAddress,
		VLAN:     string(detail.Device.VLANID),
		Focus:    focus,
	}
	if c.opts.VLAN != "" && deviceID == c.opts.Device {
		view.VLAN = c.opts.VLAN
	}
	if view.Address == "" {
		view.Address = deviceID
	}
	c.view = view
	c.detail = detail
	c.focus = focus

	for _, r := range detail.Registers {
		c.store.SetRegisterInfo(string(r.ID), telemetry.RegisterInfo{Name: r.Name, Tag: r.Tag, Address: r.Address, Unit: r.Unit})
	}
	var seeded []string
	for id, samples := range detail.Telemetry {
		if up := c.store.Seed(id, samples); up.Added > 0 {
			seeded = append(seeded, id)
		}
	}
	evs := []Event{
		{Type: EventViewOpened, Payload: ViewEvent{View: *view}},
		{Type: EventDetailLoaded, Payload: DetailEvent{Detail: detail, Focus: focus}},
	}
	evs = append(evs, c.projectLocked(c.store.Registers())...)
	evs = append(evs, c.setStatusLocked(info("Monitoring "+displayName(view))))

	// Started before the lock is released so a teardown that runs while the
	// events are delivered always finds it running and stops it.
	sched := poll.New("telemetry "+deviceID, c.opts.PollInterval, c.pollOnce)
	c.scheduler = sched
	sched.Start(c.ctx)
	c.mu.Unlock()

	c.emitAll(evs)
	logging.DebugLog("engine", "console %s: live view of %s (%d seeded registers)", c.id, deviceID, len(seeded))
	return nil
}

func displayName(v *View) string {
	if v.Name != "" {
		return v.Name
	}
	return v.DeviceID
}

// teardownView stops polling and clears the live view. It returns the new
// view generation.
func (c *Console) teardownView() (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.viewGen++
	gen := c.viewGen
	sched := c.scheduler
	c.scheduler = nil
	c.seq.Invalidate()
	hadView := c.view != nil
	c.view = nil
	c.store.Reset()
	c.charts.Reset()
	c.mu.Unlock()

	// Stop waits for an in-flight poll, which needs the lock.
	if sched != nil {
		sched.Stop()
	}
	if hadView {
		c.emit(EventViewClosed, ViewEvent{})
	}
	return gen, nil
}

// CloseDevice leaves the live view and stops polling.
func (c *Console) CloseDevice() {
	c.teardownView()
}

// pollOnce fetches the live view's telemetry and applies it unless a newer
// poll or a view change got there first.
func (c *Console) pollOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.view == nil || c.closed {
		c.mu.Unlock()
		return ErrNoDevice
	}
	view := *c.view
	gen := c.viewGen
	seq := c.seq.Next()
	c.mu.Unlock()

	payload, err := c.backend.PollTelemetry(ctx, view.Address, view.VLAN)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.mu.Lock()
		stale := gen != c.viewGen || c.closed
		c.mu.Unlock()
		if stale {
			logging.DebugLog("poll", "device %s: dropping failure of a closed view: %v", view.DeviceID, err)
			return nil
		}
		logging.DebugLog("poll", "device %s: %v", view.DeviceID, err)
		c.emit(EventPollFailed, PollFailedEvent{Device: view.DeviceID, Error: client.Message(err)})
		c.sink.Status(view.DeviceID, err, 0)
		return err
	}

	c.mu.Lock()
	if gen != c.viewGen || !c.seq.Accept(seq) {
		c.mu.Unlock()
		logging.DebugLog("poll", "device %s: dropping stale poll %d", view.DeviceID, seq)
		return nil
	}
	up := c.store.Apply(payload)
	evs := c.projectLocked(up.Changed)
	alarms := c.store.Alarms()
	evs = append(evs, Event{Type: EventReadingsUpdated, Payload: ReadingsEvent{
		Device:   view.DeviceID,
		Readings: c.store.Readings(),
		Alarms:   alarms,
	}})
	for _, v := range up.Violations {
		evs = append(evs, Event{Type: EventViolation, Payload: ViolationEvent{Device: view.DeviceID, Violation: v}})
	}
	snap := valkey.NewSnapshot(view.DeviceID, c.store)
	c.mu.Unlock()

	c.emitAll(evs)

	for _, v := range up.Violations {
		c.sink.Violation(view.DeviceID, v)
	}
	c.sink.Alarms(view.DeviceID, alarms)
	c.sink.Status(view.DeviceID, nil, up.Added)
	if up.Added > 0 {
		c.sink.Snapshot(snap)
	}
	return nil
}

// projectLocked rebuilds the charts of the given registers in place.
func (c *Console) projectLocked(ids []string) []Event {
	evs := make([]Event, 0, len(ids))
	for _, id := range ids {
		spec := c.projector.Project(id, c.store.Name(id), c.store.Unit(id), c.store.Buffer(id), c.store.Definition(id))
		_, created := c.charts.Apply(spec)
		w, _ := c.charts.Get(id)
		evs = append(evs, Event{Type: EventChartUpdated, Payload: ChartEvent{Widget: w, Created: created}})
	}
	return evs
}

// LoadTrend fetches a register's stored history into its chart.
func (c *Console) LoadTrend(ctx context.Context, registerID string) error {
	trend, err := c.backend.Trend(ctx, registerID)
	if err != nil {
		c.setStatus(errorStatus("Failed to load trend", err))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if trend.Register.Name != "" {
		c.store.SetRegisterInfo(registerID, telemetry.RegisterInfo{Name: trend.Register.Name, Unit: trend.Register.Unit})
	}
	c.store.Seed(registerID, trend.Samples())
	evs := c.projectLocked([]string{registerID})
	evs = append(evs, c.setStatusLocked(info(fmt.Sprintf("Loaded %d trend points", len(trend.Points)))))
	c.mu.Unlock()

	c.emitAll(evs)
	return nil
}

// SubmitCommand sends a manual command for a register. Operators and
// admins only.
func (c *Console) SubmitCommand(ctx context.Context, registerID string, cmd client.Command) (*client.CommandResult, error) {
	if !config.RoleAllows(c.role, config.RoleOperator) {
		c.setStatus(errorStatus("", ErrForbidden))
		return nil, ErrForbidden
	}
	res, err := c.backend.SubmitCommand(ctx, registerID, cmd)
	if err != nil {
		c.setStatus(errorStatus("Command failed", err))
		return nil, err
	}

	msg := res.Message
	if msg == "" {
		msg = "Command submitted"
	}
	c.setStatus(success(msg))
	c.emit(EventCommandSubmitted, CommandEvent{RegisterID: registerID, Result: res})
	return res, nil
}

// Close stops polling and drops all subscribers' future events. It is safe
// to call more than once.
func (c *Console) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sched := c.scheduler
	c.scheduler = nil
	c.view = nil
	c.cancel()
	c.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
}

// Closed reports whether Close was called.
func (c *Console) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Diagram returns the graph at its rendered positions with its segments.
func (c *Console) Diagram() LayoutEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layoutEventLocked()
}

// Viewport returns the current transform.
func (c *Console) Viewport() ViewportEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewportEventLocked()
}

// NodeAt returns the node under a screen point.
func (c *Console) NodeAt(screen viewport.Point) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.NodeAt(c.vp.ToCanvas(screen))
}

// PointerState returns the pan state of the pointer machine.
func (c *Console) PointerState() pointer.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// EditMode reports whether edit mode is on.
func (c *Console) EditMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.EditMode()
}

// Selected returns the selected node id.
func (c *Console) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Selected()
}

// Status returns the last status message.
func (c *Console) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Summary returns the dashboard summary loaded by Open, or nil.
func (c *Console) Summary() *client.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Devices returns the device list loaded by Open.
func (c *Console) Devices() []client.DeviceSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]client.DeviceSummary(nil), c.devices...)
}

// Detail returns the inspector detail and its focused register.
func (c *Console) Detail() (*client.DeviceDetail, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detail, c.focus
}

// View returns the live view, if one is open.
func (c *Console) View() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return View{}, false
	}
	return *c.view, true
}

// Charts returns the live chart widgets sorted by register id.
func (c *Console) Charts() []chart.Widget {
	return c.charts.Widgets()
}

// Chart returns one live chart widget.
func (c *Console) Chart(registerID string) (chart.Widget, bool) {
	return c.charts.Get(registerID)
}

// Readings returns the latest value of every register in the live view.
func (c *Console) Readings() []telemetry.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Readings()
}

// Alarms returns the active alarm log of the live view.
func (c *Console) Alarms() []telemetry.ActiveAlarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Alarms()
}

// PollStats returns the live view's poll statistics.
func (c *Console) PollStats() (poll.Stats, bool) {
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()
	if sched == nil {
		return poll.Stats{}, false
	}
	return sched.Stats(), true
}
