package www

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"floorview/chart"
	"floorview/client"
	"floorview/engine"
	"floorview/logging"
	"floorview/pointer"
	"floorview/poll"
	"floorview/telemetry"
	"floorview/viewport"
)

// consoleSnapshot is the full state of a console, sent when a browser
// attaches. Later changes arrive as websocket events.
type consoleSnapshot struct {
	ID       string                  `json:"id"`
	Role     string                  `json:"role"`
	Diagram  engine.LayoutEvent      `json:"diagram"`
	Viewport engine.ViewportEvent    `json:"viewport"`
	Pointer  string                  `json:"pointer"`
	Selected string                  `json:"selected,omitempty"`
	Status   engine.Status           `json:"status"`
	Summary  *client.Summary         `json:"summary,omitempty"`
	Devices  []client.DeviceSummary  `json:"devices"`
	Detail   *client.DeviceDetail    `json:"detail,omitempty"`
	Focus    string                  `json:"focus,omitempty"`
	View     *engine.View            `json:"view,omitempty"`
	Charts   []chart.Widget          `json:"charts"`
	Readings []telemetry.Reading     `json:"readings"`
	Alarms   []telemetry.ActiveAlarm `json:"alarms"`
	Poll     *poll.Stats             `json:"poll,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func snapshotOf(c *engine.Console) consoleSnapshot {
	s := consoleSnapshot{
		ID:       c.ID(),
		Role:     c.Role(),
		Diagram:  c.Diagram(),
		Viewport: c.Viewport(),
		Pointer:  c.PointerState().String(),
		Selected: c.Selected(),
		Status:   c.Status(),
		Summary:  c.Summary(),
		Devices:  c.Devices(),
		Charts:   c.Charts(),
		Readings: c.Readings(),
		Alarms:   c.Alarms(),
	}
	s.Detail, s.Focus = c.Detail()
	if v, ok := c.View(); ok {
		s.View = &v
	}
	if st, ok := c.PollStats(); ok {
		s.Poll = &st
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// sessionConsole returns the console bound to the request's session.
func (h *Handlers) sessionConsole(r *http.Request) (*engine.Console, error) {
	id := h.sessions.getConsole(r)
	if id == "" {
		return nil, fmt.Errorf("%w: no console for this session", engine.ErrNotFound)
	}
	c, err := h.engine.Console(id)
	if err != nil {
		return nil, err
	}
	if c.Closed() {
		return nil, engine.ErrClosed
	}
	return c, nil
}

// console is sessionConsole for handlers; it writes the error response.
func (h *Handlers) console(w http.ResponseWriter, r *http.Request) (*engine.Console, bool) {
	c, err := h.sessionConsole(r)
	if err != nil {
		h.writeEngineError(w, err)
		return nil, false
	}
	return c, true
}

func registerParam(r *http.Request) string {
	reg, _ := url.PathUnescape(chi.URLParam(r, "register"))
	return reg
}

// handleConsoleOpen returns the session's console, opening one with the
// user's role when there is none. A console whose load failed is still
// bound to the session; the error is reported in the snapshot.
func (h *Handlers) handleConsoleOpen(w http.ResponseWriter, r *http.Request) {
	if c, err := h.sessionConsole(r); err == nil {
		writeJSON(w, http.StatusOK, snapshotOf(c))
		return
	}

	_, role, _ := h.sessions.getUser(r)
	c, err := h.engine.OpenConsole(r.Context(), role)
	if c == nil {
		h.writeEngineError(w, err)
		return
	}
	h.sockets.track(c.ID())
	if serr := h.sessions.setConsole(w, r, c.ID()); serr != nil {
		http.Error(w, "Session error: "+serr.Error(), http.StatusInternalServerError)
		return
	}

	snap := snapshotOf(c)
	if err != nil {
		logging.DebugLog("browser", "console %s: %v", c.ID(), err)
		snap.Error = client.Message(err)
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleConsoleGet returns the session console's snapshot.
func (h *Handlers) handleConsoleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(c))
}

// handleConsoleClose closes the session's console.
func (h *Handlers) handleConsoleClose(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.getConsole(r)
	if id == "" {
		h.writeEngineError(w, engine.ErrNotFound)
		return
	}
	h.sockets.closeConsole(id)
	if err := h.engine.CloseConsole(id); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.sessions.setConsole(w, r, "")
	w.WriteHeader(http.StatusOK)
}

// pointerRequest is the wire form of a pointer event.
type pointerRequest struct {
	Kind      string  `json:"kind"`
	PointerID int     `json:"pointer_id"`
	Button    int     `json:"button"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Target    string  `json:"target,omitempty"`
	DeltaY    float64 `json:"delta_y,omitempty"`
	Ctrl      bool    `json:"ctrl,omitempty"`
}

func (p pointerRequest) event() (pointer.Event, error) {
	kind, ok := pointer.ParseKind(p.Kind)
	if !ok {
		return pointer.Event{}, fmt.Errorf("%w: pointer kind '%s'", engine.ErrInvalidInput, p.Kind)
	}
	return pointer.Event{
		Kind:      kind,
		PointerID: p.PointerID,
		Button:    pointer.Button(p.Button),
		Pos:       viewport.Point{X: p.X, Y: p.Y},
		Target:    p.Target,
		DeltaY:    p.DeltaY,
		Ctrl:      p.Ctrl,
	}, nil
}

// zoomRequest zooms one step around a screen point.
type zoomRequest struct {
	Direction string  `json:"direction"` // "in" or "out"
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

func (z zoomRequest) apply(c *engine.Console) (bool, error) {
	center := viewport.Point{X: z.X, Y: z.Y}
	switch z.Direction {
	case "in":
		return c.ZoomIn(center), nil
	case "out":
		return c.ZoomOut(center), nil
	}
	return false, fmt.Errorf("%w: zoom direction '%s'", engine.ErrInvalidInput, z.Direction)
}

// editRequest sets edit mode, or toggles it when On is absent.
type editRequest struct {
	On *bool `json:"on"`
}

func (e editRequest) apply(c *engine.Console) (bool, error) {
	if e.On == nil {
		return c.ToggleEditMode()
	}
	if err := c.SetEditMode(*e.On); err != nil {
		return c.EditMode(), err
	}
	return *e.On, nil
}

type selectRequest struct {
	NodeID string `json:"node_id"`
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
	Focus    string `json:"focus,omitempty"`
}

func (h *Handlers) handleConsolePointer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var req pointerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ev, err := req.event()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.HandlePointer(ev))
}

func (h *Handlers) handleConsoleZoom(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var req zoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := req.apply(c); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Viewport())
}

func (h *Handlers) handleConsoleReset(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	c.ResetView()
	writeJSON(w, http.StatusOK, c.Viewport())
}

func (h *Handlers) handleConsoleEdit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var req editRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	on, err := req.apply(c)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engine.EditModeEvent{EditMode: on})
}

func (h *Handlers) handleConsoleSelect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c.Select(req.NodeID)
	writeJSON(w, http.StatusOK, engine.SelectionEvent{NodeID: c.Selected()})
}

func (h *Handlers) handleConsoleReload(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	if err := c.ReloadLayout(r.Context()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Diagram())
}

func (h *Handlers) handleConsoleSave(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	if err := c.SaveLayout(r.Context()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Diagram())
}

func (h *Handlers) handleConsoleOpenDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var req deviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	if err := c.OpenDevice(r.Context(), req.DeviceID, req.Focus); err != nil {
		h.writeEngineError(w, err)
		return
	}
	v, _ := c.View()
	writeJSON(w, http.StatusOK, engine.ViewEvent{View: v})
}

func (h *Handlers) handleConsoleCloseDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	c.CloseDevice()
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) handleConsoleTrend(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	reg := registerParam(r)
	if err := c.LoadTrend(r.Context(), reg); err != nil {
		h.writeEngineError(w, err)
		return
	}
	widget, _ := c.Chart(reg)
	writeJSON(w, http.StatusOK, widget)
}

func (h *Handlers) handleConsoleCommand(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var cmd client.Command
	if !decodeJSON(w, r, &cmd) {
		return
	}
	res, err := c.SubmitCommand(r.Context(), registerParam(r), cmd)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) handleConsoleCharts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Charts())
}

// handleConsoleChartPNG renders one chart. Width and height come from the
// w and h query parameters.
func (h *Handlers) handleConsoleChartPNG(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	widget, found := c.Chart(registerParam(r))
	if !found {
		http.Error(w, "Chart not found", http.StatusNotFound)
		return
	}
	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	height, _ := strconv.Atoi(r.URL.Query().Get("h"))

	png, err := chart.RenderPNG(widget.Spec, width, height)
	if errors.Is(err, chart.ErrNoData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}
