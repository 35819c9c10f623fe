// Package api provides the REST API: backend pass-through reads, open
// consoles with their charts and readings, publisher management and an
// SSE event stream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"floorview/chart"
	"floorview/engine"
	"floorview/poll"
	"floorview/sse"
	"floorview/telemetry"
)

// IndexResponse is the JSON response for the API root.
type IndexResponse struct {
	Namespace string                 `json:"namespace"`
	Backend   string                 `json:"backend"`
	Poll      string                 `json:"poll_interval"`
	Consoles  int                    `json:"consoles"`
	Services  []engine.ServiceStatus `json:"services"`
}

// ConsoleResponse is the JSON response for one open console.
type ConsoleResponse struct {
	ID       string               `json:"id"`
	Role     string               `json:"role"`
	Closed   bool                 `json:"closed"`
	EditMode bool                 `json:"edit_mode"`
	Selected string               `json:"selected,omitempty"`
	Viewport engine.ViewportEvent `json:"viewport"`
	Status   engine.Status        `json:"status"`
	View     *engine.View         `json:"view,omitempty"`
	Poll     *poll.Stats          `json:"poll,omitempty"`
	Charts   int                  `json:"charts"`
}

// ReadingsResponse carries a console's latest values and alarm log.
type ReadingsResponse struct {
	Console  string                  `json:"console"`
	Device   string                  `json:"device,omitempty"`
	Readings []telemetry.Reading     `json:"readings"`
	Alarms   []telemetry.ActiveAlarm `json:"alarms"`
}

// handlers holds the API handler functions.
type handlers struct {
	engine *engine.Engine
	hub    *sse.Hub

	engineSub engine.SubscriberID
}

// NewRouter creates the REST API router. The returned function stops the
// SSE hub and removes its listeners.
func NewRouter(eng *engine.Engine) (chi.Router, func()) {
	r := chi.NewRouter()
	h := &handlers{engine: eng, hub: sse.NewHub("api")}

	r.Get("/", h.handleIndex)
	r.Get("/events", h.handleSSE)

	// Backend pass-through
	r.Get("/summary", h.handleSummary)
	r.Get("/layout", h.handleLayout)
	r.Get("/devices", h.handleDevices)
	r.Get("/devices/{id}", h.handleDevice)
	r.Get("/registers/{id}/trend", h.handleTrend)

	// Open consoles
	r.Get("/consoles", h.handleConsoles)
	r.Route("/consoles/{id}", func(r chi.Router) {
		r.Get("/", h.handleConsole)
		r.Get("/layout", h.handleConsoleLayout)
		r.Get("/readings", h.handleConsoleReadings)
		r.Get("/charts", h.handleConsoleCharts)
		r.Get("/charts/{register}", h.handleConsoleChart)
		r.Get("/charts/{register}/png", h.handleConsoleChartPNG)
	})

	// Publishers
	r.Get("/services", h.handleServices)

	h.mountPublishers(r)

	return r, h.setupSSE()
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func param(r *http.Request, key string) string {
	v, _ := url.PathUnescape(chi.URLParam(r, key))
	return v
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.GetConfig()
	cfg.Lock()
	resp := IndexResponse{
		Namespace: cfg.Namespace,
		Backend:   cfg.Backend.BaseURL,
		Poll:      cfg.Poll.Interval.String(),
	}
	cfg.Unlock()
	resp.Consoles = len(h.engine.Consoles())
	resp.Services = h.engine.Services()
	h.writeJSON(w, resp)
}

func (h *handlers) handleServices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Services())
}

// --- backend pass-through ---

func (h *handlers) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.GetBackend().Summary(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, s)
}

func (h *handlers) handleLayout(w http.ResponseWriter, r *http.Request) {
	env, err := h.engine.GetBackend().Layout(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, env)
}

func (h *handlers) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.engine.GetBackend().Devices(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, devices)
}

func (h *handlers) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.GetBackend().Device(r.Context(), param(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, d)
}

func (h *handlers) handleTrend(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.GetBackend().Trend(r.Context(), param(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, t)
}

// --- consoles ---

func consoleResponse(c *engine.Console) ConsoleResponse {
	resp := ConsoleResponse{
		ID:       c.ID(),
		Role:     c.Role(),
		Closed:   c.Closed(),
		EditMode: c.EditMode(),
		Selected: c.Selected(),
		Viewport: c.Viewport(),
		Status:   c.Status(),
		Charts:   len(c.Charts()),
	}
	if v, ok := c.View(); ok {
		resp.View = &v
	}
	if st, ok := c.PollStats(); ok {
		resp.Poll = &st
	}
	return resp
}

func (h *handlers) console(w http.ResponseWriter, r *http.Request) (*engine.Console, bool) {
	c, err := h.engine.Console(param(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return nil, false
	}
	return c, true
}

func (h *handlers) handleConsoles(w http.ResponseWriter, r *http.Request) {
	consoles := h.engine.Consoles()
	resp := make([]ConsoleResponse, 0, len(consoles))
	for _, c := range consoles {
		resp = append(resp, consoleResponse(c))
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleConsole(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, consoleResponse(c))
}

func (h *handlers) handleConsoleLayout(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, c.Diagram())
}

func (h *handlers) handleConsoleReadings(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	resp := ReadingsResponse{Console: c.ID(), Readings: c.Readings(), Alarms: c.Alarms()}
	if v, ok := c.View(); ok {
		resp.Device = v.DeviceID
	}
	if resp.Readings == nil {
		resp.Readings = []telemetry.Reading{}
	}
	if resp.Alarms == nil {
		resp.Alarms = []telemetry.ActiveAlarm{}
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleConsoleCharts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	charts := c.Charts()
	if charts == nil {
		charts = []chart.Widget{}
	}
	h.writeJSON(w, charts)
}

func (h *handlers) handleConsoleChart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	widget, found := c.Chart(param(r, "register"))
	if !found {
		h.writeError(w, http.StatusNotFound, "chart not found")
		return
	}
	h.writeJSON(w, widget)
}

func (h *handlers) handleConsoleChartPNG(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	widget, found := c.Chart(param(r, "register"))
	if !found {
		h.writeError(w, http.StatusNotFound, "chart not found")
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
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}
