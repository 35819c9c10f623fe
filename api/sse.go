package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"floorview/engine"
	"floorview/sse"
)

// Stream event names.
const (
	eventViolation  = "violation"
	eventReadings   = "readings"
	eventPollFailed = "poll-failed"
	eventPollStatus = "poll-status"
	eventConsole    = "console"
	eventService    = "service"
	eventSettings   = "settings"
)

const pollStatusEvery = 10 * time.Second

// apiConsoleEvent wraps a console's event with its id.
type apiConsoleEvent struct {
	Console string      `json:"console"`
	Event   interface{} `json:"event"`
}

// apiConsoleChange reports a console opening or closing.
type apiConsoleChange struct {
	Console string `json:"console"`
	Action  string `json:"action"`
}

// apiServiceChange reports a publisher lifecycle event.
type apiServiceChange struct {
	Event string `json:"event"`
	Name  string `json:"name"`
}

// apiPollStatus is the scheduler summary for one live view.
type apiPollStatus struct {
	Console   string `json:"console"`
	Device    string `json:"device"`
	Running   bool   `json:"running"`
	Ticks     int    `json:"ticks"`
	Failures  int    `json:"failures"`
	LastError string `json:"last_error,omitempty"`
	LastPoll  string `json:"last_poll,omitempty"`
}

// set parses a comma list into a lookup; empty input means no filter.
func set(v string) map[string]bool {
	if v == "" {
		return nil
	}
	m := make(map[string]bool)
	for _, s := range strings.Split(v, ",") {
		m[strings.TrimSpace(s)] = true
	}
	return m
}

// streamFilter builds the keep function for the types, consoles and
// devices query parameters. Scope filters pass unscoped events.
func streamFilter(r *http.Request) func(sse.Event) bool {
	q := r.URL.Query()
	types, consoles, devices := set(q.Get("types")), set(q.Get("consoles")), set(q.Get("devices"))
	return func(ev sse.Event) bool {
		switch {
		case types != nil && !types[ev.Type]:
			return false
		case consoles != nil && ev.Console != "" && !consoles[ev.Console]:
			return false
		case devices != nil && ev.Device != "" && !devices[ev.Device]:
			return false
		}
		return true
	}
}

// handleSSE serves /api/events.
func (h *handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	h.hub.Serve(w, r, streamFilter(r))
}

// consoleTaps tracks subscriptions on open consoles' buses.
type consoleTaps struct {
	mu   sync.Mutex
	subs map[string]func()
}

func (t *consoleTaps) add(id string, unsubscribe func()) {
	t.mu.Lock()
	t.subs[id] = unsubscribe
	t.mu.Unlock()
}

func (t *consoleTaps) remove(id string) {
	t.mu.Lock()
	unsubscribe := t.subs[id]
	delete(t.subs, id)
	t.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (t *consoleTaps) removeAll() {
	t.mu.Lock()
	subs := t.subs
	t.subs = map[string]func(){}
	t.mu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// setupSSE feeds the hub from the engine bus and every console's bus. The
// returned function detaches everything and stops the hub.
func (h *handlers) setupSSE() func() {
	taps := &consoleTaps{subs: map[string]func(){}}
	tap := func(c *engine.Console) {
		id := c.ID()
		sub := c.Events.SubscribeTypes(func(ev engine.Event) {
			h.forwardConsoleEvent(id, ev)
		}, engine.EventViolation, engine.EventReadingsUpdated, engine.EventPollFailed)
		taps.add(id, func() { c.Events.Unsubscribe(sub) })
	}
	for _, c := range h.engine.Consoles() {
		tap(c)
	}

	h.engineSub = h.engine.Events.Subscribe(func(ev engine.Event) {
		switch ev.Type {
		case engine.EventConsoleOpened, engine.EventConsoleClosed:
			p, _ := ev.Payload.(engine.SystemEvent)
			id := p.Detail
			action := "opened"
			if ev.Type == engine.EventConsoleClosed {
				action = "closed"
				taps.remove(id)
			} else if c, err := h.engine.Console(id); err == nil {
				tap(c)
			}
			h.hub.Publish(sse.Event{Type: eventConsole, Console: id, Data: apiConsoleChange{Console: id, Action: action}})
		case engine.EventNamespaceChanged, engine.EventSettingsChanged:
			h.hub.Publish(sse.Event{Type: eventSettings, Data: ev.Payload})
		default:
			if p, ok := ev.Payload.(engine.ServiceEvent); ok {
				h.hub.Publish(sse.Event{Type: eventService, Data: apiServiceChange{Event: ev.Type.String(), Name: p.Name}})
			}
		}
	})

	go h.pollStatus()

	return func() {
		h.hub.Stop()
		h.engine.Events.Unsubscribe(h.engineSub)
		taps.removeAll()
	}
}

func (h *handlers) forwardConsoleEvent(consoleID string, ev engine.Event) {
	out := sse.Event{Console: consoleID, Data: apiConsoleEvent{Console: consoleID, Event: ev.Payload}}
	switch p := ev.Payload.(type) {
	case engine.ViolationEvent:
		out.Type, out.Device = eventViolation, p.Device
	case engine.ReadingsEvent:
		out.Type, out.Device = eventReadings, p.Device
	case engine.PollFailedEvent:
		out.Type, out.Device = eventPollFailed, p.Device
	default:
		return
	}
	h.hub.Publish(out)
}

// pollStatus publishes scheduler statistics for every live view while
// anyone is listening.
func (h *handlers) pollStatus() {
	ticker := time.NewTicker(pollStatusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-h.hub.Done():
			return
		case <-ticker.C:
		}
		if h.hub.Clients() == 0 {
			continue
		}
		for _, c := range h.engine.Consoles() {
			st, ok := c.PollStats()
			v, hasView := c.View()
			if !ok || !hasView {
				continue
			}
			status := apiPollStatus{
				Console:   c.ID(),
				Device:    v.DeviceID,
				Running:   st.Running,
				Ticks:     st.Ticks,
				Failures:  st.Failures,
				LastError: st.LastError,
			}
			if !st.LastPoll.IsZero() {
				status.LastPoll = st.LastPoll.Format(time.RFC3339)
			}
			h.hub.Publish(sse.Event{Type: eventPollStatus, Console: c.ID(), Device: v.DeviceID, Data: status})
		}
	}
}
