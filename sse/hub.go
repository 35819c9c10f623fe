// Package sse fans events out to Server-Sent Events streams. Both the
// REST API and the browser console run a Hub.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"floorview/logging"
)

const (
	clientBuffer = 64
	keepAlive    = 30 * time.Second
)

// Event is one message on a stream. Console and Device scope the event for
// stream filters; both are optional.
type Event struct {
	Type    string
	Console string
	Device  string
	Data    interface{}
}

// Hub tracks open streams. Publishing never blocks: a stream whose buffer
// is full misses the event.
type Hub struct {
	name   string
	nextID atomic.Uint64

	mu      sync.RWMutex
	clients map[uint64]chan Event
	stopped bool
	done    chan struct{}
}

// NewHub creates a hub; name prefixes client ids and log lines.
func NewHub(name string) *Hub {
	return &Hub{name: name, clients: make(map[uint64]chan Event), done: make(chan struct{})}
}

// Publish queues ev for every open stream.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			logging.DebugLog("web", "%s SSE client %d buffer full, dropping %s event", h.name, id, ev.Type)
		}
	}
}

// Clients is the number of open streams.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed by Stop.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Stop ends every stream. Later calls do nothing.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

func (h *Hub) join() (uint64, chan Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return 0, nil, false
	}
	id := h.nextID.Add(1)
	ch := make(chan Event, clientBuffer)
	h.clients[id] = ch
	return id, ch, true
}

func (h *Hub) leave(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Serve streams events to w until the request ends or the hub stops.
// keep, when set, drops events it returns false for. The first message is
// a "connected" event carrying the stream id.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, keep func(Event) bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	id, events, ok := h.join()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.leave(id)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":\"%s-%d\"}\n\n", h.name, id)
	flusher.Flush()

	tick := time.NewTicker(keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if keep != nil && !keep(ev) {
				continue
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-tick.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
