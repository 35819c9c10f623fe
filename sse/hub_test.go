package sse

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readEvent returns the next "event:" name and its data line.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return name, strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestServeFiltersAndStops(t *testing.T) {
	h := NewHub("test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, func(ev Event) bool { return ev.Device != "hidden" })
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}
	br := bufio.NewReader(resp.Body)
	if name, data := readEvent(t, br); name != "connected" || !strings.Contains(data, "test-1") {
		t.Fatalf("first event %s %s", name, data)
	}
	waitClients(t, h, 1)

	h.Publish(Event{Type: "skip", Device: "hidden", Data: 1})
	h.Publish(Event{Type: "reading", Device: "3", Data: map[string]int{"v": 7}})
	if name, data := readEvent(t, br); name != "reading" || data != `{"v":7}` {
		t.Errorf("got %s %s", name, data)
	}

	h.Stop()
	h.Stop()
	waitClients(t, h, 0)
	select {
	case <-h.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestServeAfterStop(t *testing.T) {
	h := NewHub("test")
	h.Stop()
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest("GET", "/", nil), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", rec.Code)
	}
	h.Publish(Event{Type: "x"})
}
