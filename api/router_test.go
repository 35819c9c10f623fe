package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"floorview/client"
	"floorview/config"
	"floorview/engine"
	"floorview/layout"
	"floorview/telemetry"
	"floorview/viewport"
)

type fakeBackend struct{}

func (fakeBackend) Summary(ctx context.Context) (*client.Summary, error) {
	return &client.Summary{Totals: client.Totals{Devices: 2, Online: 1, Offline: 1}}, nil
}

func (fakeBackend) Layout(ctx context.Context) (*client.LayoutEnvelope, error) {
	return &client.LayoutEnvelope{Layout: layout.Graph{
		Nodes: []layout.Node{{ID: "A", Type: "plc", Position: viewport.Point{X: 10, Y: 20}}},
	}}, nil
}

func (fakeBackend) PutLayout(ctx context.Context, g layout.Graph) (layout.Graph, error) {
	return g, nil
}

func (fakeBackend) Devices(ctx context.Context) ([]client.DeviceSummary, error) {
	return []client.DeviceSummary{{ID: "3", Name: "Press line"}}, nil
}

func (fakeBackend) Device(ctx context.Context, id string) (*client.DeviceDetail, error) {
	if id != "3" {
		return nil, &client.APIError{Method: "GET", Path: "/api/dashboard/clps/" + id, Status: 404, Message: "CLP not found"}
	}
	return &client.DeviceDetail{Device: client.DeviceInfo{ID: "3", Name: "Press line"}}, nil
}

func (fakeBackend) Trend(ctx context.Context, registerID string) (*client.Trend, error) {
	return nil, errors.New("trend unavailable")
}

func (fakeBackend) SubmitCommand(ctx context.Context, registerID string, cmd client.Command) (*client.CommandResult, error) {
	return &client.CommandResult{}, nil
}

func (fakeBackend) PollTelemetry(ctx context.Context, address, vlan string) (*telemetry.Payload, error) {
	return &telemetry.Payload{}, nil
}

func newTestAPI(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.Config{
		AppConfig:  config.DefaultConfig(),
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		Backend:    fakeBackend{},
	})
	r, cleanup := NewRouter(eng)
	t.Cleanup(func() {
		cleanup()
		for _, c := range eng.Consoles() {
			eng.CloseConsole(c.ID())
		}
	})
	return r, eng
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWriteJSON(t *testing.T) {
	h := &handlers{}
	rec := httptest.NewRecorder()
	h.writeJSON(rec, map[string]string{"key": "value"})

	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("Content-Type should be application/json")
	}
	var result map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if result["key"] != "value" {
		t.Error("JSON not correctly encoded")
	}
}

func TestWriteError(t *testing.T) {
	h := &handlers{}
	rec := httptest.NewRecorder()
	h.writeError(rec, http.StatusNotFound, "not found")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	var result map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if result["error"] != "not found" {
		t.Errorf("expected error 'not found', got %s", result["error"])
	}
}

func TestIndex(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := do(h, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp IndexResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Namespace != config.DefaultNamespace {
		t.Errorf("namespace = %q", resp.Namespace)
	}
	if resp.Poll != config.DefaultPoll.String() {
		t.Errorf("poll = %q", resp.Poll)
	}
}

func TestBackendPassThrough(t *testing.T) {
	h, _ := newTestAPI(t)
	tests := []struct {
		path string
		want int
	}{
		{"/summary", http.StatusOK},
		{"/layout", http.StatusOK},
		{"/devices", http.StatusOK},
		{"/devices/3", http.StatusOK},
		{"/devices/99", http.StatusBadGateway},
		{"/registers/12/trend", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(h, "GET", tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestConsoles(t *testing.T) {
	h, eng := newTestAPI(t)
	c, err := eng.OpenConsole(context.Background(), config.RoleViewer)
	if err != nil {
		t.Fatal(err)
	}

	rec := do(h, "GET", "/consoles", "")
	var list []ConsoleResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != c.ID() || list[0].Role != config.RoleViewer {
		t.Fatalf("consoles = %+v", list)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/consoles/" + c.ID(), http.StatusOK},
		{"/consoles/" + c.ID() + "/layout", http.StatusOK},
		{"/consoles/" + c.ID() + "/readings", http.StatusOK},
		{"/consoles/" + c.ID() + "/charts", http.StatusOK},
		{"/consoles/" + c.ID() + "/charts/12", http.StatusNotFound},
		{"/consoles/" + c.ID() + "/charts/12/png", http.StatusNotFound},
		{"/consoles/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := do(h, "GET", tt.path, ""); rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec = do(h, "GET", "/consoles/"+c.ID()+"/layout", "")
	var diagram engine.LayoutEvent
	json.NewDecoder(rec.Body).Decode(&diagram)
	if len(diagram.Graph.Nodes) != 1 || diagram.Editable {
		t.Errorf("viewer diagram = %+v", diagram)
	}
}

func TestMQTTMutations(t *testing.T) {
	h, eng := newTestAPI(t)

	steps := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create", "POST", "/mqtt", `{"name":"plant","broker":"localhost"}`, http.StatusCreated},
		{"duplicate", "POST", "/mqtt", `{"name":"plant","broker":"localhost"}`, http.StatusConflict},
		{"missing broker", "POST", "/mqtt", `{"name":"other"}`, http.StatusBadRequest},
		{"invalid json", "POST", "/mqtt", `{`, http.StatusBadRequest},
		{"update", "PUT", "/mqtt/plant", `{"broker":"broker.local","port":8883}`, http.StatusOK},
		{"update unknown", "PUT", "/mqtt/ghost", `{"broker":"x"}`, http.StatusNotFound},
		{"delete", "DELETE", "/mqtt/plant", "", http.StatusOK},
		{"delete again", "DELETE", "/mqtt/plant", "", http.StatusNotFound},
	}
	for _, s := range steps {
		rec := do(h, s.method, s.path, s.body)
		if rec.Code != s.want {
			t.Fatalf("%s: status %d, want %d (%s)", s.name, rec.Code, s.want, rec.Body.String())
		}
		if s.name == "update" {
			if m := eng.GetConfig().FindMQTT("plant"); m == nil || m.Broker != "broker.local" || m.Port != 8883 {
				t.Errorf("after update: %+v", m)
			}
		}
	}
}

func TestKafkaMutations(t *testing.T) {
	h, eng := newTestAPI(t)

	rec := do(h, "POST", "/kafka", `{"name":"events","brokers":"k1:9092, k2:9092","retry_backoff":"250ms"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d (%s)", rec.Code, rec.Body.String())
	}
	k := eng.GetConfig().FindKafka("events")
	if k == nil {
		t.Fatal("cluster not stored")
	}
	if len(k.Brokers) != 2 || k.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", k.Brokers)
	}
	if k.RetryBackoff != 250*time.Millisecond {
		t.Errorf("retry backoff = %v", k.RetryBackoff)
	}

	rec = do(h, "POST", "/kafka/events/disconnect", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "disconnected") {
		t.Errorf("disconnect: %d %s", rec.Code, rec.Body.String())
	}
	if rec = do(h, "POST", "/kafka", `{"name":"bad","brokers":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty brokers: status %d", rec.Code)
	}
	if rec = do(h, "POST", "/kafka/events/start", ""); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("mqtt verb on kafka: status %d", rec.Code)
	}
}

func TestSSEConsoleEvents(t *testing.T) {
	h, eng := newTestAPI(t)
	server := httptest.NewServer(h)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/events?types=console", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitLine := func(prefix string) string {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitLine("event: connected")

	c, err := eng.OpenConsole(context.Background(), config.RoleOperator)
	if err != nil {
		t.Fatal(err)
	}
	waitLine("event: console")
	data := waitLine("data: ")
	var change apiConsoleChange
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &change); err != nil {
		t.Fatal(err)
	}
	if change.Console != c.ID() || change.Action != "opened" {
		t.Errorf("change = %+v", change)
	}
}
