package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"floorview/layout"
	"floorview/viewport"
)

func newTestClient(t *testing.T, csrf string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", CSRFToken: csrf, Timeout: 2 * time.Second})
}

func TestClient_PutLayoutEchoesGraph(t *testing.T) {
	var gotToken, gotMethod string
	var sent layout.Graph
	c := newTestClient(t, "tok123", func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotToken = r.Header.Get("X-CSRFToken")
		if r.URL.Path != "/api/dashboard/layout" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"layout":       sent,
			"generated_at": "2025-03-04T10:00:00",
		})
	})

	g := layout.Graph{
		Nodes: []layout.Node{
			{ID: "A", Type: "plc", Position: viewport.Point{X: 10, Y: 20}},
			{ID: "B", Type: "device", Position: viewport.Point{X: 30, Y: 40}},
		},
		Connections: []layout.Connection{{Source: "A", Target: "B", Type: "link"}},
	}
	echo, err := c.PutLayout(context.Background(), g)
	if err != nil {
		t.Fatalf("PutLayout: %v", err)
	}
	if gotMethod != http.MethodPut || gotToken != "tok123" {
		t.Errorf("method/token = %s/%q", gotMethod, gotToken)
	}
	if len(echo.Nodes) != 2 || echo.Nodes[0].Position != (viewport.Point{X: 10, Y: 20}) {
		t.Errorf("echo = %+v", echo)
	}
	if len(echo.Connections) != 1 || echo.Connections[0].Source != "A" {
		t.Errorf("connections = %+v", echo.Connections)
	}
}

func TestClient_CSRFHeaderOmittedWithoutToken(t *testing.T) {
	var present bool
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["X-Csrftoken"]
		io.WriteString(w, `{"layout":{"nodes":[],"connections":[]}}`)
	})
	if _, err := c.PutLayout(context.Background(), layout.Graph{}); err != nil {
		t.Fatalf("PutLayout: %v", err)
	}
	if present {
		t.Error("X-CSRFToken sent without a configured token")
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusForbidden, `{"message":"Acesso negado"}`, "Acesso negado"},
		{"error field", http.StatusNotFound, `{"error":"CLP not found"}`, "CLP not found"},
		{"no body", http.StatusInternalServerError, ``, ""},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			_, err := c.Device(context.Background(), "7")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Status != tc.status || apiErr.Message != tc.message {
				t.Errorf("APIError = %+v", apiErr)
			}
			want := tc.message
			if want == "" {
				want = http.StatusText(tc.status)
			}
			if got := Message(err); got != want {
				t.Errorf("Message() = %q, want %q", got, want)
			}
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(Options{BaseURL: base, Timeout: time.Second})
	_, err := c.Summary(context.Background())
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if !strings.HasPrefix(Message(err), "Backend unreachable") {
		t.Errorf("Message() = %q", Message(err))
	}
}

func TestClient_DecodeFailureIsTransportError(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"plcs": [`)
	})
	_, err := c.Devices(context.Background())
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
}

func TestClient_PutLayoutWithoutEcho(t *testing.T) {
	g := layout.Graph{Nodes: []layout.Node{{ID: "A", Type: "plc"}}}
	tests := []struct {
		name string
		body string
	}{
		{"no layout field", `{"status":"ok"}`},
		{"null layout", `{"layout":null}`},
		{"layout without nodes", `{"layout":{"nodes":[],"connections":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})
			_, err := c.PutLayout(context.Background(), g)
			var tErr *TransportError
			if !errors.As(err, &tErr) {
				t.Fatalf("error = %v, want *TransportError", err)
			}
		})
	}
}

func TestClient_PollTelemetry(t *testing.T) {
	var gotPath, gotVLAN string
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVLAN = r.URL.Query().Get("vlan")
		if r.Header.Get("X-CSRFToken") != "" {
			t.Error("CSRF token sent on a GET")
		}
		io.WriteString(w, `{
			"clp_id": 3,
			"registers": {"12": {"name": "Pressure", "tag": "P1"}},
			"data": [{"register_id": 12, "timestamp": "2025-03-04T10:00:00", "value_float": 4.5}],
			"definitions_alarms": [{"register_id": 12, "condition_type": "above", "setpoint": "3"}],
			"alarms": []
		}`)
	})

	p, err := c.PollTelemetry(context.Background(), "10.0.0.5", "20")
	if err != nil {
		t.Fatalf("PollTelemetry: %v", err)
	}
	if gotPath != "/api/get/data/clp/10.0.0.5" || gotVLAN != "20" {
		t.Errorf("request = %s vlan=%s", gotPath, gotVLAN)
	}
	if p.DeviceID != "3" || p.Registers["12"].Name != "Pressure" || len(p.Data) != 1 {
		t.Errorf("payload = %+v", p)
	}
	if v := p.Data[0].Value(); v != 4.5 {
		t.Errorf("sample value = %v", v)
	}
	if sp, ok := p.Definitions[0].Setpoint.Get(); !ok || sp != 3 {
		t.Errorf("setpoint = %v %v", sp, ok)
	}
}

func TestClient_DevicesAndDetail(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/dashboard/plcs":
			io.WriteString(w, `{"plcs":[{"id":1,"name":"Press","ip":"10.0.0.1","status":"alarm","alarm_count":2,"vlan_id":null}]}`)
		case "/api/dashboard/clps/1":
			io.WriteString(w, `{
				"plc": {"id": 1, "name": "Press", "vlan_id": 20},
				"registers": [{"id": 12, "name": "Pressure", "unit": "bar", "last_value": 4.5}],
				"logs": [], "alarms": [],
				"telemetry": {"12": [{"register_id": 12, "timestamp": "2025-03-04T10:00:00", "value_float": 4.5}]}
			}`)
		default:
			http.NotFound(w, r)
		}
	})

	devs, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devs) != 1 || devs[0].ID != "1" || devs[0].AlarmCount != 2 || devs[0].VLANID != "" {
		t.Errorf("devices = %+v", devs)
	}

	d, err := c.Device(context.Background(), "1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if d.Device.VLANID != "20" || len(d.Telemetry["12"]) != 1 {
		t.Errorf("detail = %+v", d)
	}
	reg, ok := d.Register("12")
	if !ok || reg.Unit != "bar" || reg.LastValue.Value != 4.5 {
		t.Errorf("register = %+v", reg)
	}
}

func TestClient_SubmitCommand(t *testing.T) {
	var got Command
	calls := 0
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/api/hmi/register/12/manual" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"command":{"id":9},"datalog_id":44}`)
	})

	if _, err := c.SubmitCommand(context.Background(), "12", Command{Value: 3, Note: " abc "}); !errors.Is(err, ErrNoteTooShort) {
		t.Errorf("short note error = %v", err)
	}
	if calls != 0 {
		t.Fatal("short note reached the backend")
	}

	res, err := c.SubmitCommand(context.Background(), "12", Command{Value: 3.5, Note: "raise pressure"})
	if err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}
	if got.Type != CommandSetpoint || got.Value != 3.5 || got.Note != "raise pressure" {
		t.Errorf("sent = %+v", got)
	}
	if res.DataLogID != "44" {
		t.Errorf("result = %+v", res)
	}
}

func TestTrend_Samples(t *testing.T) {
	var tr Trend
	err := json.Unmarshal([]byte(`{
		"register": {"id": 5, "name": "Level", "unit": "m"},
		"points": [
			{"timestamp": "2025-03-04T10:00:00", "value": 1.5, "raw": "1.5"},
			{"timestamp": "2025-03-04T10:00:04", "value": null, "raw": "2"},
			{"timestamp": "2025-03-04T10:00:08", "value": null, "raw": null}
		]
	}`), &tr)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	samples := tr.Samples()
	if len(samples) != 3 {
		t.Fatalf("samples = %d", len(samples))
	}
	if samples[0].RegisterID != "5" || samples[0].Value() != 1.5 {
		t.Errorf("sample 0 = %+v", samples[0])
	}
	if samples[1].Value() != 2 {
		t.Errorf("raw fallback = %v", samples[1].Value())
	}
	if v := samples[2].Value(); !math.IsNaN(v) {
		t.Errorf("missing value = %v, want NaN", v)
	}
}
