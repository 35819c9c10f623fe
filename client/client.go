// Package client talks to the plant backend's JSON API: dashboard summary,
// diagram layout, device collection and detail, register trends, manual
// commands and the per-device telemetry poll.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"floorview/layout"
	"floorview/logging"
	"floorview/telemetry"
)

// DefaultTimeout bounds one request when none is configured.
const DefaultTimeout = 10 * time.Second

// MinNoteLength is the shortest note a manual command accepts.
const MinNoteLength = 5

// Default command type for manual commands.
const CommandSetpoint = "setpoint"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	BaseURL   string
	CSRFToken string
	// Cookie is sent verbatim, for backends behind a login session.
	Cookie  string
	Timeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	base       string
	csrfToken  string
	cookie     string
	httpClient *http.Client
}

// New creates a client for the backend at opts.BaseURL.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		csrfToken:  opts.CSRFToken,
		cookie:     opts.Cookie,
		httpClient: hc,
	}
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string { return c.base }

// Summary fetches the dashboard totals.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var out Summary
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Layout fetches the diagram graph.
func (c *Client) Layout(ctx context.Context) (*LayoutEnvelope, error) {
	var out LayoutEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/layout", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutLayout stores the full graph and returns the graph the backend echoes
// back. It satisfies layout.Store.
// A 2xx answer without a layout, or with no nodes for a graph that had
// some, is a TransportError so the caller keeps its graph.
func (c *Client) PutLayout(ctx context.Context, g layout.Graph) (layout.Graph, error) {
	const path = "/api/dashboard/layout"
	var out struct {
		Layout *layout.Graph `json:"layout"`
	}
	if err := c.do(ctx, http.MethodPut, path, g, &out); err != nil {
		return layout.Graph{}, err
	}
	switch {
	case out.Layout == nil:
		return layout.Graph{}, &TransportError{Method: http.MethodPut, Path: path, Err: errNoLayoutEcho}
	case len(out.Layout.Nodes) == 0 && len(g.Nodes) > 0:
		return layout.Graph{}, &TransportError{Method: http.MethodPut, Path: path, Err: errEmptyLayoutEcho}
	}
	return *out.Layout, nil
}

// Devices lists every device with its status and alarm count.
func (c *Client) Devices(ctx context.Context) ([]DeviceSummary, error) {
	var out deviceList
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/plcs", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// Device fetches the inspector detail of one device.
func (c *Client) Device(ctx context.Context, id string) (*DeviceDetail, error) {
	var out DeviceDetail
	path := "/api/dashboard/clps/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trend fetches the stored history of one register.
func (c *Client) Trend(ctx context.Context, registerID string) (*Trend, error) {
	var out Trend
	path := "/api/hmi/register/" + url.PathEscape(registerID) + "/trend"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitCommand sends a manual command for a register. The note is checked
// before anything is sent. An empty command type means CommandSetpoint.
func (c *Client) SubmitCommand(ctx context.Context, registerID string, cmd Command) (*CommandResult, error) {
	cmd.Note = strings.TrimSpace(cmd.Note)
	if len([]rune(cmd.Note)) < MinNoteLength {
		return nil, ErrNoteTooShort
	}
	if cmd.Type == "" {
		cmd.Type = CommandSetpoint
	}
	var out CommandResult
	path := "/api/hmi/register/" + url.PathEscape(registerID) + "/manual"
	if err := c.do(ctx, http.MethodPost, path, cmd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollTelemetry fetches the latest readings, alarm definitions and active
// alarms of the device at address. A non-empty vlan narrows the lookup.
func (c *Client) PollTelemetry(ctx context.Context, address, vlan string) (*telemetry.Payload, error) {
	path := "/api/get/data/clp/" + url.PathEscape(address)
	if vlan != "" {
		path += "?vlan=" + url.QueryEscape(vlan)
	}
	var out telemetry.Payload
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Method: method, Path: path, Err: fmt.Errorf("encode body: %w", err)}
		}
		logging.DebugBody("client", ">", data)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrfToken != "" && method != http.MethodGet {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.DebugRequest(method, path, 0, time.Since(start), err)
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()
	logging.DebugRequest(method, path, resp.StatusCode, time.Since(start), nil)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logging.DebugBody("client", "<", data)
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	logging.DebugBody("client", "<", data)
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts "message" or "error" from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
