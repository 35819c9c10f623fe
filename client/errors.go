package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoteTooShort is returned before sending a manual command whose note is
// shorter than MinNoteLength.
var ErrNoteTooShort = fmt.Errorf("note must have at least %d characters", MinNoteLength)

var (
	errNoLayoutEcho    = errors.New("response has no layout")
	errEmptyLayoutEcho = errors.New("response layout has no nodes")
)

// TransportError is a request that never produced a usable response: the
// connection failed or the body could not be decoded.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx response. Message comes from the body's "message"
// or "error" field when present.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
}

// Message returns a short operator-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if text := http.StatusText(apiErr.Status); text != "" {
			return text
		}
		return fmt.Sprintf("HTTP %d", apiErr.Status)
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return "Backend unreachable: " + tErr.Err.Error()
	}
	return strings.TrimSpace(err.Error())
}
