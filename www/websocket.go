package www

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"floorview/client"
	"floorview/engine"
	"floorview/logging"
)

// Console websocket message types.
const (
	// Client -> Server
	MsgTypePing        = "ping"
	MsgTypePointer     = "pointer"
	MsgTypeZoom        = "zoom"
	MsgTypeReset       = "reset"
	MsgTypeEdit        = "edit"
	MsgTypeSelect      = "select"
	MsgTypeReload      = "reload"
	MsgTypeSave        = "save"
	MsgTypeDevice      = "device"
	MsgTypeCloseDevice = "close_device"
	MsgTypeTrend       = "trend"
	MsgTypeCommand     = "command"

	// Server -> Client; console events use their event names.
	MsgTypeSnapshot = "snapshot"
	MsgTypeAck      = "ack"
	MsgTypeError    = "error"
	MsgTypePong     = "pong"
)

const (
	socketBuffer       = 256
	socketWriteTimeout = 10 * time.Second
	socketPingPeriod   = 30 * time.Second
)

// WSMessage is the envelope of every console websocket message.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error message.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type registerRequest struct {
	Register string `json:"register"`
}

type commandRequest struct {
	Register string `json:"register"`
	client.Command
}

var upgrader = websocket.Upgrader{
	// Sessions are cookie-bound and SameSite=Lax, so the origin check is
	// left to the browser.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 64 * 1024,
}

// consoleSocket is one browser attached to a console. Writes go through
// a single goroutine; events are dropped when the browser falls behind.
type consoleSocket struct {
	conn *websocket.Conn
	out  chan WSMessage
	done chan struct{}
	once sync.Once
}

func newConsoleSocket(conn *websocket.Conn) *consoleSocket {
	return &consoleSocket{
		conn: conn,
		out:  make(chan WSMessage, socketBuffer),
		done: make(chan struct{}),
	}
}

func (s *consoleSocket) send(msgType, id string, payload interface{}) {
	msg := WSMessage{Type: msgType, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			logging.DebugLog("browser", "websocket: marshal %s: %v", msgType, err)
			return
		}
		msg.Payload = b
	}
	select {
	case <-s.done:
	case s.out <- msg:
	default:
		logging.DebugLog("browser", "websocket buffer full, dropping %s message", msgType)
	}
}

func (s *consoleSocket) sendError(id string, err error, code string) {
	s.send(MsgTypeError, id, WSErrorResponse{Message: client.Message(err), Code: code})
}

// writeLoop drains the outbound queue and keeps the connection alive.
func (s *consoleSocket) writeLoop() {
	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteTimeout)); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *consoleSocket) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// socketHub tracks the consoles opened through the web UI and the
// browsers attached to them.
type socketHub struct {
	mu       sync.Mutex
	consoles map[string]map[*consoleSocket]struct{}
}

func newSocketHub() *socketHub {
	return &socketHub{consoles: make(map[string]map[*consoleSocket]struct{})}
}

func (h *socketHub) track(consoleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.consoles[consoleID]; !ok {
		h.consoles[consoleID] = make(map[*consoleSocket]struct{})
	}
}

func (h *socketHub) add(consoleID string, s *consoleSocket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.consoles[consoleID]
	if !ok {
		set = make(map[*consoleSocket]struct{})
		h.consoles[consoleID] = set
	}
	set[s] = struct{}{}
}

func (h *socketHub) remove(consoleID string, s *consoleSocket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.consoles[consoleID], s)
}

// closeConsole disconnects every browser of a console and forgets it.
func (h *socketHub) closeConsole(consoleID string) {
	h.mu.Lock()
	set := h.consoles[consoleID]
	delete(h.consoles, consoleID)
	h.mu.Unlock()
	for s := range set {
		s.close()
	}
}

func (h *socketHub) consoleIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.consoles))
	for id := range h.consoles {
		ids = append(ids, id)
	}
	return ids
}

func (h *socketHub) closeAll() {
	for _, id := range h.consoleIDs() {
		h.closeConsole(id)
	}
}

// handleConsoleSocket streams the session console's events to the browser
// and applies the input it sends back.
func (h *Handlers) handleConsoleSocket(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessionConsole(r)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.DebugLog("browser", "websocket upgrade: %v", err)
		return
	}

	s := newConsoleSocket(ws)
	h.sockets.add(c.ID(), s)
	defer h.sockets.remove(c.ID(), s)
	defer s.close()

	sub := c.Events.Subscribe(func(ev engine.Event) {
		s.send(ev.Type.String(), "", ev.Payload)
	})
	defer c.Events.Unsubscribe(sub)

	go s.writeLoop()
	s.send(MsgTypeSnapshot, "", snapshotOf(c))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.DebugLog("browser", "websocket console %s: %v", c.ID(), err)
			}
			return
		}
		h.handleSocketMessage(ctx, c, s, msg)
	}
}

// handleSocketMessage applies one client message. Input that only touches
// local state is applied inline; anything that calls the backend runs in
// its own goroutine so pointer input stays responsive.
func (h *Handlers) handleSocketMessage(ctx context.Context, c *engine.Console, s *consoleSocket, msg WSMessage) {
	decode := func(v interface{}) bool {
		if len(msg.Payload) == 0 {
			return true
		}
		if err := json.Unmarshal(msg.Payload, v); err != nil {
			s.send(MsgTypeError, msg.ID, WSErrorResponse{Message: "Invalid payload: " + err.Error(), Code: "INVALID_PAYLOAD"})
			return false
		}
		return true
	}
	reply := func(err error, result interface{}) {
		if err != nil {
			s.sendError(msg.ID, err, "FAILED")
			return
		}
		s.send(MsgTypeAck, msg.ID, result)
	}
	async := func(fn func() (interface{}, error)) {
		go func() {
			res, err := fn()
			reply(err, res)
		}()
	}

	switch msg.Type {
	case MsgTypePing:
		s.send(MsgTypePong, msg.ID, nil)

	case MsgTypePointer:
		var req pointerRequest
		if !decode(&req) {
			return
		}
		ev, err := req.event()
		if err != nil {
			s.sendError(msg.ID, err, "INVALID_PAYLOAD")
			return
		}
		reply(nil, c.HandlePointer(ev))

	case MsgTypeZoom:
		var req zoomRequest
		if !decode(&req) {
			return
		}
		_, err := req.apply(c)
		reply(err, nil)

	case MsgTypeReset:
		c.ResetView()
		reply(nil, nil)

	case MsgTypeEdit:
		var req editRequest
		if !decode(&req) {
			return
		}
		on, err := req.apply(c)
		reply(err, engine.EditModeEvent{EditMode: on})

	case MsgTypeSelect:
		var req selectRequest
		if !decode(&req) {
			return
		}
		c.Select(req.NodeID)
		reply(nil, nil)

	case MsgTypeCloseDevice:
		c.CloseDevice()
		reply(nil, nil)

	case MsgTypeReload:
		async(func() (interface{}, error) { return nil, c.ReloadLayout(ctx) })

	case MsgTypeSave:
		async(func() (interface{}, error) { return nil, c.SaveLayout(ctx) })

	case MsgTypeDevice:
		var req deviceRequest
		if !decode(&req) {
			return
		}
		async(func() (interface{}, error) { return nil, c.OpenDevice(ctx, req.DeviceID, req.Focus) })

	case MsgTypeTrend:
		var req registerRequest
		if !decode(&req) {
			return
		}
		async(func() (interface{}, error) { return nil, c.LoadTrend(ctx, req.Register) })

	case MsgTypeCommand:
		var req commandRequest
		if !decode(&req) {
			return
		}
		async(func() (interface{}, error) { return c.SubmitCommand(ctx, req.Register, req.Command) })

	default:
		s.send(MsgTypeError, msg.ID, WSErrorResponse{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"})
	}
}
