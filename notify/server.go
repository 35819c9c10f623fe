// Package notify streams violation transitions, alarm logs and poll status
// to TCP notification clients as newline-delimited JSON. Clients receive a
// config message and the set of currently active violations on connect,
// and can ask for a replay of buffered events.
package notify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"floorview/telemetry"
)

const clientQueue = 256

// ViolationEvent is the wire form of a single limit transition.
type ViolationEvent struct {
	Type       string  `json:"type"`
	Device     string  `json:"device"`
	RegisterID string  `json:"register_id"`
	Name       string  `json:"name,omitempty"`
	Value      float64 `json:"value"`
	Display    string  `json:"display,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Entered    bool    `json:"entered"`
	Timestamp  string  `json:"ts"`
}

type alarmsEvent struct {
	Type      string                  `json:"type"`
	Device    string                  `json:"device"`
	Alarms    []telemetry.ActiveAlarm `json:"alarms"`
	Timestamp string                  `json:"ts"`
}

type statusEvent struct {
	Type      string `json:"type"`
	Device    string `json:"device"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Added     int    `json:"added"`
	Timestamp string `json:"ts"`
}

type layoutEvent struct {
	Type        string `json:"type"`
	Nodes       int    `json:"nodes"`
	Connections int    `json:"connections"`
	Timestamp   string `json:"ts"`
}

type configMessage struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
}

type activeMessage struct {
	Type       string           `json:"type"`
	Violations []ViolationEvent `json:"violations"`
}

type request struct {
	Type  string `json:"type"`
	Since string `json:"since,omitempty"`
}

// Server accepts notification clients and fans events out to them.
type Server struct {
	mu        sync.RWMutex
	listener  net.Listener
	clients   map[uint64]*client
	nextID    uint64
	backlog   *history
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	logFn     func(string, ...interface{})
	namespace string

	activeMu sync.Mutex
	active   map[string]ViolationEvent

	clientCount atomic.Int64
}

type client struct {
	id   uint64
	conn net.Conn
	send chan []byte
}

// NewServer creates a server for the given namespace. It does not listen
// until Start is called; broadcasts before then only update the active set.
func NewServer(namespace string) *Server {
	return &Server{
		clients:   make(map[uint64]*client),
		logFn:     func(string, ...interface{}) {},
		namespace: namespace,
		active:    make(map[string]ViolationEvent),
	}
}

// SetLogFunc sets the logging callback.
func (s *Server) SetLogFunc(fn func(string, ...interface{})) {
	if fn != nil {
		s.logFn = fn
	}
}

// HasClients reports whether at least one client is connected.
func (s *Server) HasClients() bool {
	return s.clientCount.Load() > 0
}

// IsRunning reports whether the listener is open.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start begins accepting TCP connections on listenAddr.
func (s *Server) Start(listenAddr string, bufferSize int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("notify: already listening")
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("notify listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.stopChan = make(chan struct{})
	s.backlog = newHistory(bufferSize)
	s.mu.Unlock()

	s.logFn("Notify stream listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Stop closes the listener and disconnects all clients.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.listener.Close()
	s.listener = nil

	for _, c := range s.clients {
		close(c.send)
		c.conn.Close()
	}
	s.clients = make(map[uint64]*client)
	s.clientCount.Store(0)
	s.mu.Unlock()

	s.wg.Wait()
	s.logFn("Notify stream stopped")
}

// BroadcastViolation sends a limit transition and updates the active set.
func (s *Server) BroadcastViolation(device string, v telemetry.Violation) {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := ViolationEvent{
		Type:       "violation",
		Device:     device,
		RegisterID: v.RegisterID,
		Name:       v.Name,
		Value:      v.Value,
		Display:    v.Display,
		Unit:       v.Unit,
		Entered:    v.Entered,
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
	}

	key := device + "/" + ev.RegisterID
	s.activeMu.Lock()
	if v.Entered {
		s.active[key] = ev
	} else {
		delete(s.active, key)
	}
	s.activeMu.Unlock()

	s.broadcast(ev)
}

// BroadcastAlarms sends a device's current alarm log.
func (s *Server) BroadcastAlarms(device string, alarms []telemetry.ActiveAlarm) {
	if alarms == nil {
		alarms = []telemetry.ActiveAlarm{}
	}
	s.broadcast(alarmsEvent{
		Type:      "alarms",
		Device:    device,
		Alarms:    alarms,
		Timestamp: now(),
	})
}

// BroadcastStatus sends the outcome of one poll cycle.
func (s *Server) BroadcastStatus(device string, pollErr error, added int) {
	ev := statusEvent{
		Type:      "status",
		Device:    device,
		OK:        pollErr == nil,
		Added:     added,
		Timestamp: now(),
	}
	if pollErr != nil {
		ev.Error = pollErr.Error()
	}
	s.broadcast(ev)
}

// BroadcastLayout announces that a floor layout was saved.
func (s *Server) BroadcastLayout(nodes, connections int) {
	s.broadcast(layoutEvent{
		Type:        "layout_saved",
		Nodes:       nodes,
		Connections: connections,
		Timestamp:   now(),
	})
}

// Active returns the violations currently entered, ordered by device and register.
func (s *Server) Active() []ViolationEvent {
	s.activeMu.Lock()
	out := make([]ViolationEvent, 0, len(s.active))
	for _, ev := range s.active {
		out = append(out, ev)
	}
	s.activeMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].RegisterID < out[j].RegisterID
	})
	return out
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// broadcast serializes msg, buffers it for replay and queues it for every
// client. Slow clients miss events rather than stall the caller.
func (s *Server) broadcast(msg interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.backlog.add(data, time.Now())
	for _, c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.logFn("Notify accept error: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		id := s.nextID
		s.nextID++
		c := &client{id: id, conn: conn, send: make(chan []byte, clientQueue)}
		s.clients[id] = c
		s.clientCount.Add(1)

		// Welcome goes first in the queue so it precedes any broadcast.
		s.queue(c, configMessage{Type: "config", Namespace: s.namespace})
		s.queue(c, activeMessage{Type: "active", Violations: s.Active()})
		s.mu.Unlock()

		s.logFn("Notify client connected: %s (id=%d)", conn.RemoteAddr(), id)

		s.wg.Add(2)
		go s.clientWriter(c)
		go s.clientReader(c)
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		s.clientCount.Add(-1)
		close(c.send)
		c.conn.Close()
		s.logFn("Notify client disconnected: %s (id=%d)", c.conn.RemoteAddr(), c.id)
	}
	s.mu.Unlock()
}

func (s *Server) clientWriter(c *client) {
	defer s.wg.Done()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := c.conn.Write(data); err != nil {
			s.removeClient(c)
			return
		}
	}
}

func (s *Server) clientReader(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		switch req.Type {
		case "get_config":
			s.reply(c, configMessage{Type: "config", Namespace: s.namespace})
		case "list_active":
			s.reply(c, activeMessage{Type: "active", Violations: s.Active()})
		case "replay":
			s.replay(c, req.Since)
		}
	}
}

// reply queues msg for c if c is still connected.
func (s *Server) reply(c *client, msg interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[c.id]; ok {
		s.queue(c, msg)
	}
}

// queue must be called with s.mu held.
func (s *Server) queue(c *client, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')
	select {
	case c.send <- data:
	default:
	}
}

// replay sends buffered events stamped after since, stopping early when the
// client's queue fills.
func (s *Server) replay(c *client, since string) {
	ts, err := time.Parse(time.RFC3339Nano, since)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[c.id]; !ok || s.backlog == nil {
		return
	}
	for _, data := range s.backlog.after(ts) {
		select {
		case c.send <- data:
		default:
			return
		}
	}
}
