// Package ssh serves the terminal console over SSH. Every session gets its
// own engine console and TUI; publishers and the backend client are shared.
package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/terminfo"
	gossh "golang.org/x/crypto/ssh"

	"floorview/config"
	"floorview/engine"
	"floorview/tui"
)

const openTimeout = 15 * time.Second

// restoreTerminal leaves the alternate screen and shows the cursor.
const restoreTerminal = "\x1b[?1049l\x1b[?25h\x1b[0m"

// Server accepts SSH connections and runs one TUI per session.
type Server struct {
	cfg    config.SSHConfig
	engine *engine.Engine

	mu        sync.Mutex
	sshConfig *gossh.ServerConfig
	listener  net.Listener
	running   bool
	stopChan  chan struct{}

	sessionsMu sync.RWMutex
	sessions   map[*session]struct{}

	onConnect    func(remoteAddr string)
	onDisconnect func(remoteAddr string)
}

type session struct {
	conn    *gossh.ServerConn
	channel gossh.Channel
	pty     *ptyRequest
	tty     *channelTty

	mu     sync.Mutex
	app    *tui.App
	closed bool
}

// ptyRequest is the payload of a pty-req (RFC 4254 6.2).
type ptyRequest struct {
	Term     string
	Columns  uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
	Modes    string
}

// windowChange is the payload of a window-change request (RFC 4254 6.7).
type windowChange struct {
	Columns  uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
}

// NewServer creates a server for eng. Call Start to listen.
func NewServer(cfg config.SSHConfig, eng *engine.Engine) *Server {
	return &Server{
		cfg:      cfg,
		engine:   eng,
		sessions: make(map[*session]struct{}),
	}
}

// SetOnSessionConnect sets a callback run when a session starts its TUI.
func (s *Server) SetOnSessionConnect(fn func(remoteAddr string)) {
	s.onConnect = fn
}

// SetOnSessionDisconnect sets a callback run when a session ends.
func (s *Server) SetOnSessionDisconnect(fn func(remoteAddr string)) {
	s.onDisconnect = fn
}

// Start listens on the configured port.
func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = config.DefaultSSHPort
	}
	return s.Listen(fmt.Sprintf(":%d", port))
}

// Listen accepts connections on addr. At least one of password and
// authorized keys must be configured.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("ssh server already running")
	}

	signer, err := hostKey(s.cfg.HostKey)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}
	sshConfig := &gossh.ServerConfig{}
	sshConfig.AddHostKey(signer)

	if cb := passwordCallback(s.cfg.Password); cb != nil {
		sshConfig.PasswordCallback = cb
	}
	keyCb, err := publicKeyCallback(s.cfg.AuthorizedKeys)
	if err != nil {
		tui.DebugLogSSH("%v", err)
	} else if keyCb != nil {
		sshConfig.PublicKeyCallback = keyCb
	}
	if sshConfig.PasswordCallback == nil && sshConfig.PublicKeyCallback == nil {
		return fmt.Errorf("no ssh authentication method configured")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.sshConfig = sshConfig
	s.listener = ln
	s.running = true
	s.stopChan = make(chan struct{})

	tui.DebugLogSSH("Server listening on %s", ln.Addr())
	go s.acceptLoop(ln, s.stopChan)
	return nil
}

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener, stop chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				tui.DebugLogSSH("Accept error: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	s.mu.Lock()
	sshConfig := s.sshConfig
	s.mu.Unlock()

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, sshConfig)
	if err != nil {
		tui.DebugLogSSH("Handshake failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	tui.DebugLogSSH("Connection from %s (user %s)", sshConn.RemoteAddr(), sshConn.User())

	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			tui.DebugLogSSH("Could not accept channel: %v", err)
			continue
		}
		go s.handleSession(&session{conn: sshConn, channel: channel}, requests)
	}
}

// handleSession answers session requests until the channel closes. The TUI
// starts once both a pty and a shell have been requested.
func (s *Server) handleSession(sess *session, requests <-chan *gossh.Request) {
	remote := sess.conn.RemoteAddr().String()

	for req := range requests {
		ok := false
		switch req.Type {
		case "pty-req":
			var pty ptyRequest
			if err := gossh.Unmarshal(req.Payload, &pty); err != nil {
				tui.DebugLogSSH("Invalid pty-req from %s: %v", remote, err)
				break
			}
			sess.pty = &pty
			ok = true

		case "shell":
			ok = sess.pty != nil
			if ok {
				go s.runSession(sess)
			}

		case "window-change":
			var win windowChange
			if err := gossh.Unmarshal(req.Payload, &win); err != nil {
				tui.DebugLogSSH("Invalid window-change from %s: %v", remote, err)
				break
			}
			if sess.tty != nil {
				sess.tty.resize(int(win.Columns), int(win.Rows))
			}
			ok = true

		case "env":
			ok = true
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}

	sess.close()
}

func (s *Server) runSession(sess *session) {
	remote := sess.conn.RemoteAddr().String()
	tui.DebugLogSSH("Session from %s (term=%s, %dx%d)", remote, sess.pty.Term, sess.pty.Columns, sess.pty.Rows)

	tty := newChannelTty(sess.channel, sess.pty.Term, int(sess.pty.Columns), int(sess.pty.Rows))
	sess.tty = tty

	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
	if s.onConnect != nil {
		s.onConnect(remote)
	}
	defer s.cleanupSession(sess, remote)

	screen, err := newScreen(tty)
	if err != nil {
		tui.DebugLogSSH("Screen for %s: %v", remote, err)
		return
	}

	role := s.cfg.Role
	if role == "" {
		role = config.RoleViewer
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	console, err := s.engine.OpenConsole(ctx, role)
	cancel()
	if err != nil {
		tui.DebugLogSSH("Console for %s: %v", remote, err)
	}

	app := tui.NewAppWithScreen(s.engine, console, screen)
	if !sess.setApp(app) {
		app.Close()
		return
	}

	finalized := false
	app.SetOnDisconnect(func() {
		// screen.Fini would deadlock on the UI goroutine, so restore the
		// client's terminal by hand before closing the channel.
		finalized = true
		sess.channel.Write([]byte(restoreTerminal))
		tty.Close()
	})

	if err := app.Run(); err != nil {
		tui.DebugLogSSH("TUI error for %s: %v", remote, err)
	}
	app.Close()
	if !finalized {
		screen.Fini()
	}
	sess.conn.Close()
}

func (s *Server) cleanupSession(sess *session, remote string) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()

	sess.close()
	if s.onDisconnect != nil {
		s.onDisconnect(remote)
	}
	tui.DebugLogSSH("Session from %s ended", remote)
}

// setApp records the session's TUI. It reports false when the session
// closed while the TUI was being built.
func (sess *session) setApp(app *tui.App) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return false
	}
	sess.app = app
	return true
}

// close ends the session's TUI and the channel, signalling a clean exit
// status to the client.
func (sess *session) close() {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	app := sess.app
	sess.mu.Unlock()

	if app != nil {
		app.Close()
	}
	if sess.tty != nil {
		sess.tty.Stop()
	}
	sess.channel.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{0}))
	sess.channel.CloseWrite()
	sess.channel.Close()
}

// newScreen builds a tcell screen for the client's terminal type, falling
// back to xterm-256color and then xterm.
func newScreen(tty *channelTty) (tcell.Screen, error) {
	var lastErr error
	for _, term := range []string{tty.term, "xterm-256color", "xterm"} {
		ti, err := terminfo.LookupTerminfo(term)
		if err != nil {
			lastErr = err
			continue
		}
		if term != tty.term {
			tui.DebugLogSSH("No terminfo for %s, using %s", tty.term, term)
		}
		return tcell.NewTerminfoScreenFromTtyTerminfo(tty, ti)
	}
	return nil, fmt.Errorf("terminfo: %w", lastErr)
}

// Stop closes the listener and every session.
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
	s.mu.Unlock()

	s.DisconnectAllSessions()
}

// IsRunning reports whether the server is listening.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SessionCount returns the number of sessions running a TUI.
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// DisconnectAllSessions closes every session without waiting.
func (s *Server) DisconnectAllSessions() {
	s.sessionsMu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.RUnlock()

	for _, sess := range sessions {
		go sess.close()
	}
	if len(sessions) > 0 {
		tui.DebugLogSSH("Disconnecting %d session(s)", len(sessions))
	}
}
