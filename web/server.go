// Package web serves the REST API under /api and the browser console at
// the root from a single listener.
package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"floorview/api"
	"floorview/config"
	"floorview/engine"
	"floorview/logging"
	"floorview/www"
)

const shutdownGrace = 5 * time.Second

// Server owns the HTTP listener. Route trees are built once; the API is
// gated per request on the live config so toggling it needs no rebuild.
type Server struct {
	cfg     *config.WebConfig
	engine  *engine.Engine
	handler http.Handler
	closers []func()

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener

	deadlineMu sync.Mutex
	deadline   *time.Timer
}

// NewServer builds the route tree for cfg.
func NewServer(cfg *config.WebConfig, eng *engine.Engine) *Server {
	s := &Server{cfg: cfg, engine: eng}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer, middleware.Compress(5))

	apiRouter, stopAPI := api.NewRouter(s.engine)
	s.closers = append(s.closers, stopAPI)
	r.With(allowCrossOrigin, s.requireAPI).Mount("/api", apiRouter)

	if s.cfg.UI.Enabled {
		ui, stopUI := www.NewRouter(&s.cfg.UI, s.engine, s)
		s.closers = append(s.closers, stopUI)
		r.Mount("/", ui)
	}
	return r
}

// requireAPI answers 404 while the REST API is switched off.
func (s *Server) requireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.engine.Settings().APIEnabledValue() {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowCrossOrigin lets dashboards on other origins read the API.
func allowCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logWriter sends net/http's internal errors to the debug log.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logging.DebugLog("web", "%s", p)
	return len(p), nil
}

// Start binds the configured address and serves in the background. Bind
// errors are returned; starting a running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logWriter{}, "", 0),
	}
	s.srv, s.ln = srv, ln

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		logging.DebugLog("web", "serve %s: %v", addr, err)
		s.mu.Lock()
		if s.srv == srv {
			s.srv, s.ln = nil, nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop shuts the listener down, waiting briefly for in-flight requests,
// and releases the SSE hubs and console sockets.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for _, c := range closers {
		c()
	}
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Address is the base URL users should open. With port 0 it reflects the
// port actually bound.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return "http://" + s.ln.Addr().String()
	}
	return "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// SetUnsecuredDeadline stops the server after d unless cleared first, then
// calls onExpiry. It guards an instance still using the default admin
// password.
func (s *Server) SetUnsecuredDeadline(d time.Duration, onExpiry func()) {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	if s.deadline != nil {
		s.deadline.Stop()
	}
	s.deadline = time.AfterFunc(d, func() {
		s.Stop()
		if onExpiry != nil {
			onExpiry()
		}
	})
}

// ClearUnsecuredDeadline cancels a pending deadline.
func (s *Server) ClearUnsecuredDeadline() {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}
