package www

import (
	"encoding/json"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"floorview/config"
	"floorview/engine"
	"floorview/sse"
)

// ServerControl lets handlers reach back into the hosting server.
// *web.Server satisfies it.
type ServerControl interface {
	ClearUnsecuredDeadline()
}

// Handlers holds all HTTP handlers for the web UI.
type Handlers struct {
	cfg      *config.WebUIConfig
	engine   *engine.Engine
	server   ServerControl
	sessions *sessionStore
	tmpl     *template.Template
	eventHub *sse.Hub
	sockets  *socketHub
}

// newHandlers creates a new handlers instance.
func newHandlers(cfg *config.WebUIConfig, eng *engine.Engine, srv ServerControl) *Handlers {
	h := &Handlers{
		cfg:      cfg,
		engine:   eng,
		server:   srv,
		sessions: newSessionStore(cfg.SessionSecret),
		eventHub: sse.NewHub("browser"),
		sockets:  newSocketHub(),
	}

	h.tmpl = template.Must(template.New("").Funcs(template.FuncMap{
		"isAdmin":    isAdmin,
		"canCommand": canCommand,
		"lower":      strings.ToLower,
		"json": func(v interface{}) template.JS {
			b, _ := json.Marshal(v)
			return template.JS(b)
		},
	}).ParseFS(templatesFS, "templates/*.html"))

	h.setupEventListeners()

	return h
}

// NewRouter creates the web UI router. The returned function stops the
// event hub and closes every console opened through it.
func NewRouter(cfg *config.WebUIConfig, eng *engine.Engine, srv ServerControl) (chi.Router, func()) {
	h := newHandlers(cfg, eng, srv)

	r := chi.NewRouter()

	// Static files (public)
	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Login/logout (public)
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLoginSubmit)
	r.Post("/logout", h.handleLogout)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/change-password", h.handleChangePasswordPage)
		r.Post("/change-password", h.handleChangePasswordSubmit)

		// SSE endpoint for service and log updates
		r.Get("/events", h.handleSSE)

		// Pages
		r.Get("/", h.handleConsolePage)
		r.Get("/services", h.handleServicesPage)
		r.Get("/debug", h.handleDebugPage)

		// htmx partials (polling)
		r.Get("/htmx/services", h.handleServicesPartial)
		r.Get("/htmx/debug", h.handleDebugPartial)

		// Console
		r.Route("/console", func(r chi.Router) {
			r.Post("/", h.handleConsoleOpen)
			r.Get("/", h.handleConsoleGet)
			r.Delete("/", h.handleConsoleClose)
			r.Get("/ws", h.handleConsoleSocket)

			r.Post("/pointer", h.handleConsolePointer)
			r.Post("/zoom", h.handleConsoleZoom)
			r.Post("/reset", h.handleConsoleReset)
			r.Post("/edit", h.handleConsoleEdit)
			r.Post("/select", h.handleConsoleSelect)
			r.Post("/reload", h.handleConsoleReload)
			r.Post("/save", h.handleConsoleSave)

			r.Post("/device", h.handleConsoleOpenDevice)
			r.Delete("/device", h.handleConsoleCloseDevice)
			r.Post("/trend/{register}", h.handleConsoleTrend)
			r.Post("/command/{register}", h.handleConsoleCommand)
			r.Get("/charts", h.handleConsoleCharts)
			r.Get("/charts/{register}.png", h.handleConsoleChartPNG)
		})

		// Actions (admin only)
		r.Group(func(r chi.Router) {
			r.Use(h.adminOnlyMiddleware)

			h.mountPublisherActions(r)

			// Settings
			r.Get("/htmx/settings", h.handleSettingsGet)
			r.Put("/htmx/settings", h.handleSettingsUpdate)
			r.Put("/htmx/namespace", h.handleNamespaceUpdate)
			r.Post("/htmx/api/toggle", h.handleAPIToggle)

			// Debug actions
			r.Post("/htmx/debug/clear", h.handleDebugClear)
		})

		// User management (admin only)
		r.Route("/users", func(r chi.Router) {
			r.Use(h.adminOnlyMiddleware)
			r.Get("/", h.handleUsersPage)
			r.Get("/htmx", h.handleUsersPartial)
			r.Post("/", h.handleUserCreate)
			r.Put("/{username}", h.handleUserUpdate)
			r.Delete("/{username}", h.handleUserDelete)
		})
	})

	cleanup := func() {
		h.eventHub.Stop()
		h.sockets.closeAll()
		for _, id := range h.sockets.consoleIDs() {
			h.engine.CloseConsole(id)
		}
	}
	return r, cleanup
}

// redirect sends the browser to path, using HX-Redirect for htmx requests.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// authMiddleware checks if the user is authenticated and has replaced the
// default password.
func (h *Handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _, ok := h.sessions.getUser(r)
		if !ok || username == "" {
			redirect(w, r, "/login")
			return
		}

		// Verify user still exists in config
		user := h.engine.GetConfig().FindWebUser(username)
		if user == nil {
			h.sessions.clear(w, r)
			redirect(w, r, "/login")
			return
		}

		if user.MustChangePassword && r.URL.Path != "/change-password" {
			redirect(w, r, "/change-password")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminOnlyMiddleware checks if the user has admin role.
func (h *Handlers) adminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, role, ok := h.sessions.getUser(r)
		if !ok || !isAdmin(role) {
			if r.Header.Get("HX-Request") == "true" {
				http.Error(w, "Forbidden: Admin access required", http.StatusForbidden)
				return
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// renderTemplate renders a template with common data.
func (h *Handlers) renderTemplate(w http.ResponseWriter, name string, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// getUserInfo returns the current user info for templates.
func (h *Handlers) getUserInfo(r *http.Request) map[string]interface{} {
	username, role, _ := h.sessions.getUser(r)
	return map[string]interface{}{
		"Username":   username,
		"Role":       role,
		"IsAdmin":    isAdmin(role),
		"CanCommand": canCommand(role),
	}
}
