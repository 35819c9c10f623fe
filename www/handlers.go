package www

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"floorview/engine"
	"floorview/tui"
)

// formMessage turns an engine error into a sentence for a form, dropping
// the sentinel prefix ("invalid input: ...").
func formMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{engine.ErrInvalidInput, engine.ErrForbidden, engine.ErrNotFound} {
		if errors.Is(err, sentinel) {
			msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
			break
		}
	}
	if msg == "" {
		return msg
	}
	r, n := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[n:]
}

// handleLoginPage renders the login page.
func (h *Handlers) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// If already logged in, redirect to home
	if username, _, ok := h.sessions.getUser(r); ok && username != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	h.renderTemplate(w, "login.html", nil)
}

// handleLoginSubmit handles login form submission.
func (h *Handlers) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Username and password are required",
		})
		return
	}

	user := h.engine.GetConfig().FindWebUser(username)
	if user == nil || !checkPassword(password, user.PasswordHash) {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Invalid username or password",
		})
		return
	}

	if err := h.sessions.setUser(w, r, user.Username, user.Role); err != nil {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Session error: " + err.Error(),
		})
		return
	}

	if user.MustChangePassword {
		http.Redirect(w, r, "/change-password", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout closes the session's console and clears the session.
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := h.sessions.getConsole(r); id != "" {
		h.sockets.closeConsole(id)
		h.engine.CloseConsole(id)
	}
	h.sessions.clear(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleChangePasswordPage renders the change-password form.
func (h *Handlers) handleChangePasswordPage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "password"
	if user := h.engine.GetConfig().FindWebUser(data["Username"].(string)); user != nil {
		data["Forced"] = user.MustChangePassword
	}
	h.renderTemplate(w, "change_password.html", data)
}

// handleChangePasswordSubmit stores a new password and lifts the
// unsecured-server deadline.
func (h *Handlers) handleChangePasswordSubmit(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "password"
	username := data["Username"].(string)
	current := r.FormValue("current_password")
	password := r.FormValue("password")
	confirm := r.FormValue("confirm")

	user := h.engine.GetConfig().FindWebUser(username)
	if user == nil {
		redirect(w, r, "/login")
		return
	}
	data["Forced"] = user.MustChangePassword

	if password != confirm {
		data["Error"] = "Passwords do not match"
		h.renderTemplate(w, "change_password.html", data)
		return
	}
	if err := h.engine.ChangePassword(username, current, password); err != nil {
		data["Error"] = formMessage(err)
		h.renderTemplate(w, "change_password.html", data)
		return
	}

	if h.server != nil {
		h.server.ClearUnsecuredDeadline()
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleConsolePage renders the floor console shell. The diagram, charts
// and inspector are filled in over the console websocket.
func (h *Handlers) handleConsolePage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "console"
	cfg := h.engine.GetConfig()
	data["Backend"] = cfg.Backend.BaseURL
	data["PollInterval"] = cfg.Poll.Interval.String()
	h.renderTemplate(w, "console.html", data)
}

// handleServicesPage renders the publishers page.
func (h *Handlers) handleServicesPage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "services"
	data["Services"] = h.getServicesData()
	cfg := h.engine.GetConfig()
	data["Namespace"] = cfg.Namespace
	data["APIEnabled"] = cfg.Web.API.Enabled
	h.renderTemplate(w, "services.html", data)
}

// handleDebugPage renders the debug log page.
func (h *Handlers) handleDebugPage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "debug"
	data["LogEntries"] = h.getDebugLogEntries()
	h.renderTemplate(w, "debug.html", data)
}

// ServiceData holds publisher display data.
type ServiceData struct {
	engine.ServiceStatus
	StatusClass string
}

func statusClass(s engine.ServiceStatus) string {
	switch {
	case s.Error != "" || s.Status == "Error":
		return "status-error"
	case s.Running:
		return "status-connected"
	case s.Status == "Connecting":
		return "status-connecting"
	default:
		return "status-disconnected"
	}
}

func (h *Handlers) getServicesData() []ServiceData {
	services := h.engine.Services()
	result := make([]ServiceData, 0, len(services))
	for _, s := range services {
		result = append(result, ServiceData{ServiceStatus: s, StatusClass: statusClass(s)})
	}
	return result
}

// DebugLogEntry holds structured debug log data for templates.
type DebugLogEntry struct {
	Timestamp string
	Level     string
	Message   string
}

func (h *Handlers) getDebugLogEntries() []DebugLogEntry {
	store := tui.GetDebugStore()
	if store == nil {
		return nil
	}
	messages := store.GetMessages()
	entries := make([]DebugLogEntry, len(messages))
	for i, msg := range messages {
		entries[i] = DebugLogEntry{
			Timestamp: msg.Timestamp.Format("15:04:05"),
			Level:     msg.Level,
			Message:   msg.Message,
		}
	}
	return entries
}
