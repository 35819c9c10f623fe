package www

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// UserData is one row of the users table.
type UserData struct {
	Username           string
	Role               string
	IsAdmin            bool
	MustChangePassword bool
}

// UserRequest is the body of user create and update calls. The username
// comes from the path on update.
type UserRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
}

func (h *Handlers) usersData() []UserData {
	users := h.engine.GetConfig().Web.UI.Users
	rows := make([]UserData, len(users))
	for i, u := range users {
		rows[i] = UserData{Username: u.Username, Role: u.Role, IsAdmin: isAdmin(u.Role), MustChangePassword: u.MustChangePassword}
	}
	return rows
}

func (h *Handlers) handleUsersPage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "users"
	data["Users"] = h.usersData()
	h.renderTemplate(w, "users.html", data)
}

func (h *Handlers) handleUsersPartial(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Users"] = h.usersData()
	h.renderTemplate(w, "users_table.html", data)
}

// userResult renders the refreshed table, or the mapped error.
func (h *Handlers) userResult(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.handleUsersPartial(w, r)
}

func usernameParam(r *http.Request) string {
	name, _ := url.PathUnescape(chi.URLParam(r, "username"))
	return name
}

func (h *Handlers) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	if req, ok := decodeRequest[UserRequest](w, r); ok {
		h.userResult(w, r, h.engine.CreateUser(req.Username, req.Password, req.Role))
	}
}

func (h *Handlers) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	if req, ok := decodeRequest[UserRequest](w, r); ok {
		h.userResult(w, r, h.engine.UpdateUser(usernameParam(r), req.Password, req.Role))
	}
}

func (h *Handlers) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	actor, _, _ := h.sessions.getUser(r)
	h.userResult(w, r, h.engine.DeleteUser(usernameParam(r), actor))
}
