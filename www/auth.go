package www

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"floorview/config"
)

const (
	sessionName   = "floorview_session"
	sessionMaxAge = 7 * 24 * time.Hour

	keyUser    = "username"
	keyRole    = "role"
	keyConsole = "console"
)

// sessionStore keeps the login and the bound console id in a signed
// cookie.
type sessionStore struct {
	cookies *sessions.CookieStore
}

// newSessionStore signs cookies with the base64 secret. A missing or short
// secret gets a random key, which logs everyone out on restart.
func newSessionStore(secret string) *sessionStore {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{cookies: cs}
}

// session never fails: an undecodable cookie, for example one signed with
// a rotated secret, yields a fresh empty session.
func (s *sessionStore) session(r *http.Request) *sessions.Session {
	sess, _ := s.cookies.Get(r, sessionName)
	return sess
}

func (s *sessionStore) update(w http.ResponseWriter, r *http.Request, edit func(v map[interface{}]interface{})) error {
	sess := s.session(r)
	edit(sess.Values)
	return sess.Save(r, w)
}

// getUser returns the logged-in user and role.
func (s *sessionStore) getUser(r *http.Request) (username, role string, ok bool) {
	v := s.session(r).Values
	username, _ = v[keyUser].(string)
	role, _ = v[keyRole].(string)
	if username == "" || role == "" {
		return "", "", false
	}
	return username, role, true
}

// setUser records a login and forgets any console from an earlier one.
func (s *sessionStore) setUser(w http.ResponseWriter, r *http.Request, username, role string) error {
	return s.update(w, r, func(v map[interface{}]interface{}) {
		v[keyUser], v[keyRole] = username, role
		delete(v, keyConsole)
	})
}

func (s *sessionStore) getConsole(r *http.Request) string {
	id, _ := s.session(r).Values[keyConsole].(string)
	return id
}

func (s *sessionStore) setConsole(w http.ResponseWriter, r *http.Request, id string) error {
	return s.update(w, r, func(v map[interface{}]interface{}) { v[keyConsole] = id })
}

// clear logs out and expires the cookie.
func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) error {
	sess := s.session(r)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func isAdmin(role string) bool { return role == config.RoleAdmin }

// canCommand reports whether role may write register values.
func canCommand(role string) bool { return config.RoleAllows(role, config.RoleOperator) }
