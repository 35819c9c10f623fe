package www

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"floorview/config"
	"floorview/engine"
)

// fakeControl records calls from the change-password handler.
type fakeControl struct {
	cleared int
}

func (f *fakeControl) ClearUnsecuredDeadline() { f.cleared++ }

func testUser(t *testing.T, name, password, role string, mustChange bool) config.WebUser {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return config.WebUser{Username: name, PasswordHash: string(hash), Role: role, MustChangePassword: mustChange}
}

func newTestServer(t *testing.T, users ...config.WebUser) (*httptest.Server, *engine.Engine, *fakeControl) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Web.UI.SessionSecret = "dGVzdHNlY3JldHRlc3RzZWNyZXR0ZXN0c2VjcmV0dGVzdA==" // 32 bytes base64
	cfg.Web.UI.Users = users

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		Backend:    newFakeBackend(),
	})
	ctl := &fakeControl{}
	router, cleanup := NewRouter(&cfg.Web.UI, eng, ctl)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		cleanup()
	})
	return server, eng, ctl
}

// newClient returns a client with a cookie jar that does not follow redirects.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postForm(t *testing.T, c *http.Client, u string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.Post(u, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST %s: %v", u, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, server *httptest.Server, username, password string) *http.Client {
	t.Helper()
	c := newClient(t)
	resp := postForm(t, c, server.URL+"/login", url.Values{"username": {username}, "password": {password}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	return c
}

func TestBcryptHashYAMLRoundtrip(t *testing.T) {
	// Verify that bcrypt hashes survive YAML marshal/unmarshal
	hash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	original := string(hash)

	cfg := config.DefaultConfig()
	cfg.Web.UI.Users = []config.WebUser{{
		Username:           "admin",
		PasswordHash:       original,
		Role:               config.RoleAdmin,
		MustChangePassword: true,
	}}

	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.Web.UI.Users) == 0 {
		t.Fatal("no users after load")
	}

	loadedHash := loaded.Web.UI.Users[0].PasswordHash
	if err := bcrypt.CompareHashAndPassword([]byte(loadedHash), []byte("admin")); err != nil {
		t.Errorf("bcrypt verify FAILED after YAML roundtrip: %v", err)
	}

	if !loaded.Web.UI.Users[0].MustChangePassword {
		t.Error("MustChangePassword was lost in roundtrip")
	}
}

func TestLoginRedirectsToChangePassword(t *testing.T) {
	server, _, _ := newTestServer(t, testUser(t, "admin", "admin", config.RoleAdmin, true))
	c := newClient(t)

	resp := postForm(t, c, server.URL+"/login", url.Values{"username": {"admin"}, "password": {"admin"}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/change-password" {
		t.Errorf("expected redirect to /change-password, got %s", loc)
	}

	resp2, err := c.Get(server.URL + "/change-password")
	if err != nil {
		t.Fatalf("GET /change-password failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for change-password page, got %d (Location: %s)", resp2.StatusCode, resp2.Header.Get("Location"))
	}
	body, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), "change the default password") {
		t.Error("forced change notice missing")
	}

	// Every other page bounces back until the password is changed.
	resp3, err := c.Get(server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if loc := resp3.Header.Get("Location"); loc != "/change-password" {
		t.Errorf("GET / redirected to %q, want /change-password", loc)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	server, _, _ := newTestServer(t, testUser(t, "admin", "secret-pass", config.RoleAdmin, false))
	c := newClient(t)

	resp := postForm(t, c, server.URL+"/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want login page", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Invalid username or password") {
		t.Error("error message missing")
	}

	resp2, err := c.Get(server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if loc := resp2.Header.Get("Location"); loc != "/login" {
		t.Errorf("unauthenticated GET / redirected to %q", loc)
	}
}

func TestChangePassword(t *testing.T) {
	server, eng, ctl := newTestServer(t, testUser(t, "admin", "admin", config.RoleAdmin, true))
	c := login(t, server, "admin", "admin")

	tests := []struct {
		name    string
		form    url.Values
		wantErr string
	}{
		{"wrong current", url.Values{"current_password": {"nope"}, "password": {"long-enough"}, "confirm": {"long-enough"}}, "Current password is incorrect"},
		{"too short", url.Values{"current_password": {"admin"}, "password": {"short"}, "confirm": {"short"}}, "at least 8"},
		{"mismatch", url.Values{"current_password": {"admin"}, "password": {"long-enough"}, "confirm": {"long-enougH"}}, "do not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postForm(t, c, server.URL+"/change-password", tt.form)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status %d", resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.wantErr) {
				t.Errorf("body missing %q", tt.wantErr)
			}
		})
	}
	if ctl.cleared != 0 {
		t.Fatal("deadline cleared by a failed change")
	}

	resp := postForm(t, c, server.URL+"/change-password", url.Values{
		"current_password": {"admin"}, "password": {"long-enough"}, "confirm": {"long-enough"},
	})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if ctl.cleared != 1 {
		t.Errorf("ClearUnsecuredDeadline called %d times", ctl.cleared)
	}
	user := eng.GetConfig().FindWebUser("admin")
	if user.MustChangePassword {
		t.Error("MustChangePassword still set")
	}
	if !checkPassword("long-enough", user.PasswordHash) {
		t.Error("new password not stored")
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	server, _, _ := newTestServer(t,
		testUser(t, "admin", "admin-pass", config.RoleAdmin, false),
		testUser(t, "viewer", "viewer-pass", config.RoleViewer, false),
	)

	tests := []struct {
		user, pass string
		want       int
	}{
		{"viewer", "viewer-pass", http.StatusForbidden},
		{"admin", "admin-pass", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			c := login(t, server, tt.user, tt.pass)
			body := `{"name":"plant-` + tt.user + `","broker":"localhost","port":1883}`
			resp, err := c.Post(server.URL+"/htmx/mqtt", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestPublisherSettingsHidePassword(t *testing.T) {
	server, _, _ := newTestServer(t, testUser(t, "admin", "admin-pass", config.RoleAdmin, false))
	c := login(t, server, "admin", "admin-pass")

	body := `{"name":"cache","address":"localhost:6379","password":"s3cret","key_ttl":"90s"}`
	resp, err := c.Post(server.URL+"/htmx/valkey", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}

	resp, err = c.Get(server.URL + "/htmx/valkey/cache")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	got := string(raw)
	if strings.Contains(got, "s3cret") {
		t.Errorf("password leaked: %s", got)
	}
	for _, want := range []string{`"has_password":true`, `"key_ttl":"1m30s"`} {
		if !strings.Contains(got, want) {
			t.Errorf("response missing %s: %s", want, got)
		}
	}
}

func TestSettingsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, testUser(t, "admin", "admin-pass", config.RoleAdmin, false))
	c := login(t, server, "admin", "admin-pass")

	put := func(body string) (int, string) {
		req, _ := http.NewRequest(http.MethodPut, server.URL+"/htmx/settings", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(raw)
	}

	code, got := put(`{"namespace":"line-9","poll_interval":"2s"}`)
	if code != http.StatusOK {
		t.Fatalf("update: status %d: %s", code, got)
	}
	for _, want := range []string{`"namespace":"line-9"`, `"poll_interval":"2s"`} {
		if !strings.Contains(got, want) {
			t.Errorf("response missing %s: %s", want, got)
		}
	}

	if code, got := put(`{"poll_interval":"100ms"}`); code != http.StatusBadRequest {
		t.Errorf("fast poll: status %d: %s", code, got)
	}
	if code, _ := put(`{"namespace":`); code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", code)
	}
}
