package engine

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"floorview/config"
)

func init() { passwordCost = bcrypt.MinCost }

func TestUserLifecycle(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	cfg := e.GetConfig()

	if err := e.CreateUser("ana", "first-pass", config.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u := cfg.FindWebUser("ana"); u == nil || !u.MustChangePassword {
		t.Fatalf("created user = %+v", u)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate", e.CreateUser("ana", "x", config.RoleViewer), ErrAlreadyExists},
		{"no password", e.CreateUser("bo", "", config.RoleViewer), ErrInvalidInput},
		{"bad role", e.CreateUser("bo", "pw", "root"), ErrInvalidInput},
		{"update unknown", e.UpdateUser("ghost", "", config.RoleViewer), ErrNotFound},
		{"demote last admin", e.UpdateUser("ana", "", config.RoleViewer), ErrInvalidInput},
		{"delete self", e.DeleteUser("ana", "ana"), ErrInvalidInput},
		{"delete last admin", e.DeleteUser("ana", "someone"), ErrInvalidInput},
		{"short password", e.ChangePassword("ana", "first-pass", "short"), ErrInvalidInput},
		{"same password", e.ChangePassword("ana", "first-pass", "first-pass"), ErrInvalidInput},
		{"wrong current", e.ChangePassword("ana", "nope", "long-enough-1"), ErrForbidden},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, tt.err, tt.want)
		}
	}

	if err := e.ChangePassword("ana", "first-pass", "long-enough-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	u := cfg.FindWebUser("ana")
	if u.MustChangePassword || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("long-enough-1")) != nil {
		t.Errorf("after change: %+v", u)
	}

	if err := e.CreateUser("bo", "pw-bo", config.RoleOperator); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateUser("bo", "reset-pw", config.RoleAdmin); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if u := cfg.FindWebUser("bo"); u.Role != config.RoleAdmin || !u.MustChangePassword {
		t.Errorf("promoted user = %+v", u)
	}
	// With two admins one may go.
	if err := e.DeleteUser("ana", "bo"); err != nil {
		t.Errorf("DeleteUser: %v", err)
	}
}
