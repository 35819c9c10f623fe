package engine

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"floorview/config"
)

// MinPasswordLength applies when a user picks their own password.
const MinPasswordLength = 8

// passwordCost is the bcrypt cost for new hashes.
var passwordCost = bcrypt.DefaultCost

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), passwordCost)
	return string(b), err
}

func validRole(role string) error {
	switch role {
	case config.RoleAdmin, config.RoleOperator, config.RoleViewer:
		return nil
	}
	return fmt.Errorf("%w: role must be 'admin', 'operator' or 'viewer'", ErrInvalidInput)
}

func adminCount(c *config.Config) int {
	n := 0
	for _, u := range c.Web.UI.Users {
		if u.Role == config.RoleAdmin {
			n++
		}
	}
	return n
}

// CreateUser adds a console login. The user must replace the password at
// first login.
func (e *Engine) CreateUser(username, password, role string) error {
	switch {
	case username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	case password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if err := validRole(role); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	err = e.commit(func(c *config.Config) error {
		if c.FindWebUser(username) != nil {
			return fmt.Errorf("%w: user '%s'", ErrAlreadyExists, username)
		}
		c.AddWebUser(config.WebUser{Username: username, PasswordHash: hash, Role: role, MustChangePassword: true})
		return nil
	})
	if err == nil {
		e.emit(EventSettingsChanged, SystemEvent{Detail: "user+" + username})
	}
	return err
}

// UpdateUser changes a user's role and, when password is set, resets the
// password and forces a change at next login. The last admin cannot be
// demoted.
func (e *Engine) UpdateUser(username, password, role string) error {
	if err := validRole(role); err != nil {
		return err
	}
	var hash string
	if password != "" {
		var err error
		if hash, err = hashPassword(password); err != nil {
			return err
		}
	}
	err := e.commit(func(c *config.Config) error {
		u := c.FindWebUser(username)
		if u == nil {
			return fmt.Errorf("%w: user '%s'", ErrNotFound, username)
		}
		if u.Role == config.RoleAdmin && role != config.RoleAdmin && adminCount(c) <= 1 {
			return fmt.Errorf("%w: cannot demote the last admin", ErrInvalidInput)
		}
		updated := *u
		updated.Role = role
		if hash != "" {
			updated.PasswordHash, updated.MustChangePassword = hash, true
		}
		c.UpdateWebUser(username, updated)
		return nil
	})
	if err == nil {
		e.emit(EventSettingsChanged, SystemEvent{Detail: "user~" + username})
	}
	return err
}

// DeleteUser removes a login. actor is the user asking; nobody may delete
// themselves or the last admin.
func (e *Engine) DeleteUser(username, actor string) error {
	if username == actor {
		return fmt.Errorf("%w: cannot delete your own account", ErrInvalidInput)
	}
	err := e.commit(func(c *config.Config) error {
		u := c.FindWebUser(username)
		if u == nil {
			return fmt.Errorf("%w: user '%s'", ErrNotFound, username)
		}
		if u.Role == config.RoleAdmin && adminCount(c) <= 1 {
			return fmt.Errorf("%w: cannot delete the last admin", ErrInvalidInput)
		}
		c.RemoveWebUser(username)
		return nil
	})
	if err == nil {
		e.emit(EventSettingsChanged, SystemEvent{Detail: "user-" + username})
	}
	return err
}

// ChangePassword lets a user replace their own password after proving the
// current one. It clears the forced-change flag.
func (e *Engine) ChangePassword(username, current, next string) error {
	switch {
	case len(next) < MinPasswordLength:
		return fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, MinPasswordLength)
	case next == current:
		return fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	return e.commit(func(c *config.Config) error {
		u := c.FindWebUser(username)
		if u == nil {
			return fmt.Errorf("%w: user '%s'", ErrNotFound, username)
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
			return fmt.Errorf("%w: current password is incorrect", ErrForbidden)
		}
		updated := *u
		updated.PasswordHash, updated.MustChangePassword = hash, false
		c.UpdateWebUser(username, updated)
		return nil
	})
}
