package engine

import (
	"fmt"
	"strings"
	"time"

	"floorview/config"
)

// minPollInterval is the fastest live view refresh accepted.
const minPollInterval = 500 * time.Millisecond

// SystemSettings are the instance-wide values editable at runtime. Nil
// fields are left unchanged by ApplySettings. The CSRF token is write-only.
type SystemSettings struct {
	Namespace    *string   `json:"namespace,omitempty"`
	BackendURL   *string   `json:"backend_url,omitempty"`
	CSRFToken    *string   `json:"csrf_token,omitempty"`
	PollInterval *Duration `json:"poll_interval,omitempty"`
	Theme        *string   `json:"theme,omitempty"`
	APIEnabled   *bool     `json:"api_enabled,omitempty"`
}

// Settings returns the current values of every field except the token.
func (e *Engine) Settings() SystemSettings {
	e.cfg.Lock()
	defer e.cfg.Unlock()
	ns, url, theme := e.cfg.Namespace, e.cfg.Backend.BaseURL, e.cfg.UI.Theme
	poll := Duration(e.cfg.Poll.Interval)
	api := e.cfg.Web.API.Enabled
	return SystemSettings{Namespace: &ns, BackendURL: &url, PollInterval: &poll, Theme: &theme, APIEnabled: &api}
}

func (s SystemSettings) validate() error {
	if s.Namespace != nil && !config.IsValidNamespace(*s.Namespace) {
		return fmt.Errorf("%w: namespace '%s'", ErrInvalidInput, *s.Namespace)
	}
	if s.BackendURL != nil && *s.BackendURL == "" {
		return fmt.Errorf("%w: base URL is required", ErrInvalidInput)
	}
	if s.PollInterval != nil && time.Duration(*s.PollInterval) < minPollInterval {
		return fmt.Errorf("%w: poll interval must be at least %v", ErrInvalidInput, minPollInterval)
	}
	return nil
}

// ApplySettings validates and stores s in one save. A namespace change is
// announced on its own event; publishers pick it up on restart. Backend and
// poll changes apply to consoles opened afterwards.
func (e *Engine) ApplySettings(s SystemSettings) error {
	if err := s.validate(); err != nil {
		return err
	}
	var changed []string
	err := e.commit(func(c *config.Config) error {
		if s.Namespace != nil && *s.Namespace != c.Namespace {
			c.Namespace = *s.Namespace
			changed = append(changed, "namespace="+c.Namespace)
		}
		if s.BackendURL != nil && *s.BackendURL != c.Backend.BaseURL {
			c.Backend.BaseURL = *s.BackendURL
			changed = append(changed, "backend="+c.Backend.BaseURL)
		}
		if s.CSRFToken != nil {
			c.Backend.CSRFToken = *s.CSRFToken
		}
		if s.PollInterval != nil && time.Duration(*s.PollInterval) != c.Poll.Interval {
			c.Poll.Interval = time.Duration(*s.PollInterval)
			changed = append(changed, fmt.Sprintf("poll=%v", c.Poll.Interval))
		}
		if s.Theme != nil {
			c.UI.Theme = *s.Theme
		}
		if s.APIEnabled != nil && *s.APIEnabled != c.Web.API.Enabled {
			c.Web.API.Enabled = *s.APIEnabled
			changed = append(changed, fmt.Sprintf("api=%v", c.Web.API.Enabled))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range changed {
		if ns, ok := strings.CutPrefix(c, "namespace="); ok {
			e.emit(EventNamespaceChanged, SystemEvent{Detail: ns})
		} else {
			e.emit(EventSettingsChanged, SystemEvent{Detail: c})
		}
	}
	return nil
}

// SetNamespace changes the topic and key prefix.
func (e *Engine) SetNamespace(ns string) error {
	return e.ApplySettings(SystemSettings{Namespace: &ns})
}

// SetUITheme stores the terminal theme name.
func (e *Engine) SetUITheme(theme string) error {
	return e.ApplySettings(SystemSettings{Theme: &theme})
}

// ToggleAPI flips the REST API on or off and returns the new state. The
// web server checks the flag per request, so it applies immediately.
func (e *Engine) ToggleAPI() (bool, error) {
	enabled := !e.Settings().APIEnabledValue()
	if err := e.ApplySettings(SystemSettings{APIEnabled: &enabled}); err != nil {
		return false, err
	}
	return enabled, nil
}

// APIEnabledValue dereferences APIEnabled, reading nil as false.
func (s SystemSettings) APIEnabledValue() bool {
	return s.APIEnabled != nil && *s.APIEnabled
}
