// Package config handles configuration persistence for the floorview console.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID identifies a change listener.
type ConfigListenerID uint64

// Config holds the complete application configuration.
type Config struct {
	Namespace string         `yaml:"namespace"` // Instance namespace for topic/key isolation
	Backend   BackendConfig  `yaml:"backend"`
	Poll      PollConfig     `yaml:"poll"`
	Viewport  ViewportConfig `yaml:"viewport"`
	Web       WebConfig      `yaml:"web"`
	MQTT      []MQTTConfig   `yaml:"mqtt"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`
	Notify    NotifyConfig   `yaml:"notify,omitempty"`
	SSH       SSHConfig      `yaml:"ssh,omitempty"`
	UI        UIConfig       `yaml:"ui,omitempty"`

	// Deprecated: use Poll.Interval. Migrated on load.
	PollRate time.Duration `yaml:"poll_rate,omitempty"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.Mutex                  `yaml:"-"`
	listenerSeq     ConfigListenerID            `yaml:"-"`
}

// BackendConfig locates the plant backend whose API the console reads.
type BackendConfig struct {
	BaseURL   string        `yaml:"base_url"`
	CSRFToken string        `yaml:"csrf_token,omitempty"`
	Cookie    string        `yaml:"cookie,omitempty"` // Session cookie for backends behind a login
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Device    string        `yaml:"device,omitempty"` // Device opened in the live view on start
	VLAN      string        `yaml:"vlan,omitempty"`
}

// PollConfig controls the live telemetry view.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxPoints   int           `yaml:"max_points"`
	LabelFormat string        `yaml:"label_format,omitempty"` // Go time layout for chart labels
}

// ViewportConfig bounds the diagram zoom.
type ViewportConfig struct {
	MinZoom  float64 `yaml:"min_zoom"`
	MaxZoom  float64 `yaml:"max_zoom"`
	ZoomStep float64 `yaml:"zoom_step"`
}

// NotifyConfig controls the TCP stream for notification clients.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen,omitempty"`      // host:port, default DefaultNotifyListen
	BufferSize int    `yaml:"buffer_size,omitempty"` // events kept for replay
}

// SSHConfig controls remote terminal access. Each session gets its own
// console with the configured role.
type SSHConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port,omitempty"`
	Password       string `yaml:"password,omitempty"`
	AuthorizedKeys string `yaml:"authorized_keys,omitempty"` // file or directory
	HostKey        string `yaml:"host_key,omitempty"`        // default ~/.floorview/host_key
	Role           string `yaml:"role,omitempty"`
}

// UIConfig stores user interface preferences.
type UIConfig struct {
	Theme     string `yaml:"theme,omitempty"`      // Theme name: default, retro, mono, amber, highcontrast
	ASCIIMode bool   `yaml:"ascii_mode,omitempty"` // Use ASCII characters for borders (for terminals without Unicode)
}

// WebConfig holds unified web server configuration.
type WebConfig struct {
	Enabled bool         `yaml:"enabled"`
	Host    string       `yaml:"host"`
	Port    int          `yaml:"port"`
	API     WebAPIConfig `yaml:"api"`
	UI      WebUIConfig  `yaml:"ui"`
}

// WebAPIConfig holds read-only REST API settings.
type WebAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebUIConfig holds browser console settings.
type WebUIConfig struct {
	Enabled       bool      `yaml:"enabled"`
	SessionSecret string    `yaml:"session_secret,omitempty"`
	Users         []WebUser `yaml:"users,omitempty"`
}

// WebUser represents a web console user.
type WebUser struct {
	Username           string `yaml:"username"`
	PasswordHash       string `yaml:"password_hash"`                  // bcrypt
	Role               string `yaml:"role"`                           // "admin", "operator" or "viewer"
	MustChangePassword bool   `yaml:"must_change_password,omitempty"` // Force password change on first login
}

// Web user roles. Admins may save the layout, operators may send manual
// commands, viewers only watch.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// RoleAllows reports whether role grants at least the rights of required.
func RoleAllows(role, required string) bool {
	rank := map[string]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}
	return rank[role] >= rank[required] && rank[role] > 0
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port format
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`           // Redis DB number (default 0)
	Selector       string        `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // TTL for keys (0 = no expiry)
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // Publish to Pub/Sub on violations
	EnableCommands bool          `yaml:"enable_commands,omitempty"` // Forward queued manual commands to the backend
}

// KafkaConfig holds Kafka cluster configuration for YAML persistence.
// Pointer fields distinguish "not set" from an explicit false.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`

	PublishChanges   bool   `yaml:"publish_changes,omitempty"`    // Publish violation transitions
	Selector         string `yaml:"selector,omitempty"`           // Optional sub-namespace
	AutoCreateTopics *bool  `yaml:"auto_create_topics,omitempty"` // Auto-create topics if they don't exist (default true)
}

// Defaults.
const (
	DefaultNamespace   = "floorview"
	DefaultBaseURL     = "http://localhost:5000"
	DefaultPoll        = 4 * time.Second
	DefaultMaxPoints   = 100
	DefaultLabelFormat = "15:04:05"
	DefaultMinZoom     = 0.5
	DefaultMaxZoom     = 2.5
	DefaultZoomStep    = 0.1

	DefaultNotifyListen = "0.0.0.0:9999"
	DefaultNotifyBuffer = 10000

	DefaultSSHPort = 2222
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: DefaultNamespace,
		Backend: BackendConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 10 * time.Second,
		},
		Poll: PollConfig{
			Interval:    DefaultPoll,
			MaxPoints:   DefaultMaxPoints,
			LabelFormat: DefaultLabelFormat,
		},
		Viewport: ViewportConfig{
			MinZoom:  DefaultMinZoom,
			MaxZoom:  DefaultMaxZoom,
			ZoomStep: DefaultZoomStep,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			API: WebAPIConfig{
				Enabled: true,
			},
			UI: WebUIConfig{
				Enabled: true,
			},
		},
		MQTT:   []MQTTConfig{},
		Valkey: []ValkeyConfig{},
		Kafka:  []KafkaConfig{},
		Notify: NotifyConfig{
			Listen:     DefaultNotifyListen,
			BufferSize: DefaultNotifyBuffer,
		},
		SSH: SSHConfig{
			Port: DefaultSSHPort,
			Role: RoleViewer,
		},
	}
}

// DefaultMQTTConfig returns an MQTT broker entry with defaults.
func DefaultMQTTConfig(name string) MQTTConfig {
	return MQTTConfig{
		Name:     name,
		Broker:   "localhost",
		Port:     1883,
		ClientID: "floorview-" + name,
	}
}

// DefaultValkeyConfig returns a Valkey server entry with defaults.
func DefaultValkeyConfig(name string) ValkeyConfig {
	return ValkeyConfig{
		Name:           name,
		Address:        "localhost:6379",
		PublishChanges: true,
	}
}

// DefaultKafkaConfig returns a Kafka cluster entry with defaults.
func DefaultKafkaConfig(name string) KafkaConfig {
	return KafkaConfig{
		Name:           name,
		Brokers:        []string{"localhost:9092"},
		RequiredAcks:   -1,
		MaxRetries:     3,
		RetryBackoff:   100 * time.Millisecond,
		PublishChanges: true,
	}
}

// DefaultPath returns the default configuration file path (~/.floorview/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".floorview", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults, which are saved best-effort.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		dirty = true
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Migrate the legacy top-level poll rate
	if cfg.PollRate > 0 {
		cfg.Poll.Interval = cfg.PollRate
		cfg.PollRate = 0
		dirty = true
	}

	cfg.applyDefaults()

	// Generate session secret if not already set (needed for login pages)
	if cfg.Web.UI.SessionSecret == "" {
		secret := make([]byte, 32)
		rand.Read(secret)
		cfg.Web.UI.SessionSecret = base64.StdEncoding.EncodeToString(secret)
		dirty = true
	}

	if dirty {
		cfg.Save(path) // Best-effort save
	}

	return cfg, nil
}

// applyDefaults fills zero values a partial file left behind.
func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = DefaultPoll
	}
	if c.Poll.MaxPoints <= 0 {
		c.Poll.MaxPoints = DefaultMaxPoints
	}
	if c.Poll.LabelFormat == "" {
		c.Poll.LabelFormat = DefaultLabelFormat
	}
	if c.Viewport.MinZoom <= 0 {
		c.Viewport.MinZoom = DefaultMinZoom
	}
	if c.Viewport.MaxZoom <= 0 {
		c.Viewport.MaxZoom = DefaultMaxZoom
	}
	if c.Viewport.ZoomStep <= 0 {
		c.Viewport.ZoomStep = DefaultZoomStep
	}
}

// AddOnChangeListener registers cb to run in its own goroutine after every
// successful save.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}
	c.listenerSeq++
	c.changeListeners[c.listenerSeq] = cb
	return c.listenerSeq
}

// RemoveOnChangeListener drops a listener. Unknown ids are ignored.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	delete(c.changeListeners, id)
	c.listenersMu.Unlock()
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.Lock()
	for _, cb := range c.changeListeners {
		go cb()
	}
	c.listenersMu.Unlock()
}

// Lock takes the data mutex. Pair it with Unlock, or with UnlockAndSave
// to persist the change.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save locks, then writes the file and notifies listeners.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.UnlockAndSave(path)
}

// UnlockAndSave marshals under the held lock, releases it, then writes
// the file with owner-only permissions since it carries credentials.
func (c *Config) UnlockAndSave(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	c.notifyChangeListeners()
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, and underscores")
	}
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid backend base_url %q: must be an http(s) URL", c.Backend.BaseURL)
		}
	}
	if c.Viewport.MinZoom > c.Viewport.MaxZoom {
		return fmt.Errorf("invalid viewport: min_zoom %.2f exceeds max_zoom %.2f", c.Viewport.MinZoom, c.Viewport.MaxZoom)
	}
	if c.Notify.BufferSize < 0 {
		return fmt.Errorf("invalid notify buffer_size %d", c.Notify.BufferSize)
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh port %d", c.SSH.Port)
	}
	if c.SSH.Role != "" && !RoleAllows(c.SSH.Role, RoleViewer) {
		return fmt.Errorf("ssh has unknown role %q", c.SSH.Role)
	}
	if c.Poll.MaxPoints < 0 {
		return fmt.Errorf("invalid poll max_points %d", c.Poll.MaxPoints)
	}
	for _, u := range c.Web.UI.Users {
		if u.Role != "" && !RoleAllows(u.Role, RoleViewer) {
			return fmt.Errorf("web user %q has unknown role %q", u.Username, u.Role)
		}
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
