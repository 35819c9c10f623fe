// Package mqtt publishes register violation transitions and active alarm
// logs to MQTT brokers.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"floorview/config"
	"floorview/logging"
	"floorview/namespace"
	"floorview/telemetry"
)

func logMQTT(format string, args ...interface{}) {
	logging.DebugLog("mqtt", format, args...)
}

// Publisher handles one broker connection.
type Publisher struct {
	config  *config.MQTTConfig
	builder *namespace.Builder
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	// Last published violation state per device/register
	lastStates map[string]bool
	lastMu     sync.RWMutex
}

// ViolationMessage is the JSON published, retained, for a violation transition.
type ViolationMessage struct {
	Topic     string             `json:"topic"`
	Device    string             `json:"device"`
	Register  string             `json:"register"`
	Name      string             `json:"name"`
	Value     telemetry.Optional `json:"value"`
	Display   string             `json:"display"`
	Unit      string             `json:"unit,omitempty"`
	Condition string             `json:"condition"`
	Violated  bool               `json:"violated"`
	Timestamp string             `json:"timestamp"`
}

// AlarmsMessage is the JSON published for a device's active alarm log.
type AlarmsMessage struct {
	Topic     string                  `json:"topic"`
	Device    string                  `json:"device"`
	Alarms    []telemetry.ActiveAlarm `json:"alarms"`
	Timestamp string                  `json:"timestamp"`
}

// NewViolationMessage builds the message for a transition.
func NewViolationMessage(topic, device string, v telemetry.Violation) ViolationMessage {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ViolationMessage{
		Topic:     topic,
		Device:    device,
		Register:  v.RegisterID,
		Name:      v.Name,
		Value:     telemetry.Some(v.Value),
		Display:   v.Display,
		Unit:      v.Unit,
		Condition: v.Definition.Describe(),
		Violated:  v.Entered,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

// NewPublisher creates a new MQTT publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig, ns string) *Publisher {
	return &Publisher{
		config:     cfg,
		builder:    namespace.New(ns, cfg.Selector),
		lastStates: make(map[string]bool),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options WITHOUT holding the lock
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s", p.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return token.Error()
	}
	logMQTT("Successfully connected to MQTT broker %s", p.Address())

	p.mu.Lock()
	// Double-check we're not already running (race condition check)
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	// Republish every state after a reconnect
	p.ClearLastStates()
	return nil
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	// Disconnect OUTSIDE the lock to prevent blocking
	client.Disconnect(500)
}

// shouldPublish reports whether state differs from the last one published
// for key.
func (p *Publisher) shouldPublish(key string, state, force bool) bool {
	p.lastMu.RLock()
	last, exists := p.lastStates[key]
	p.lastMu.RUnlock()
	return force || !exists || last != state
}

func (p *Publisher) recordState(key string, state bool) {
	p.lastMu.Lock()
	p.lastStates[key] = state
	p.lastMu.Unlock()
}

// ClearLastStates forces the next transition of every register to publish.
func (p *Publisher) ClearLastStates() {
	p.lastMu.Lock()
	p.lastStates = make(map[string]bool)
	p.lastMu.Unlock()
}

// PublishViolation sends a violation transition as a retained message unless
// the same state was already published for the register.
func (p *Publisher) PublishViolation(device string, v telemetry.Violation, force bool) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	cacheKey := device + "/" + v.RegisterID
	if !p.shouldPublish(cacheKey, v.Entered, force) {
		return false
	}

	topic := p.builder.MQTTViolationTopic(device, v.RegisterID)
	payload, err := json.Marshal(NewViolationMessage(p.builder.MQTTBase(), device, v))
	if err != nil {
		return false
	}

	token := client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		logMQTT("Publish to %s failed: %v", topic, token.Error())
		return false
	}

	p.recordState(cacheKey, v.Entered)
	return true
}

// PublishAlarms sends the active alarm log of a device, retained.
func (p *Publisher) PublishAlarms(device string, alarms []telemetry.ActiveAlarm) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}
	if alarms == nil {
		alarms = []telemetry.ActiveAlarm{}
	}

	msg := AlarmsMessage{
		Topic:     p.builder.MQTTBase(),
		Device:    device,
		Alarms:    alarms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	token := client.Publish(p.builder.MQTTAlarmsTopic(device), 1, true, payload)
	return token.WaitTimeout(2*time.Second) && token.Error() == nil
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// Manager fans transitions out to every broker.
type Manager struct {
	publishers []*Publisher
	mu         sync.RWMutex
}

// NewManager creates a new MQTT manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add adds a publisher, replacing one with the same name.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	var old *Publisher
	for i, p := range m.publishers {
		if p.Name() == pub.Name() {
			old = p
			m.publishers[i] = pub
			break
		}
	}
	if old == nil {
		m.publishers = append(m.publishers, pub)
	}
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// Remove stops and removes a publisher by name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	var removed *Publisher
	for i, p := range m.publishers {
		if p.Name() == name {
			removed = p
			m.publishers = append(m.publishers[:i], m.publishers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if removed != nil {
		removed.Stop()
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.publishers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Publisher, len(m.publishers))
	copy(out, m.publishers)
	return out
}

// StartAll starts every enabled publisher and returns how many connected.
func (m *Manager) StartAll() int {
	started := 0
	for _, p := range m.List() {
		if !p.config.Enabled {
			continue
		}
		if err := p.Start(); err != nil {
			logMQTT("Failed to start MQTT %s: %v", p.Name(), err)
			continue
		}
		started++
	}
	return started
}

// StopAll stops every publisher.
func (m *Manager) StopAll() {
	for _, p := range m.List() {
		p.Stop()
	}
}

// PublishViolation sends a transition to every running publisher.
func (m *Manager) PublishViolation(device string, v telemetry.Violation) {
	for _, p := range m.List() {
		if p.IsRunning() {
			p.PublishViolation(device, v, false)
		}
	}
}

// PublishAlarms sends a device's alarm log to every running publisher.
func (m *Manager) PublishAlarms(device string, alarms []telemetry.ActiveAlarm) {
	for _, p := range m.List() {
		if p.IsRunning() {
			p.PublishAlarms(device, alarms)
		}
	}
}

// AnyRunning returns true if any publisher is connected.
func (m *Manager) AnyRunning() bool {
	for _, p := range m.List() {
		if p.IsRunning() {
			return true
		}
	}
	return false
}

// LoadFromConfig creates a publisher per broker entry.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, ns string) {
	for i := range cfgs {
		m.Add(NewPublisher(&cfgs[i], ns))
	}
}
