package valkey

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"floorview/config"
	"floorview/layout"
	"floorview/telemetry"
)

// Manager manages multiple Valkey publishers.
type Manager struct {
	namespace  string
	publishers []*Publisher
	mu         sync.RWMutex

	commandHandler CommandHandler
}

// NewManager creates a manager whose keys live under ns.
func NewManager(ns string) *Manager {
	return &Manager{namespace: ns}
}

// LoadFromConfig adds a publisher per persisted entry.
func (m *Manager) LoadFromConfig(cfgs []config.ValkeyConfig) {
	for i := range cfgs {
		m.Add(&cfgs[i])
	}
}

// Add adds a new publisher.
func (m *Manager) Add(cfg *config.ValkeyConfig) *Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()

	pub := NewPublisher(cfg, m.namespace)
	pub.SetCommandHandler(m.commandHandler)
	m.publishers = append(m.publishers, pub)
	return pub
}

// Remove stops and removes a publisher by name.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	var pubToStop *Publisher
	for i, pub := range m.publishers {
		if pub.Name() == name {
			pubToStop = pub
			m.publishers = append(m.publishers[:i], m.publishers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	// Stop OUTSIDE the lock to prevent blocking
	if pubToStop != nil {
		pubToStop.Stop()
		return true
	}
	return false
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pub := range m.publishers {
		if pub.Name() == name {
			return pub
		}
	}
	return nil
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Publisher, len(m.publishers))
	copy(result, m.publishers)
	return result
}

func (m *Manager) running() []*Publisher {
	var out []*Publisher
	for _, pub := range m.List() {
		if pub.IsRunning() {
			out = append(out, pub)
		}
	}
	return out
}

// StartAll starts all enabled publishers.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if !pub.config.Enabled {
			continue
		}
		if err := pub.Start(); err != nil {
			debugLog("Failed to start Valkey %s: %v", pub.Name(), err)
			continue
		}
		debugLog("Started Valkey %s at %s", pub.Name(), pub.Address())
		started++
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	return len(m.running()) > 0
}

// PublishViolation stores and publishes a transition on every running server.
func (m *Manager) PublishViolation(device string, v telemetry.Violation) {
	for _, pub := range m.running() {
		if err := pub.PublishViolation(device, v); err != nil {
			debugLog("Valkey publish error (%s): %v", pub.Name(), err)
		}
	}
}

// StoreSnapshot caches a snapshot on every running server.
func (m *Manager) StoreSnapshot(ctx context.Context, snap Snapshot) {
	for _, pub := range m.running() {
		if err := pub.StoreSnapshot(ctx, snap); err != nil {
			debugLog("Valkey snapshot error (%s): %v", pub.Name(), err)
		}
	}
}

// StoreLayout caches the saved diagram on every running server.
func (m *Manager) StoreLayout(ctx context.Context, g layout.Graph) {
	for _, pub := range m.running() {
		if err := pub.StoreLayout(ctx, g); err != nil {
			debugLog("Valkey layout error (%s): %v", pub.Name(), err)
		}
	}
}

// LoadLayout returns the first cached diagram found on a running server.
func (m *Manager) LoadLayout(ctx context.Context) (layout.Graph, bool) {
	for _, pub := range m.running() {
		g, err := pub.LoadLayout(ctx)
		if err == nil {
			return g, true
		}
		if !errors.Is(err, redis.Nil) {
			debugLog("Valkey layout read error (%s): %v", pub.Name(), err)
		}
	}
	return layout.Graph{}, false
}

// LoadSnapshot returns the first cached snapshot of a device.
func (m *Manager) LoadSnapshot(ctx context.Context, device string) (Snapshot, bool) {
	for _, pub := range m.running() {
		snap, err := pub.LoadSnapshot(ctx, device)
		if err == nil {
			return snap, true
		}
		if !errors.Is(err, redis.Nil) {
			debugLog("Valkey snapshot read error (%s): %v", pub.Name(), err)
		}
	}
	return Snapshot{}, false
}

// SetCommandHandler sets the command handler for all publishers.
func (m *Manager) SetCommandHandler(h CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commandHandler = h
	for _, pub := range m.publishers {
		pub.SetCommandHandler(h)
	}
}
