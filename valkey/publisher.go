// Package valkey stores violation state and console snapshots in Valkey/Redis,
// publishes transitions over Pub/Sub and takes manual commands from a queue.
package valkey

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"floorview/config"
	"floorview/layout"
	"floorview/logging"
	"floorview/namespace"
	"floorview/telemetry"
)

func debugLog(format string, args ...interface{}) {
	logging.DebugLog("valkey", format, args...)
}

// ErrNotRunning is returned by reads on a disconnected publisher.
var ErrNotRunning = errors.New("valkey publisher not running")

// ViolationMessage is the JSON stored and published for a violation transition.
type ViolationMessage struct {
	Factory   string             `json:"factory"`
	Device    string             `json:"device"`
	Register  string             `json:"register"`
	Name      string             `json:"name"`
	Value     telemetry.Optional `json:"value"`
	Display   string             `json:"display"`
	Unit      string             `json:"unit,omitempty"`
	Condition string             `json:"condition"`
	Violated  bool               `json:"violated"`
	Timestamp time.Time          `json:"timestamp"`
}

// SnapshotPoint is one chart point in a snapshot.
type SnapshotPoint struct {
	Label    string  `msgpack:"label"`
	Value    float64 `msgpack:"value"`
	Violated bool    `msgpack:"violated"`
}

// SnapshotReading is the latest value of one register in a snapshot.
type SnapshotReading struct {
	RegisterID string    `msgpack:"register_id"`
	Name       string    `msgpack:"name"`
	Value      float64   `msgpack:"value"`
	Unit       string    `msgpack:"unit"`
	Violated   bool      `msgpack:"violated"`
	Timestamp  time.Time `msgpack:"timestamp"`
	Condition  string    `msgpack:"condition"`
}

// Snapshot is the cached telemetry view of one device, msgpack encoded.
type Snapshot struct {
	Device    string                     `msgpack:"device"`
	Readings  []SnapshotReading          `msgpack:"readings"`
	Series    map[string][]SnapshotPoint `msgpack:"series"`
	Alarms    []SnapshotAlarm            `msgpack:"alarms"`
	UpdatedAt time.Time                  `msgpack:"updated_at"`
}

// SnapshotAlarm is an active alarm log entry in a snapshot.
type SnapshotAlarm struct {
	RegisterID  string `msgpack:"register_id"`
	Message     string `msgpack:"message"`
	State       string `msgpack:"state"`
	TriggeredAt string `msgpack:"triggered_at"`
}

// NewSnapshot copies the telemetry of a store into a snapshot.
func NewSnapshot(device string, store *telemetry.Store) Snapshot {
	snap := Snapshot{
		Device:    device,
		Series:    make(map[string][]SnapshotPoint),
		UpdatedAt: time.Now().UTC(),
	}
	for _, r := range store.Readings() {
		snap.Readings = append(snap.Readings, SnapshotReading{
			RegisterID: r.RegisterID,
			Name:       r.Name,
			Value:      r.Value,
			Unit:       r.Unit,
			Violated:   r.Violated,
			Timestamp:  r.Timestamp,
			Condition:  r.Definition.Describe(),
		})
	}
	for _, id := range store.Registers() {
		buf := store.Buffer(id)
		if buf == nil {
			continue
		}
		pts := buf.Points()
		series := make([]SnapshotPoint, len(pts))
		for i, p := range pts {
			series[i] = SnapshotPoint{Label: p.Label, Value: p.Value, Violated: p.Violated}
		}
		snap.Series[id] = series
	}
	for _, a := range store.Alarms() {
		snap.Alarms = append(snap.Alarms, SnapshotAlarm{
			RegisterID:  string(a.RegisterID),
			Message:     a.Message,
			State:       a.State,
			TriggeredAt: a.TriggeredAt,
		})
	}
	return snap
}

// EncodeSnapshot serializes a snapshot with msgpack.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return msgpack.Marshal(&s)
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := msgpack.Unmarshal(data, &s)
	return s, err
}

// EncodeLayout serializes the saveable part of a diagram with msgpack,
// reusing the JSON field names.
func EncodeLayout(g layout.Graph) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(layout.Sanitize(g)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLayout is the inverse of EncodeLayout.
func DecodeLayout(data []byte) (layout.Graph, error) {
	var g layout.Graph
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&g)
	return g, err
}

// Publisher handles one Valkey server.
type Publisher struct {
	config  *config.ValkeyConfig
	builder *namespace.Builder
	client  *redis.Client
	running bool
	mu      sync.RWMutex

	commandHandler CommandHandler

	// Command queue processing
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher creates a publisher whose keys live under ns.
func NewPublisher(cfg *config.ValkeyConfig, ns string) *Publisher {
	return &Publisher{
		config:   cfg,
		builder:  namespace.New(ns, cfg.Selector),
		stopChan: make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string { return p.config.Name }

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Create client and test connection WITHOUT holding the lock
	client := redis.NewClient(opts)

	debugLog("Attempting to connect to Valkey at %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		debugLog("Valkey connection failed: %v", err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	debugLog("Successfully connected to Valkey at %s", p.config.Address)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check we're not already running (race condition check)
	if p.running {
		client.Close()
		return nil
	}

	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})

	if p.config.EnableCommands {
		p.wg.Add(1)
		go p.commandListener(client, p.stopChan)
	}
	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	client := p.client
	p.client = nil
	p.mu.Unlock()

	// The listener wakes at least once a second from BLPop
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1500 * time.Millisecond):
	}

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

func (p *Publisher) conn() *redis.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil
	}
	return p.client
}

// NewViolationMessage builds the message for a transition.
func (p *Publisher) NewViolationMessage(device string, v telemetry.Violation) ViolationMessage {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ViolationMessage{
		Factory:   p.builder.ValkeyFactory(),
		Device:    device,
		Register:  v.RegisterID,
		Name:      v.Name,
		Value:     telemetry.Some(v.Value),
		Display:   v.Display,
		Unit:      v.Unit,
		Condition: v.Definition.Describe(),
		Violated:  v.Entered,
		Timestamp: ts.UTC(),
	}
}

// PublishViolation stores a register's violation state and, when enabled,
// publishes it on the device and all-devices change channels.
func (p *Publisher) PublishViolation(device string, v telemetry.Violation) error {
	client := p.conn()
	if client == nil {
		return nil
	}

	data, err := json.Marshal(p.NewViolationMessage(device, v))
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := p.builder.ValkeyViolationKey(device, v.RegisterID)
	if err := client.Set(ctx, key, data, p.config.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	if p.config.PublishChanges {
		client.Publish(ctx, p.builder.ValkeyChangesChannel(device), data)
		client.Publish(ctx, p.builder.ValkeyAllChangesChannel(), data)
	}
	return nil
}

// StoreSnapshot caches a device's telemetry snapshot.
func (p *Publisher) StoreSnapshot(ctx context.Context, snap Snapshot) error {
	client := p.conn()
	if client == nil {
		return nil
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := client.Set(ctx, p.builder.ValkeySnapshotKey(snap.Device), data, p.config.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a device's cached snapshot. A missing key returns
// redis.Nil.
func (p *Publisher) LoadSnapshot(ctx context.Context, device string) (Snapshot, error) {
	client := p.conn()
	if client == nil {
		return Snapshot{}, ErrNotRunning
	}
	data, err := client.Get(ctx, p.builder.ValkeySnapshotKey(device)).Bytes()
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(data)
}

// StoreLayout caches the last saved diagram. It never expires.
func (p *Publisher) StoreLayout(ctx context.Context, g layout.Graph) error {
	client := p.conn()
	if client == nil {
		return nil
	}
	data, err := EncodeLayout(g)
	if err != nil {
		return fmt.Errorf("failed to encode layout: %w", err)
	}
	return client.Set(ctx, p.builder.ValkeyLayoutKey(), data, 0).Err()
}

// LoadLayout reads the cached diagram. A missing key returns redis.Nil.
func (p *Publisher) LoadLayout(ctx context.Context) (layout.Graph, error) {
	client := p.conn()
	if client == nil {
		return layout.Graph{}, ErrNotRunning
	}
	data, err := client.Get(ctx, p.builder.ValkeyLayoutKey()).Bytes()
	if err != nil {
		return layout.Graph{}, err
	}
	return DecodeLayout(data)
}
