package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"floorview/config"
	"floorview/logging"
	"floorview/telemetry"
)

func logKafka(format string, args ...interface{}) {
	logging.DebugLog("kafka", format, args...)
}

// ViolationMessage is the JSON published for a violation transition.
type ViolationMessage struct {
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

// StatusMessage is the JSON published after each telemetry poll.
type StatusMessage struct {
	Device    string `json:"device"`
	Online    bool   `json:"online"`
	Error     string `json:"error,omitempty"`
	Added     int    `json:"added"`
	Timestamp string `json:"timestamp"`
}

// publishJob represents a pending Kafka publish operation.
type publishJob struct {
	producer *Producer
	topic    string
	key      []byte
	payload  []byte
	cacheKey string
	state    *bool
}

const (
	// MaxPublishWorkers is the number of publish goroutines.
	MaxPublishWorkers = 10
	// MaxPublishQueueSize is the number of pending jobs before new ones are dropped.
	MaxPublishQueueSize = 1000
	// MaxBatchSize caps how many queued jobs one worker writes together.
	MaxBatchSize = 100
	// BatchFlushInterval is the writer's flush timeout for partial batches.
	BatchFlushInterval = 10 * time.Millisecond
)

// Manager manages the producers of every configured cluster.
type Manager struct {
	namespace  string
	producers  map[string]*Producer
	mu         sync.RWMutex
	lastStates map[string]bool // cluster/device/register -> last published violation state
	lastMu     sync.RWMutex

	publishQueue chan publishJob
	wg           sync.WaitGroup
	stopChan     chan struct{}
	started      bool
}

// NewManager creates a manager whose topics live under ns.
func NewManager(ns string) *Manager {
	m := &Manager{
		namespace:    ns,
		producers:    make(map[string]*Producer),
		lastStates:   make(map[string]bool),
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
	m.startWorkers()
	return m
}

// startWorkers starts the publish worker goroutines.
func (m *Manager) startWorkers() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	queue := m.publishQueue
	stop := m.stopChan
	m.mu.Unlock()

	for i := 0; i < MaxPublishWorkers; i++ {
		m.wg.Add(1)
		go m.publishWorker(queue, stop)
	}
}

// publishWorker takes a job, drains whatever else is already queued up to
// MaxBatchSize, and writes each producer/topic group in one call.
func (m *Manager) publishWorker(queue chan publishJob, stop chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case job := <-queue:
			batch := []publishJob{job}
		drain:
			for len(batch) < MaxBatchSize {
				select {
				case next := <-queue:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			m.flush(batch)
		}
	}
}

type batchKey struct {
	producer *Producer
	topic    string
}

func groupJobs(jobs []publishJob) (map[batchKey][]publishJob, []batchKey) {
	groups := make(map[batchKey][]publishJob)
	var order []batchKey
	for _, j := range jobs {
		k := batchKey{j.producer, j.topic}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], j)
	}
	return groups, order
}

func (m *Manager) flush(jobs []publishJob) {
	groups, order := groupJobs(jobs)
	for _, k := range order {
		group := groups[k]
		msgs := make([]kafka.Message, len(group))
		now := time.Now()
		for i, j := range group {
			msgs[i] = kafka.Message{Key: j.key, Value: j.payload, Time: now}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := k.producer.ProduceBatch(ctx, k.topic, msgs)
		cancel()
		if err != nil {
			logKafka("Failed to publish %d messages to %s: %v", len(group), k.topic, err)
			continue
		}

		m.lastMu.Lock()
		for _, j := range group {
			if j.state != nil {
				m.lastStates[j.cacheKey] = *j.state
			}
		}
		m.lastMu.Unlock()
	}
}

// AddCluster adds a cluster. An existing cluster of the same name is kept.
func (m *Manager) AddCluster(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.producers[cfg.Name]; exists {
		return
	}
	m.producers[cfg.Name] = NewProducer(cfg, m.namespace)
}

// RemoveCluster removes a cluster and disconnects it.
func (m *Manager) RemoveCluster(name string) {
	m.mu.Lock()
	producer, exists := m.producers[name]
	delete(m.producers, name)
	m.mu.Unlock()

	if exists {
		producer.Disconnect()
	}
}

// GetProducer returns the producer for the named cluster.
func (m *Manager) GetProducer(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[name]
}

// ListClusters returns all cluster names, sorted.
func (m *Manager) ListClusters() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.producers))
	for name := range m.producers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		out = append(out, p)
	}
	return out
}

// Connect connects to the named cluster.
func (m *Manager) Connect(ctx context.Context, name string) error {
	producer := m.GetProducer(name)
	if producer == nil {
		return fmt.Errorf("kafka cluster not found: %s", name)
	}
	return producer.Connect(ctx)
}

// ConnectEnabled connects every enabled cluster in the background.
func (m *Manager) ConnectEnabled(ctx context.Context) {
	m.startWorkers()
	for _, p := range m.snapshot() {
		if p.config.Enabled {
			go p.Connect(ctx)
		}
	}
}

// StopAll stops the workers and disconnects every cluster.
func (m *Manager) StopAll() {
	m.mu.Lock()
	wasStarted := m.started
	oldStop := m.stopChan
	if wasStarted {
		m.stopChan = make(chan struct{})
		m.publishQueue = make(chan publishJob, MaxPublishQueueSize)
		m.started = false
	}
	m.mu.Unlock()

	if wasStarted {
		close(oldStop)
		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			logKafka("Timeout waiting for publish workers to stop")
		}
	}

	for _, p := range m.snapshot() {
		p.Disconnect()
	}
}

// GetClusterStatus returns the status of a cluster.
func (m *Manager) GetClusterStatus(name string) (ConnectionStatus, error) {
	producer := m.GetProducer(name)
	if producer == nil {
		return StatusDisconnected, fmt.Errorf("cluster not found")
	}
	return producer.GetStatus(), producer.GetError()
}

// LoadFromConfig adds a cluster per persisted entry.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig) {
	for _, c := range cfgs {
		rc := FromConfig(c)
		m.AddCluster(&rc)
	}
}

func (m *Manager) publishing() []*Producer {
	var out []*Producer
	for _, p := range m.snapshot() {
		if p.GetStatus() == StatusConnected && p.config.PublishChanges {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) shouldPublish(cacheKey string, state, force bool) bool {
	m.lastMu.RLock()
	last, exists := m.lastStates[cacheKey]
	m.lastMu.RUnlock()
	return force || !exists || last != state
}

func (m *Manager) enqueue(job publishJob) bool {
	m.mu.RLock()
	queue := m.publishQueue
	m.mu.RUnlock()

	select {
	case queue <- job:
		return true
	default:
		logKafka("Publish queue full, dropping message for %s", job.cacheKey)
		return false
	}
}

// NewViolationMessage builds the message for a transition.
func NewViolationMessage(device string, v telemetry.Violation) ViolationMessage {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ViolationMessage{
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

// PublishViolation queues a transition for every publishing cluster unless
// that cluster already published the same state for the register.
func (m *Manager) PublishViolation(device string, v telemetry.Violation) {
	m.startWorkers()

	payload, err := json.Marshal(NewViolationMessage(device, v))
	if err != nil {
		return
	}
	key := []byte(device + "." + v.RegisterID)
	state := v.Entered

	for _, p := range m.publishing() {
		cacheKey := p.Name() + "/" + device + "/" + v.RegisterID
		if !m.shouldPublish(cacheKey, state, false) {
			continue
		}
		m.enqueue(publishJob{
			producer: p,
			topic:    p.ViolationTopic(),
			key:      key,
			payload:  payload,
			cacheKey: cacheKey,
			state:    &state,
		})
	}
}

// PublishStatus queues the outcome of a telemetry poll. Status is always
// published.
func (m *Manager) PublishStatus(device string, pollErr error, added int) {
	m.startWorkers()

	msg := StatusMessage{
		Device:    device,
		Online:    pollErr == nil,
		Added:     added,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if pollErr != nil {
		msg.Error = pollErr.Error()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, p := range m.publishing() {
		m.enqueue(publishJob{
			producer: p,
			topic:    p.StatusTopic(),
			key:      []byte(device),
			payload:  payload,
			cacheKey: p.Name() + "/" + device + "/status",
		})
	}
}

// AnyPublishing returns true if a connected cluster publishes changes.
func (m *Manager) AnyPublishing() bool {
	return len(m.publishing()) > 0
}

// ClearLastStates forces republishing of every register's state.
func (m *Manager) ClearLastStates() {
	m.lastMu.Lock()
	m.lastStates = make(map[string]bool)
	m.lastMu.Unlock()
}
