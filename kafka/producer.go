package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"floorview/logging"
	"floorview/namespace"
)

// ErrNotConnected is returned when producing on a cluster that is not connected.
var ErrNotConnected = errors.New("kafka cluster not connected")

const (
	dialTimeout   = 10 * time.Second
	maxBatchBytes = 1 << 20
	slowWrite     = 100 * time.Millisecond
)

// ConnectionStatus is the lifecycle state of a cluster connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

var statusNames = [...]string{"Disconnected", "Connecting", "Connected", "Error"}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// Producer writes to one cluster. Writers are opened per topic on first
// use and share one transport.
type Producer struct {
	config  *Config
	builder *namespace.Builder

	mu        sync.RWMutex
	status    ConnectionStatus
	lastErr   error
	transport *kafka.Transport
	writers   map[string]*kafka.Writer
	sent      int64
	failed    int64
	lastSend  time.Time
}

// NewProducer creates a producer whose topics live under ns.
func NewProducer(cfg *Config, ns string) *Producer {
	return &Producer{
		config:  cfg,
		builder: namespace.New(ns, cfg.Selector),
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *Producer) Name() string { return p.config.Name }

// ViolationTopic receives violation transitions.
func (p *Producer) ViolationTopic() string { return p.builder.KafkaViolationTopic() }

// StatusTopic receives poll outcomes.
func (p *Producer) StatusTopic() string { return p.builder.KafkaStatusTopic() }

func (p *Producer) GetStatus() ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Producer) GetError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// GetStats returns message counters and the time of the last good write.
func (p *Producer) GetStats() (sent, failed int64, lastSend time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sent, p.failed, p.lastSend
}

func (p *Producer) setState(s ConnectionStatus, err error) {
	p.mu.Lock()
	p.status, p.lastErr = s, err
	p.mu.Unlock()
}

// Connect probes the brokers and marks the cluster usable. Topic writers
// open lazily on the first write.
func (p *Producer) Connect(ctx context.Context) error {
	p.setState(StatusConnecting, nil)
	logging.DebugLog("kafka", "CONNECT %s: brokers %v", p.config.Name, p.config.Brokers)

	mech, err := p.auth()
	if err == nil {
		err = p.probe(ctx, mech)
	}
	if err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		p.setState(StatusError, err)
		logging.DebugLog("kafka", "CONNECT %s: FAILED - %v", p.config.Name, err)
		return err
	}

	p.mu.Lock()
	p.transport = &kafka.Transport{DialTimeout: dialTimeout, TLS: p.config.GetTLSConfig(), SASL: mech}
	p.status, p.lastErr = StatusConnected, nil
	p.mu.Unlock()
	logging.DebugLog("kafka", "CONNECT %s: connected", p.config.Name)
	return nil
}

// Disconnect closes every topic writer.
func (p *Producer) Disconnect() {
	p.mu.Lock()
	writers := p.writers
	p.writers = make(map[string]*kafka.Writer)
	was := p.status
	p.status, p.lastErr, p.transport = StatusDisconnected, nil, nil
	p.mu.Unlock()

	for _, w := range writers {
		w.Close()
	}
	if was != StatusDisconnected {
		logging.DebugLog("kafka", "DISCONNECT %s", p.config.Name)
	}
}

// Produce sends one message and waits for the configured acks.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	return p.ProduceBatch(ctx, topic, []kafka.Message{{Key: key, Value: value, Time: time.Now()}})
}

// ProduceBatch writes messages to topic in one call. The writer retries
// internally up to MaxRetries times, backing off from RetryBackoff.
func (p *Producer) ProduceBatch(ctx context.Context, topic string, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}
	w, err := p.writer(topic)
	if err != nil {
		return err
	}

	start := time.Now()
	err = w.WriteMessages(ctx, messages...)
	took := time.Since(start)
	n := int64(len(messages))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed += n
		p.lastErr = err
		if strings.Contains(err.Error(), "Unknown Topic") {
			logging.DebugLog("kafka", "TOPIC %s: topic '%s' not found on broker", p.config.Name, topic)
		}
		logging.DebugLog("kafka", "PRODUCE %s: FAILED topic '%s' (%d msgs) after %v: %v", p.config.Name, topic, n, took, err)
		return fmt.Errorf("kafka produce failed: %w", err)
	}
	if took > slowWrite {
		logging.DebugLog("kafka", "PRODUCE %s: topic '%s' %d msgs took %v", p.config.Name, topic, n, took)
	}
	p.sent += n
	p.lastSend = time.Now()
	p.lastErr = nil
	return nil
}

func (p *Producer) writer(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, p.config.Name)
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}

	attempts := p.config.MaxRetries + 1
	w := &kafka.Writer{
		Addr:      kafka.TCP(p.config.Brokers...),
		Topic:     topic,
		Transport: p.transport,
		// Keys are device/register so one register's transitions stay in order.
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(p.config.RequiredAcks),
		MaxAttempts:            attempts,
		WriteBackoffMin:        p.config.RetryBackoff,
		BatchSize:              MaxBatchSize,
		BatchBytes:             maxBatchBytes,
		BatchTimeout:           BatchFlushInterval,
		AllowAutoTopicCreation: p.config.AutoCreateTopics,
	}
	p.writers[topic] = w
	logging.DebugLog("kafka", "TOPIC %s: writer for '%s' (auto-create=%v)", p.config.Name, topic, p.config.AutoCreateTopics)
	return w, nil
}

// auth builds the SASL mechanism. No username means no SASL.
func (p *Producer) auth() (sasl.Mechanism, error) {
	c := p.config
	if c.Username == "" {
		return nil, nil
	}
	switch c.SASLMechanism {
	case SASLPlain:
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case SASLSCRAMSHA256:
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case SASLSCRAMSHA512:
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	case SASLNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported SASL mechanism %q", c.SASLMechanism)
}

// probe succeeds once any broker answers a controller lookup.
func (p *Producer) probe(ctx context.Context, mech sasl.Mechanism) error {
	if len(p.config.Brokers) == 0 {
		return errors.New("no brokers configured")
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := &kafka.Dialer{Timeout: dialTimeout, DualStack: true, TLS: p.config.GetTLSConfig(), SASLMechanism: mech}
	var errs []error
	for _, broker := range p.config.Brokers {
		conn, err := d.DialContext(ctx, "tcp", broker)
		if err == nil {
			_, err = conn.Controller()
			conn.Close()
			if err == nil {
				return nil
			}
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	return fmt.Errorf("no broker reachable: %w", errors.Join(errs...))
}
