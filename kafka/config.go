// Package kafka publishes violation transitions and poll status to Kafka
// clusters.
package kafka

import (
	"crypto/tls"
	"time"

	"floorview/config"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// Config holds the runtime settings of a Kafka cluster connection.
type Config struct {
	Name          string
	Enabled       bool
	Brokers       []string
	UseTLS        bool
	TLSSkipVerify bool
	SASLMechanism SASLMechanism
	Username      string
	Password      string

	// Producer settings
	RequiredAcks int // -1=all, 0=none, 1=leader only
	MaxRetries   int
	RetryBackoff time.Duration

	PublishChanges   bool
	Selector         string
	AutoCreateTopics bool
}

// DefaultConfig returns a Kafka configuration with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Brokers:          []string{"localhost:9092"},
		RequiredAcks:     -1, // All replicas must acknowledge
		MaxRetries:       3,
		RetryBackoff:     100 * time.Millisecond,
		AutoCreateTopics: true,
	}
}

// FromConfig converts a persisted cluster entry, filling unset producer
// settings with defaults.
func FromConfig(c config.KafkaConfig) Config {
	out := DefaultConfig(c.Name)
	out.Enabled = c.Enabled
	if len(c.Brokers) > 0 {
		out.Brokers = append([]string(nil), c.Brokers...)
	}
	out.UseTLS = c.UseTLS
	out.TLSSkipVerify = c.TLSSkipVerify
	out.SASLMechanism = SASLMechanism(c.SASLMechanism)
	out.Username = c.Username
	out.Password = c.Password
	if c.RequiredAcks != 0 {
		out.RequiredAcks = c.RequiredAcks
	}
	if c.MaxRetries > 0 {
		out.MaxRetries = c.MaxRetries
	}
	if c.RetryBackoff > 0 {
		out.RetryBackoff = c.RetryBackoff
	}
	out.PublishChanges = c.PublishChanges
	out.Selector = c.Selector
	if c.AutoCreateTopics != nil {
		out.AutoCreateTopics = *c.AutoCreateTopics
	}
	return out
}

// GetTLSConfig returns a TLS configuration if TLS is enabled.
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
}
