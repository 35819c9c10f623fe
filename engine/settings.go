package engine

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"floorview/config"
)

// Default publisher ports.
const (
	mqttPort    = 1883
	mqttTLSPort = 8883
)

// Duration is a time.Duration that travels as a Go duration string in
// JSON ("250ms", "1h"). Bare numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		ms, nerr := strconv.ParseInt(string(b), 10, 64)
		if nerr != nil {
			return fmt.Errorf("duration must be a string like \"5s\" or milliseconds")
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MQTTSettings are the editable fields of an MQTT broker. An empty
// Password on update keeps the stored one.
type MQTTSettings struct {
	Broker   string `json:"broker"`
	Port     int    `json:"port"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Selector string `json:"selector"`
	UseTLS   bool   `json:"use_tls"`
	Enabled  bool   `json:"enabled"`
}

// ValkeySettings are the editable fields of a Valkey server.
type ValkeySettings struct {
	Address        string   `json:"address"`
	Password       string   `json:"password,omitempty"`
	Database       int      `json:"database"`
	Selector       string   `json:"selector"`
	KeyTTL         Duration `json:"key_ttl"`
	UseTLS         bool     `json:"use_tls"`
	PublishChanges bool     `json:"publish_changes"`
	EnableCommands bool     `json:"enable_commands"`
	Enabled        bool     `json:"enabled"`
}

// KafkaSettings are the editable fields of a Kafka cluster.
type KafkaSettings struct {
	Brokers          []string `json:"brokers"`
	UseTLS           bool     `json:"use_tls"`
	TLSSkipVerify    bool     `json:"tls_skip_verify"`
	SASLMechanism    string   `json:"sasl_mechanism"`
	Username         string   `json:"username"`
	Password         string   `json:"password,omitempty"`
	Selector         string   `json:"selector"`
	PublishChanges   bool     `json:"publish_changes"`
	AutoCreateTopics bool     `json:"auto_create_topics"`
	Enabled          bool     `json:"enabled"`
	RequiredAcks     int      `json:"required_acks"`
	MaxRetries       int      `json:"max_retries"`
	RetryBackoff     Duration `json:"retry_backoff"`
}

// Named request bodies for the HTTP front-ends. The name is ignored on
// update, where it comes from the path.
type (
	MQTTRequest struct {
		Name string `json:"name"`
		MQTTSettings
	}
	ValkeyRequest struct {
		Name string `json:"name"`
		ValkeySettings
	}
	KafkaRequest struct {
		Name string `json:"name"`
		KafkaSettings
	}
)

// UnmarshalJSON also accepts brokers as one comma-separated string.
func (k *KafkaSettings) UnmarshalJSON(b []byte) error {
	type plain KafkaSettings
	var aux struct {
		plain
		Brokers json.RawMessage `json:"brokers"`
	}
	aux.plain = plain(*k)
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*k = KafkaSettings(aux.plain)
	k.Brokers = nil
	if len(aux.Brokers) == 0 || string(aux.Brokers) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(aux.Brokers, &list); err != nil {
		var joined string
		if err := json.Unmarshal(aux.Brokers, &joined); err != nil {
			return fmt.Errorf("brokers must be a list or a comma-separated string")
		}
		list = strings.Split(joined, ",")
	}
	k.Brokers = SplitBrokers(list)
	return nil
}

// UnmarshalJSON decodes the name; the embedded settings decoder would
// otherwise hide it.
func (r *KafkaRequest) UnmarshalJSON(b []byte) error {
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &named); err != nil {
		return err
	}
	r.Name = named.Name
	return r.KafkaSettings.UnmarshalJSON(b)
}

// SplitBrokers trims entries, splits comma lists and drops blanks.
func SplitBrokers(in []string) []string {
	var out []string
	for _, item := range in {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

func validSelector(sel string) error {
	if sel != "" && !config.IsValidNamespace(sel) {
		return fmt.Errorf("%w: selector '%s'", ErrInvalidInput, sel)
	}
	return nil
}

func (s MQTTSettings) validate() error {
	if s.Broker == "" {
		return fmt.Errorf("%w: broker address is required", ErrInvalidInput)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidInput, s.Port)
	}
	return validSelector(s.Selector)
}

// toConfig fills defaults: the TLS or plain port and a client id derived
// from the name.
func (s MQTTSettings) toConfig(name string, prev *config.MQTTConfig) config.MQTTConfig {
	port := s.Port
	if port == 0 {
		port = mqttPort
		if s.UseTLS {
			port = mqttTLSPort
		}
	}
	clientID := s.ClientID
	if clientID == "" {
		clientID = config.DefaultMQTTConfig(name).ClientID
	}
	password := s.Password
	if password == "" && prev != nil {
		password = prev.Password
	}
	return config.MQTTConfig{
		Name:     name,
		Enabled:  s.Enabled,
		Broker:   s.Broker,
		Port:     port,
		Username: s.Username,
		Password: password,
		ClientID: clientID,
		Selector: s.Selector,
		UseTLS:   s.UseTLS,
	}
}

func (s ValkeySettings) validate() error {
	if _, _, err := net.SplitHostPort(s.Address); err != nil {
		return fmt.Errorf("%w: address must be host:port", ErrInvalidInput)
	}
	if s.Database < 0 || s.Database > 15 {
		return fmt.Errorf("%w: database %d", ErrInvalidInput, s.Database)
	}
	if s.KeyTTL < 0 {
		return fmt.Errorf("%w: negative key TTL", ErrInvalidInput)
	}
	return validSelector(s.Selector)
}

func (s ValkeySettings) toConfig(name string, prev *config.ValkeyConfig) config.ValkeyConfig {
	password := s.Password
	if password == "" && prev != nil {
		password = prev.Password
	}
	return config.ValkeyConfig{
		Name:           name,
		Enabled:        s.Enabled,
		Address:        s.Address,
		Password:       password,
		Database:       s.Database,
		Selector:       s.Selector,
		UseTLS:         s.UseTLS,
		KeyTTL:         time.Duration(s.KeyTTL),
		PublishChanges: s.PublishChanges,
		EnableCommands: s.EnableCommands,
	}
}

var saslMechanisms = map[string]bool{"": true, "PLAIN": true, "SCRAM-SHA-256": true, "SCRAM-SHA-512": true}

func (s KafkaSettings) validate() error {
	if len(s.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker is required", ErrInvalidInput)
	}
	if !saslMechanisms[s.SASLMechanism] {
		return fmt.Errorf("%w: SASL mechanism '%s'", ErrInvalidInput, s.SASLMechanism)
	}
	if s.RequiredAcks < -1 || s.RequiredAcks > 1 {
		return fmt.Errorf("%w: required acks must be -1, 0 or 1", ErrInvalidInput)
	}
	if s.MaxRetries < 0 || s.RetryBackoff < 0 {
		return fmt.Errorf("%w: negative retry settings", ErrInvalidInput)
	}
	return validSelector(s.Selector)
}

func (s KafkaSettings) toConfig(name string, prev *config.KafkaConfig) config.KafkaConfig {
	password := s.Password
	if password == "" && prev != nil {
		password = prev.Password
	}
	autoCreate := s.AutoCreateTopics
	return config.KafkaConfig{
		Name:             name,
		Enabled:          s.Enabled,
		Brokers:          SplitBrokers(s.Brokers),
		UseTLS:           s.UseTLS,
		TLSSkipVerify:    s.TLSSkipVerify,
		SASLMechanism:    s.SASLMechanism,
		Username:         s.Username,
		Password:         password,
		RequiredAcks:     s.RequiredAcks,
		MaxRetries:       s.MaxRetries,
		RetryBackoff:     time.Duration(s.RetryBackoff),
		PublishChanges:   s.PublishChanges,
		Selector:         s.Selector,
		AutoCreateTopics: &autoCreate,
	}
}

// MQTTSettingsOf returns the stored settings without the password.
func MQTTSettingsOf(c config.MQTTConfig) MQTTSettings {
	return MQTTSettings{
		Broker: c.Broker, Port: c.Port, ClientID: c.ClientID, Username: c.Username,
		Selector: c.Selector, UseTLS: c.UseTLS, Enabled: c.Enabled,
	}
}

// ValkeySettingsOf returns the stored settings without the password.
func ValkeySettingsOf(c config.ValkeyConfig) ValkeySettings {
	return ValkeySettings{
		Address: c.Address, Database: c.Database, Selector: c.Selector,
		KeyTTL: Duration(c.KeyTTL), UseTLS: c.UseTLS, PublishChanges: c.PublishChanges,
		EnableCommands: c.EnableCommands, Enabled: c.Enabled,
	}
}

// KafkaSettingsOf returns the stored settings without the password. An
// unset auto-create flag reads as true.
func KafkaSettingsOf(c config.KafkaConfig) KafkaSettings {
	return KafkaSettings{
		Brokers:          append([]string(nil), c.Brokers...),
		UseTLS:           c.UseTLS,
		TLSSkipVerify:    c.TLSSkipVerify,
		SASLMechanism:    c.SASLMechanism,
		Username:         c.Username,
		Selector:         c.Selector,
		PublishChanges:   c.PublishChanges,
		AutoCreateTopics: c.AutoCreateTopics == nil || *c.AutoCreateTopics,
		Enabled:          c.Enabled,
		RequiredAcks:     c.RequiredAcks,
		MaxRetries:       c.MaxRetries,
		RetryBackoff:     Duration(c.RetryBackoff),
	}
}
