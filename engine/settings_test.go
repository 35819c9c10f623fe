package engine

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"floorview/config"
)

func TestDurationJSON(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"250ms"`, 250 * time.Millisecond},
		{`""`, 0},
		{`1500`, 1500 * time.Millisecond},
		{`"1h"`, time.Hour},
	}
	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if time.Duration(d) != tt.want {
			t.Errorf("%s = %v, want %v", tt.in, time.Duration(d), tt.want)
		}
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("bad duration accepted")
	}
	if b, _ := json.Marshal(Duration(0)); string(b) != `""` {
		t.Errorf("zero marshals to %s", b)
	}
	if b, _ := json.Marshal(Duration(90 * time.Second)); string(b) != `"1m30s"` {
		t.Errorf("90s marshals to %s", b)
	}
}

func TestKafkaRequestDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"list", `{"name":"k","brokers":["a:9092"," b:9092 "]}`, []string{"a:9092", "b:9092"}},
		{"string", `{"name":"k","brokers":"a:9092,,b:9092"}`, []string{"a:9092", "b:9092"}},
		{"missing", `{"name":"k"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req KafkaRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatal(err)
			}
			if req.Name != "k" {
				t.Errorf("name = %q", req.Name)
			}
			if !reflect.DeepEqual(req.Brokers, tt.want) {
				t.Errorf("brokers = %q, want %q", req.Brokers, tt.want)
			}
		})
	}

	var req KafkaRequest
	if err := json.Unmarshal([]byte(`{"brokers":7}`), &req); err == nil {
		t.Error("numeric brokers accepted")
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"mqtt ok", MQTTSettings{Broker: "localhost"}.validate()},
		{"mqtt selector", MQTTSettings{Broker: "localhost", Selector: "line-1"}.validate()},
		{"valkey ok", ValkeySettings{Address: "localhost:6379", Database: 15}.validate()},
		{"kafka ok", KafkaSettings{Brokers: []string{"k:9092"}, SASLMechanism: "SCRAM-SHA-512", RequiredAcks: -1}.validate()},
	}
	for _, tt := range tests {
		if tt.err != nil {
			t.Errorf("%s: %v", tt.name, tt.err)
		}
	}

	bad := []struct {
		name string
		err  error
	}{
		{"mqtt no broker", MQTTSettings{}.validate()},
		{"mqtt port", MQTTSettings{Broker: "x", Port: 70000}.validate()},
		{"mqtt selector", MQTTSettings{Broker: "x", Selector: "bad selector!"}.validate()},
		{"valkey address", ValkeySettings{Address: "localhost"}.validate()},
		{"valkey db", ValkeySettings{Address: "localhost:6379", Database: 16}.validate()},
		{"valkey ttl", ValkeySettings{Address: "localhost:6379", KeyTTL: -1}.validate()},
		{"kafka brokers", KafkaSettings{}.validate()},
		{"kafka sasl", KafkaSettings{Brokers: []string{"k:9092"}, SASLMechanism: "GSSAPI"}.validate()},
		{"kafka acks", KafkaSettings{Brokers: []string{"k:9092"}, RequiredAcks: 2}.validate()},
		{"kafka retries", KafkaSettings{Brokers: []string{"k:9092"}, MaxRetries: -1}.validate()},
	}
	for _, tt := range bad {
		if !errors.Is(tt.err, ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tt.name, tt.err)
		}
	}
}

func TestMQTTSettingsDefaults(t *testing.T) {
	tests := []struct {
		name     string
		in       MQTTSettings
		wantPort int
	}{
		{"plain", MQTTSettings{Broker: "b"}, 1883},
		{"tls", MQTTSettings{Broker: "b", UseTLS: true}, 8883},
		{"explicit", MQTTSettings{Broker: "b", Port: 1884, UseTLS: true}, 1884},
	}
	for _, tt := range tests {
		got := tt.in.toConfig("line", nil)
		if got.Port != tt.wantPort {
			t.Errorf("%s: port %d, want %d", tt.name, got.Port, tt.wantPort)
		}
		if got.ClientID != config.DefaultMQTTConfig("line").ClientID {
			t.Errorf("%s: client id %q", tt.name, got.ClientID)
		}
	}
}

func TestSettingsKeepStoredPassword(t *testing.T) {
	prev := &config.KafkaConfig{Name: "k", Password: "old"}
	if got := (KafkaSettings{Brokers: []string{"k:1"}}).toConfig("k", prev); got.Password != "old" {
		t.Errorf("empty password replaced stored one: %q", got.Password)
	}
	if got := (KafkaSettings{Brokers: []string{"k:1"}, Password: "new"}).toConfig("k", prev); got.Password != "new" {
		t.Errorf("password = %q, want new", got.Password)
	}

	vprev := &config.ValkeyConfig{Name: "v", Password: "old"}
	if got := (ValkeySettings{Address: "h:1"}).toConfig("v", vprev); got.Password != "old" {
		t.Errorf("valkey password = %q", got.Password)
	}

	kc := config.KafkaConfig{Name: "k", Password: "old", Brokers: []string{"k:1"}}
	s := KafkaSettingsOf(kc)
	if s.Password != "" || !s.AutoCreateTopics {
		t.Errorf("settings view = %+v", s)
	}
}

func TestUpdateRejectsInvalidWithoutSaving(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	if err := e.CreateValkey("cache", ValkeySettings{Address: "localhost:6379"}); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateValkey("cache", ValkeySettings{Address: "other:6379"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate: %v", err)
	}
	if got := e.GetConfig().FindValkey("cache").Address; got != "localhost:6379" {
		t.Errorf("duplicate create changed address to %q", got)
	}
	if err := e.UpdateValkey("ghost", ValkeySettings{Address: "h:1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update unknown: %v", err)
	}

	// The lock must be released after a rejected mutation.
	if err := e.DeleteValkey("cache"); err != nil {
		t.Fatalf("delete after rejection: %v", err)
	}
}
