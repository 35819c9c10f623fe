package engine

import (
	"context"
	"fmt"
	"time"

	"floorview/config"
	"floorview/kafka"
	"floorview/mqtt"
)

// kafkaConnectTimeout bounds one background connection attempt.
const kafkaConnectTimeout = 15 * time.Second

// commit runs mutate under the config lock and saves the file. An error
// from mutate leaves the config unsaved.
func (e *Engine) commit(mutate func(c *config.Config) error) error {
	e.cfg.Lock()
	if err := mutate(e.cfg); err != nil {
		e.cfg.Unlock()
		return err
	}
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

// --- MQTT ---

// CreateMQTT adds a broker, saves the config and starts it when enabled.
func (e *Engine) CreateMQTT(name string, s MQTTSettings) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	var entry config.MQTTConfig
	err := e.commit(func(c *config.Config) error {
		if c.FindMQTT(name) != nil {
			return fmt.Errorf("%w: MQTT broker '%s'", ErrAlreadyExists, name)
		}
		entry = s.toConfig(name, nil)
		c.AddMQTT(entry)
		return nil
	})
	if err != nil {
		return err
	}
	e.replaceMQTT(entry)
	e.emit(EventMQTTCreated, ServiceEvent{Name: name})
	return nil
}

// UpdateMQTT replaces a broker's settings and restarts its publisher.
func (e *Engine) UpdateMQTT(name string, s MQTTSettings) error {
	if err := s.validate(); err != nil {
		return err
	}
	var entry config.MQTTConfig
	err := e.commit(func(c *config.Config) error {
		prev := c.FindMQTT(name)
		if prev == nil {
			return fmt.Errorf("%w: MQTT broker '%s'", ErrNotFound, name)
		}
		entry = s.toConfig(name, prev)
		c.UpdateMQTT(name, entry)
		return nil
	})
	if err != nil {
		return err
	}
	e.replaceMQTT(entry)
	e.emit(EventMQTTUpdated, ServiceEvent{Name: name})
	return nil
}

// replaceMQTT swaps in a publisher for entry; Add stops the old one.
func (e *Engine) replaceMQTT(entry config.MQTTConfig) {
	pub := mqtt.NewPublisher(&entry, e.cfg.Namespace)
	e.mqttMgr.Add(pub)
	if entry.Enabled {
		if err := pub.Start(); err != nil {
			e.logFn("MQTT %s failed to start: %v", entry.Name, err)
		}
	}
}

// DeleteMQTT removes a broker from the config and stops its publisher.
func (e *Engine) DeleteMQTT(name string) error {
	err := e.commit(func(c *config.Config) error {
		if !c.RemoveMQTT(name) {
			return fmt.Errorf("%w: MQTT broker '%s'", ErrNotFound, name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.mqttMgr.Remove(name)
	e.emit(EventMQTTDeleted, ServiceEvent{Name: name})
	return nil
}

// StartMQTT connects a broker's publisher without changing the config.
func (e *Engine) StartMQTT(name string) error {
	pub := e.mqttMgr.Get(name)
	if pub == nil {
		return fmt.Errorf("%w: MQTT publisher '%s'", ErrNotFound, name)
	}
	if err := pub.Start(); err != nil {
		return err
	}
	e.emit(EventMQTTStarted, ServiceEvent{Name: name})
	return nil
}

// StopMQTT disconnects a broker's publisher. Unknown names are ignored.
func (e *Engine) StopMQTT(name string) {
	if pub := e.mqttMgr.Get(name); pub != nil {
		pub.Stop()
	}
	e.emit(EventMQTTStopped, ServiceEvent{Name: name})
}

// --- Valkey ---

// CreateValkey adds a server, saves the config and starts it when enabled.
func (e *Engine) CreateValkey(name string, s ValkeySettings) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	var entry config.ValkeyConfig
	err := e.commit(func(c *config.Config) error {
		if c.FindValkey(name) != nil {
			return fmt.Errorf("%w: Valkey server '%s'", ErrAlreadyExists, name)
		}
		entry = s.toConfig(name, nil)
		c.AddValkey(entry)
		return nil
	})
	if err != nil {
		return err
	}
	e.replaceValkey(entry)
	e.emit(EventValkeyCreated, ServiceEvent{Name: name})
	return nil
}

// UpdateValkey replaces a server's settings and restarts its publisher.
func (e *Engine) UpdateValkey(name string, s ValkeySettings) error {
	if err := s.validate(); err != nil {
		return err
	}
	var entry config.ValkeyConfig
	err := e.commit(func(c *config.Config) error {
		prev := c.FindValkey(name)
		if prev == nil {
			return fmt.Errorf("%w: Valkey server '%s'", ErrNotFound, name)
		}
		entry = s.toConfig(name, prev)
		c.UpdateValkey(name, entry)
		return nil
	})
	if err != nil {
		return err
	}
	e.replaceValkey(entry)
	e.emit(EventValkeyUpdated, ServiceEvent{Name: name})
	return nil
}

func (e *Engine) replaceValkey(entry config.ValkeyConfig) {
	e.valkeyMgr.Remove(entry.Name)
	pub := e.valkeyMgr.Add(&entry)
	if entry.Enabled {
		if err := pub.Start(); err != nil {
			e.logFn("Valkey %s failed to start: %v", entry.Name, err)
		}
	}
}

// DeleteValkey removes a server from the config and stops its publisher.
func (e *Engine) DeleteValkey(name string) error {
	err := e.commit(func(c *config.Config) error {
		if !c.RemoveValkey(name) {
			return fmt.Errorf("%w: Valkey server '%s'", ErrNotFound, name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.valkeyMgr.Remove(name)
	e.emit(EventValkeyDeleted, ServiceEvent{Name: name})
	return nil
}

// StartValkey connects a server's publisher without changing the config.
func (e *Engine) StartValkey(name string) error {
	pub := e.valkeyMgr.Get(name)
	if pub == nil {
		return fmt.Errorf("%w: Valkey publisher '%s'", ErrNotFound, name)
	}
	if err := pub.Start(); err != nil {
		return err
	}
	e.emit(EventValkeyStarted, ServiceEvent{Name: name})
	return nil
}

// StopValkey disconnects a server's publisher. Unknown names are ignored.
func (e *Engine) StopValkey(name string) {
	if pub := e.valkeyMgr.Get(name); pub != nil {
		pub.Stop()
	}
	e.emit(EventValkeyStopped, ServiceEvent{Name: name})
}

// --- Kafka ---

// CreateKafka adds a cluster, saves the config and connects in the
// background when enabled.
func (e *Engine) CreateKafka(name string, s KafkaSettings) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	var entry config.KafkaConfig
	err := e.commit(func(c *config.Config) error {
		if c.FindKafka(name) != nil {
			return fmt.Errorf("%w: Kafka cluster '%s'", ErrAlreadyExists, name)
		}
		entry = s.toConfig(name, nil)
		c.AddKafka(entry)
		return nil
	})
	if err != nil {
		return err
	}
	e.replaceKafka(entry)
	e.emit(EventKafkaCreated, ServiceEvent{Name: name})
	return nil
}

// UpdateKafka replaces a cluster's settings and recreates its producer.
func (e *Engine) UpdateKafka(name string, s KafkaSettings) error {
	if err := s.validate(); err != nil {
		return err
	}
	var entry config.KafkaConfig
	err := e.commit(func(c *config.Config) error {
		prev := c.FindKafka(name)
		if prev == nil {
			return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
		}
		entry = s.toConfig(name, prev)
		c.UpdateKafka(name, entry)
		return nil
	})
	if err != nil {
		return err
	}
	e.replaceKafka(entry)
	e.emit(EventKafkaUpdated, ServiceEvent{Name: name})
	return nil
}

func (e *Engine) replaceKafka(entry config.KafkaConfig) {
	e.kafkaMgr.RemoveCluster(entry.Name)
	rc := kafka.FromConfig(entry)
	e.kafkaMgr.AddCluster(&rc)
	if !entry.Enabled {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), kafkaConnectTimeout)
		defer cancel()
		if err := e.kafkaMgr.Connect(ctx, entry.Name); err != nil {
			e.logFn("Kafka %s failed to connect: %v", entry.Name, err)
		}
	}()
}

// DeleteKafka removes a cluster from the config and closes its producer.
func (e *Engine) DeleteKafka(name string) error {
	err := e.commit(func(c *config.Config) error {
		if !c.RemoveKafka(name) {
			return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.kafkaMgr.RemoveCluster(name)
	e.emit(EventKafkaDeleted, ServiceEvent{Name: name})
	return nil
}

// ConnectKafka connects a cluster's producer and waits for the result.
func (e *Engine) ConnectKafka(ctx context.Context, name string) error {
	if e.kafkaMgr.GetProducer(name) == nil {
		return fmt.Errorf("%w: Kafka cluster '%s'", ErrNotFound, name)
	}
	if err := e.kafkaMgr.Connect(ctx, name); err != nil {
		return err
	}
	e.emit(EventKafkaConnected, ServiceEvent{Name: name})
	return nil
}

// DisconnectKafka closes a cluster's producer. Unknown names are ignored.
func (e *Engine) DisconnectKafka(name string) {
	if p := e.kafkaMgr.GetProducer(name); p != nil {
		p.Disconnect()
	}
	e.emit(EventKafkaDisconnected, ServiceEvent{Name: name})
}
