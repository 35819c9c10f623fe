package engine

import (
	"context"
	"time"

	"floorview/kafka"
	"floorview/layout"
	"floorview/mqtt"
	"floorview/notify"
	"floorview/telemetry"
	"floorview/valkey"
)

// Sink receives what a console learns from the backend. Calls are made
// outside the console lock and may block on the network.
type Sink interface {
	Violation(device string, v telemetry.Violation)
	Alarms(device string, alarms []telemetry.ActiveAlarm)
	Status(device string, pollErr error, added int)
	Snapshot(snap valkey.Snapshot)
	LayoutSaved(g layout.Graph)
}

// Sinks fans console output out to the configured publishers. Nil managers
// are skipped.
type Sinks struct {
	MQTT   *mqtt.Manager
	Kafka  *kafka.Manager
	Valkey *valkey.Manager
	Notify *notify.Server
}

var _ Sink = (*Sinks)(nil)

const sinkTimeout = 5 * time.Second

func (s *Sinks) Violation(device string, v telemetry.Violation) {
	if s.MQTT != nil {
		s.MQTT.PublishViolation(device, v)
	}
	if s.Kafka != nil {
		s.Kafka.PublishViolation(device, v)
	}
	if s.Valkey != nil {
		s.Valkey.PublishViolation(device, v)
	}
	if s.Notify != nil {
		s.Notify.BroadcastViolation(device, v)
	}
}

func (s *Sinks) Alarms(device string, alarms []telemetry.ActiveAlarm) {
	if s.MQTT != nil {
		s.MQTT.PublishAlarms(device, alarms)
	}
	if s.Notify != nil {
		s.Notify.BroadcastAlarms(device, alarms)
	}
}

func (s *Sinks) Status(device string, pollErr error, added int) {
	if s.Kafka != nil {
		s.Kafka.PublishStatus(device, pollErr, added)
	}
	if s.Notify != nil {
		s.Notify.BroadcastStatus(device, pollErr, added)
	}
}

func (s *Sinks) Snapshot(snap valkey.Snapshot) {
	if s.Valkey == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	s.Valkey.StoreSnapshot(ctx, snap)
}

func (s *Sinks) LayoutSaved(g layout.Graph) {
	if s.Notify != nil {
		s.Notify.BroadcastLayout(len(g.Nodes), len(g.Connections))
	}
	if s.Valkey == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	s.Valkey.StoreLayout(ctx, g)
}

// discardSink is used when a console has no publishers.
type discardSink struct{}

func (discardSink) Violation(string, telemetry.Violation) {}
func (discardSink) Alarms(string, []telemetry.ActiveAlarm) {}
func (discardSink) Status(string, error, int) {}
func (discardSink) Snapshot(valkey.Snapshot) {}
func (discardSink) LayoutSaved(layout.Graph) {}
