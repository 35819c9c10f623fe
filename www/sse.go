package www

import (
	"net/http"
	"time"

	"floorview/engine"
	"floorview/sse"
	"floorview/tui"
)

// Browser stream event names.
const (
	sseServiceStatus = "service-status"
	sseEntityChange  = "entity-change"
	sseDebugLog      = "debug-log"
)

const serviceCheckEvery = time.Second

// ServiceStatusUpdate is sent when a publisher's state or error changes.
type ServiceStatusUpdate struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	StatusClass string `json:"statusClass"`
	Error       string `json:"error,omitempty"`
	Sent        int64  `json:"sent,omitempty"`
	Failed      int64  `json:"failed,omitempty"`
}

// DebugLogUpdate carries one debug log line.
type DebugLogUpdate struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// EntityChangeUpdate tells pages to refresh after a configuration change.
// EntityType is mqtt, valkey, kafka, console or settings.
type EntityChangeUpdate struct {
	EntityType string `json:"entityType"`
	Action     string `json:"action"`
	Name       string `json:"name"`
}

func (h *Handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	h.eventHub.Serve(w, r, nil)
}

var entityActions = map[engine.EventType]EntityChangeUpdate{
	engine.EventMQTTCreated:      {EntityType: "mqtt", Action: "add"},
	engine.EventMQTTUpdated:      {EntityType: "mqtt", Action: "update"},
	engine.EventMQTTDeleted:      {EntityType: "mqtt", Action: "remove"},
	engine.EventValkeyCreated:    {EntityType: "valkey", Action: "add"},
	engine.EventValkeyUpdated:    {EntityType: "valkey", Action: "update"},
	engine.EventValkeyDeleted:    {EntityType: "valkey", Action: "remove"},
	engine.EventKafkaCreated:     {EntityType: "kafka", Action: "add"},
	engine.EventKafkaUpdated:     {EntityType: "kafka", Action: "update"},
	engine.EventKafkaDeleted:     {EntityType: "kafka", Action: "remove"},
	engine.EventConsoleOpened:    {EntityType: "console", Action: "add"},
	engine.EventConsoleClosed:    {EntityType: "console", Action: "remove"},
	engine.EventNamespaceChanged: {EntityType: "settings", Action: "update"},
	engine.EventSettingsChanged:  {EntityType: "settings", Action: "update"},
}

// setupEventListeners feeds the browser hub from the engine bus and the
// debug log, and starts the publisher status watcher. Everything detaches
// when the hub stops.
func (h *Handlers) setupEventListeners() {
	sub := h.engine.Events.Subscribe(func(ev engine.Event) {
		change, ok := entityActions[ev.Type]
		if !ok {
			return
		}
		switch p := ev.Payload.(type) {
		case engine.ServiceEvent:
			change.Name = p.Name
		case engine.SystemEvent:
			change.Name = p.Detail
		}
		h.eventHub.Publish(sse.Event{Type: sseEntityChange, Data: change})
	})

	store := tui.GetDebugStore()
	var logSub tui.DebugStoreListenerID
	if store != nil {
		logSub = store.Subscribe(func(m tui.LogMessage) {
			h.eventHub.Publish(sse.Event{Type: sseDebugLog, Data: DebugLogUpdate{
				Timestamp: m.Timestamp.Format("2006-01-02 15:04:05"),
				Level:     m.Level,
				Message:   m.Message,
			}})
		})
	}

	go func() {
		<-h.eventHub.Done()
		h.engine.Events.Unsubscribe(sub)
		if store != nil {
			store.Unsubscribe(logSub)
		}
	}()
	go h.watchServices()
}

// watchServices publishes a status update whenever a publisher's state or
// error text changes, checking only while a page is listening.
func (h *Handlers) watchServices() {
	ticker := time.NewTicker(serviceCheckEvery)
	defer ticker.Stop()
	seen := make(map[string]string)
	for {
		select {
		case <-h.eventHub.Done():
			return
		case <-ticker.C:
		}
		if h.eventHub.Clients() == 0 {
			continue
		}
		for _, s := range h.engine.Services() {
			key, state := s.Kind+"/"+s.Name, s.Status+"|"+s.Error
			if seen[key] == state {
				continue
			}
			seen[key] = state
			h.eventHub.Publish(sse.Event{Type: sseServiceStatus, Data: ServiceStatusUpdate{
				Kind:        s.Kind,
				Name:        s.Name,
				Status:      s.Status,
				StatusClass: statusClass(s),
				Error:       s.Error,
				Sent:        s.Sent,
				Failed:      s.Failed,
			}})
		}
	}
}
