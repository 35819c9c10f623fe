package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"floorview/client"
	"floorview/config"
	"floorview/kafka"
	"floorview/logging"
	"floorview/mqtt"
	"floorview/notify"
	"floorview/valkey"
	"floorview/viewport"
)

// LogFunc is the logging callback signature. Engine never imports the tui package.
type LogFunc func(format string, args ...interface{})

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	LogFunc    LogFunc

	// Backend overrides the HTTP client built from AppConfig, mainly for tests.
	Backend Backend
}

// Engine centralizes all business logic: config mutations, publisher
// orchestration and the console instances. TUI, WebUI and REST API are
// thin consumers.
type Engine struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc

	backend   Backend
	mqttMgr   *mqtt.Manager
	valkeyMgr *valkey.Manager
	kafkaMgr  *kafka.Manager
	notifier  *notify.Server
	sinks     *Sinks

	consolesMu sync.RWMutex
	consoles   map[string]*Console

	Events *EventBus

	stopChan chan struct{}
}

// New creates an Engine with its publisher managers loaded from the config.
// Call Start() to connect enabled publishers.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	backend := c.Backend
	if backend == nil {
		b := c.AppConfig.Backend
		backend = client.New(client.Options{
			BaseURL:   b.BaseURL,
			CSRFToken: b.CSRFToken,
			Cookie:    b.Cookie,
			Timeout:   b.Timeout,
		})
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		backend:    backend,
		consoles:   make(map[string]*Console),
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}

	cfg := e.cfg
	e.mqttMgr = mqtt.NewManager()
	e.mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	e.valkeyMgr = valkey.NewManager(cfg.Namespace)
	e.valkeyMgr.LoadFromConfig(cfg.Valkey)
	e.valkeyMgr.SetCommandHandler(e.handleQueuedCommand)

	e.kafkaMgr = kafka.NewManager(cfg.Namespace)
	e.kafkaMgr.LoadFromConfig(cfg.Kafka)

	e.notifier = notify.NewServer(cfg.Namespace)
	e.notifier.SetLogFunc(logFn)

	e.sinks = &Sinks{MQTT: e.mqttMgr, Kafka: e.kafkaMgr, Valkey: e.valkeyMgr, Notify: e.notifier}
	return e
}

// Start auto-starts enabled publishers. Publishers can be managed before
// Start; they just are not connected.
func (e *Engine) Start() {
	go func() {
		if started := e.mqttMgr.StartAll(); started > 0 {
			e.logFn("Started %d MQTT publisher(s)", started)
		}
	}()

	go func() {
		if started := e.valkeyMgr.StartAll(); started > 0 {
			e.logFn("Started %d Valkey publisher(s)", started)
		}
	}()

	// Each connection attempt carries its own dial timeout.
	e.kafkaMgr.ConnectEnabled(context.Background())

	if n := e.cfg.Notify; n.Enabled {
		if n.Listen == "" {
			n.Listen = config.DefaultNotifyListen
		}
		if err := e.notifier.Start(n.Listen, n.BufferSize); err != nil {
			e.logFn("Notify stream: %v", err)
		}
	}
}

// Stop closes every console and shuts down all publishers.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	for _, c := range e.Consoles() {
		e.CloseConsole(c.ID())
	}
	e.mqttMgr.StopAll()
	e.valkeyMgr.StopAll()
	e.kafkaMgr.StopAll()
	e.notifier.Stop()
}

// handleQueuedCommand executes a manual command taken off the Valkey queue.
func (e *Engine) handleQueuedCommand(ctx context.Context, req valkey.CommandRequest) (string, error) {
	res, err := e.backend.SubmitCommand(ctx, string(req.Register), client.Command{
		Value: req.Value,
		Note:  req.Note,
		Type:  req.Type,
	})
	if err != nil {
		return "", err
	}
	e.logFn("Queued command for register %s: %v", req.Register, req.Value)
	return res.Message, nil
}

// consoleOptions builds the options of a new console from the config.
func (e *Engine) consoleOptions(role string) ConsoleOptions {
	e.cfg.Lock()
	defer e.cfg.Unlock()
	opts := ConsoleOptions{
		Role:         role,
		PollInterval: e.cfg.Poll.Interval,
		MaxPoints:    e.cfg.Poll.MaxPoints,
		LabelFormat:  e.cfg.Poll.LabelFormat,
		Limits: viewport.ZoomLimits{
			Min:  e.cfg.Viewport.MinZoom,
			Max:  e.cfg.Viewport.MaxZoom,
			Step: e.cfg.Viewport.ZoomStep,
		},
		Device: e.cfg.Backend.Device,
		VLAN:   e.cfg.Backend.VLAN,
	}
	opts.Sink = e.sinks
	opts.Cache = e.valkeyMgr
	return opts
}

// OpenConsole creates a console for an operator with the given role and
// loads it. The console is registered even when loading fails, so the
// front-end can show the error and retry.
func (e *Engine) OpenConsole(ctx context.Context, role string) (*Console, error) {
	opts := e.consoleOptions(role)
	opts.ID = uuid.New().String()
	c := NewConsole(e.backend, opts)

	e.consolesMu.Lock()
	e.consoles[opts.ID] = c
	e.consolesMu.Unlock()

	logging.DebugLog("engine", "console %s opened (role %s)", opts.ID, role)
	e.emit(EventConsoleOpened, SystemEvent{Detail: opts.ID})

	if err := c.Open(ctx); err != nil {
		return c, fmt.Errorf("open console: %w", err)
	}
	return c, nil
}

// Console returns a console by id.
func (e *Engine) Console(id string) (*Console, error) {
	e.consolesMu.RLock()
	defer e.consolesMu.RUnlock()
	c, ok := e.consoles[id]
	if !ok {
		return nil, fmt.Errorf("%w: console '%s'", ErrNotFound, id)
	}
	return c, nil
}

// Consoles returns all open consoles sorted by id.
func (e *Engine) Consoles() []*Console {
	e.consolesMu.RLock()
	out := make([]*Console, 0, len(e.consoles))
	for _, c := range e.consoles {
		out = append(out, c)
	}
	e.consolesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CloseConsole stops a console and forgets it.
func (e *Engine) CloseConsole(id string) error {
	e.consolesMu.Lock()
	c, ok := e.consoles[id]
	delete(e.consoles, id)
	e.consolesMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: console '%s'", ErrNotFound, id)
	}

	c.Close()
	logging.DebugLog("engine", "console %s closed", id)
	e.emit(EventConsoleClosed, SystemEvent{Detail: id})
	return nil
}

// Managers provides access to shared backend managers.
// *Engine satisfies this interface via its accessor methods.
type Managers interface {
	GetConfig() *config.Config
	GetConfigPath() string
	GetBackend() Backend
	GetMQTTMgr() *mqtt.Manager
	GetValkeyMgr() *valkey.Manager
	GetKafkaMgr() *kafka.Manager
}

// Verify *Engine implements Managers at compile time.
var _ Managers = (*Engine)(nil)

func (e *Engine) GetConfig() *config.Config { return e.cfg }
func (e *Engine) GetConfigPath() string { return e.configPath }
func (e *Engine) GetBackend() Backend { return e.backend }
func (e *Engine) GetMQTTMgr() *mqtt.Manager { return e.mqttMgr }
func (e *Engine) GetValkeyMgr() *valkey.Manager { return e.valkeyMgr }
func (e *Engine) GetKafkaMgr() *kafka.Manager { return e.kafkaMgr }

// saveConfig is a helper that saves and unlocks a config locked by the caller.
func (e *Engine) saveConfig() error {
	return e.cfg.UnlockAndSave(e.configPath)
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}
