package www

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"floorview/config"
	"floorview/engine"
	"floorview/tui"
)

// writeEngineError answers with the status engine.HTTPStatus picks.
func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), engine.HTTPStatus(err))
}

func nameParam(r *http.Request) string {
	name, _ := url.PathUnescape(chi.URLParam(r, "name"))
	return name
}

// ack writes code, or the mapped engine error.
func (h *Handlers) ack(w http.ResponseWriter, code int, err error) {
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(code)
}

// decodeRequest reads a JSON body, answering 400 on failure.
func decodeRequest[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return v, false
	}
	return v, true
}

// settingsView is what the edit dialogs load. Passwords never leave the
// server; has_password tells the form whether one is stored.
type settingsView[S any] struct {
	Name        string `json:"name"`
	HasPassword bool   `json:"has_password"`
	Settings    S      `json:"settings"`
}

// publisherActions are the admin routes for one publisher kind.
type publisherActions struct {
	get            http.HandlerFunc
	create, update http.HandlerFunc
	remove         func(name string) error
	up             func(r *http.Request, name string) error
	down           func(name string)
	upVerb         string
	downVerb       string
}

func (h *Handlers) publisherActions() map[string]publisherActions {
	e := h.engine
	return map[string]publisherActions{
		"mqtt": {
			get: func(w http.ResponseWriter, r *http.Request) {
				m := e.GetConfig().FindMQTT(nameParam(r))
				if m == nil {
					http.Error(w, "MQTT broker not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, settingsView[engine.MQTTSettings]{m.Name, m.Password != "", engine.MQTTSettingsOf(*m)})
			},
			create: func(w http.ResponseWriter, r *http.Request) {
				if req, ok := decodeRequest[engine.MQTTRequest](w, r); ok {
					h.ack(w, http.StatusCreated, e.CreateMQTT(req.Name, req.MQTTSettings))
				}
			},
			update: func(w http.ResponseWriter, r *http.Request) {
				if req, ok := decodeRequest[engine.MQTTRequest](w, r); ok {
					h.ack(w, http.StatusOK, e.UpdateMQTT(nameParam(r), req.MQTTSettings))
				}
			},
			remove: e.DeleteMQTT,
			up:     func(_ *http.Request, name string) error { return e.StartMQTT(name) },
			down:   e.StopMQTT,
			upVerb: "start", downVerb: "stop",
		},
		"valkey": {
			get: func(w http.ResponseWriter, r *http.Request) {
				v := e.GetConfig().FindValkey(nameParam(r))
				if v == nil {
					http.Error(w, "Valkey server not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, settingsView[engine.ValkeySettings]{v.Name, v.Password != "", engine.ValkeySettingsOf(*v)})
			},
			create: func(w http.ResponseWriter, r *http.Request) {
				if req, ok := decodeRequest[engine.ValkeyRequest](w, r); ok {
					h.ack(w, http.StatusCreated, e.CreateValkey(req.Name, req.ValkeySettings))
				}
			},
			update: func(w http.ResponseWriter, r *http.Request) {
				if req, ok := decodeRequest[engine.ValkeyRequest](w, r); ok {
					h.ack(w, http.StatusOK, e.UpdateValkey(nameParam(r), req.ValkeySettings))
				}
			},
			remove: e.DeleteValkey,
			up:     func(_ *http.Request, name string) error { return e.StartValkey(name) },
			down:   e.StopValkey,
			upVerb: "start", downVerb: "stop",
		},
		"kafka": {
			get: func(w http.ResponseWriter, r *http.Request) {
				k := e.GetConfig().FindKafka(nameParam(r))
				if k == nil {
					http.Error(w, "Kafka cluster not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, kafkaView(k))
			},
			create: func(w http.ResponseWriter, r *http.Request) {
				if req, ok := decodeRequest[engine.KafkaRequest](w, r); ok {
					h.ack(w, http.StatusCreated, e.CreateKafka(req.Name, req.KafkaSettings))
				}
			},
			update: func(w http.ResponseWriter, r *http.Request) {
				if req, ok := decodeRequest[engine.KafkaRequest](w, r); ok {
					h.ack(w, http.StatusOK, e.UpdateKafka(nameParam(r), req.KafkaSettings))
				}
			},
			remove: e.DeleteKafka,
			up:     func(r *http.Request, name string) error { return e.ConnectKafka(r.Context(), name) },
			down:   e.DisconnectKafka,
			upVerb: "connect", downVerb: "disconnect",
		},
	}
}

func kafkaView(k *config.KafkaConfig) settingsView[engine.KafkaSettings] {
	return settingsView[engine.KafkaSettings]{Name: k.Name, HasPassword: k.Password != "", Settings: engine.KafkaSettingsOf(*k)}
}

// mountPublisherActions registers /htmx/{kind} CRUD and lifecycle routes.
func (h *Handlers) mountPublisherActions(r chi.Router) {
	for kind, a := range h.publisherActions() {
		a := a
		base := "/htmx/" + kind
		r.Post(base, a.create)
		r.Get(base+"/{name}", a.get)
		r.Put(base+"/{name}", a.update)
		r.Delete(base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
			h.ack(w, http.StatusOK, a.remove(nameParam(r)))
		})
		r.Post(base+"/{name}/"+a.upVerb, func(w http.ResponseWriter, r *http.Request) {
			h.ack(w, http.StatusOK, a.up(r, nameParam(r)))
		})
		r.Post(base+"/{name}/"+a.downVerb, func(w http.ResponseWriter, r *http.Request) {
			a.down(nameParam(r))
			w.WriteHeader(http.StatusOK)
		})
	}
}

// htmx partials

func (h *Handlers) handleServicesPartial(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Services"] = h.getServicesData()
	h.renderTemplate(w, "services_table.html", data)
}

func (h *Handlers) handleDebugPartial(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["LogEntries"] = h.getDebugLogEntries()
	h.renderTemplate(w, "debug_log.html", data)
}

func (h *Handlers) handleDebugClear(w http.ResponseWriter, r *http.Request) {
	store := tui.GetDebugStore()
	if store == nil {
		http.Error(w, "Debug store not available", http.StatusInternalServerError)
		return
	}
	store.Clear()
	w.WriteHeader(http.StatusOK)
}

// handleAPIToggle flips the REST API on or off and reports the new state.
func (h *Handlers) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.engine.ToggleAPI()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (h *Handlers) handleNamespaceUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[struct {
		Namespace string `json:"namespace"`
	}](w, r)
	if !ok {
		return
	}
	h.ack(w, http.StatusOK, h.engine.SetNamespace(req.Namespace))
}

func (h *Handlers) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Settings())
}

// handleSettingsUpdate applies the fields present in the body; absent
// fields keep their value.
func (h *Handlers) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[engine.SystemSettings](w, r)
	if !ok {
		return
	}
	if err := h.engine.ApplySettings(req); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Settings())
}
