package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"floorview/engine"
)

// publisher describes the management routes of one publisher kind. The
// lifecycle verbs differ per kind: MQTT and Valkey start and stop, Kafka
// connects and disconnects.
type publisher struct {
	create func(r *http.Request) error
	update func(name string, r *http.Request) error
	remove func(name string) error
	up     func(ctx context.Context, name string) error
	down   func(name string)

	upVerb, downVerb string
}

func (h *handlers) publishers() map[string]publisher {
	e := h.engine
	return map[string]publisher{
		"/mqtt": {
			create: func(r *http.Request) error {
				req, err := decodeBody[engine.MQTTRequest](r)
				if err != nil {
					return err
				}
				return e.CreateMQTT(req.Name, req.MQTTSettings)
			},
			update: func(name string, r *http.Request) error {
				req, err := decodeBody[engine.MQTTRequest](r)
				if err != nil {
					return err
				}
				return e.UpdateMQTT(name, req.MQTTSettings)
			},
			remove: e.DeleteMQTT,
			up:     func(_ context.Context, name string) error { return e.StartMQTT(name) },
			down:   e.StopMQTT,
			upVerb: "start", downVerb: "stop",
		},
		"/valkey": {
			create: func(r *http.Request) error {
				req, err := decodeBody[engine.ValkeyRequest](r)
				if err != nil {
					return err
				}
				return e.CreateValkey(req.Name, req.ValkeySettings)
			},
			update: func(name string, r *http.Request) error {
				req, err := decodeBody[engine.ValkeyRequest](r)
				if err != nil {
					return err
				}
				return e.UpdateValkey(name, req.ValkeySettings)
			},
			remove: e.DeleteValkey,
			up:     func(_ context.Context, name string) error { return e.StartValkey(name) },
			down:   e.StopValkey,
			upVerb: "start", downVerb: "stop",
		},
		"/kafka": {
			create: func(r *http.Request) error {
				req, err := decodeBody[engine.KafkaRequest](r)
				if err != nil {
					return err
				}
				return e.CreateKafka(req.Name, req.KafkaSettings)
			},
			update: func(name string, r *http.Request) error {
				req, err := decodeBody[engine.KafkaRequest](r)
				if err != nil {
					return err
				}
				return e.UpdateKafka(name, req.KafkaSettings)
			},
			remove: e.DeleteKafka,
			up:     e.ConnectKafka,
			down:   e.DisconnectKafka,
			upVerb: "connect", downVerb: "disconnect",
		},
	}
}

// mountPublishers registers create, update, delete and the two lifecycle
// routes for every publisher kind.
func (h *handlers) mountPublishers(r chi.Router) {
	for prefix, p := range h.publishers() {
		p := p
		r.Post(prefix, func(w http.ResponseWriter, r *http.Request) {
			h.reply(w, http.StatusCreated, "created", p.create(r))
		})
		r.Put(prefix+"/{name}", func(w http.ResponseWriter, r *http.Request) {
			h.reply(w, http.StatusOK, "updated", p.update(param(r, "name"), r))
		})
		r.Delete(prefix+"/{name}", func(w http.ResponseWriter, r *http.Request) {
			h.reply(w, http.StatusOK, "deleted", p.remove(param(r, "name")))
		})
		r.Post(prefix+"/{name}/"+p.upVerb, func(w http.ResponseWriter, r *http.Request) {
			h.reply(w, http.StatusOK, pastTense(p.upVerb), p.up(r.Context(), param(r, "name")))
		})
		r.Post(prefix+"/{name}/"+p.downVerb, func(w http.ResponseWriter, r *http.Request) {
			p.down(param(r, "name"))
			h.reply(w, http.StatusOK, pastTense(p.downVerb), nil)
		})
	}
}

// reply writes {"status": done} with the given code, or the error mapped
// through engine.HTTPStatus.
func (h *handlers) reply(w http.ResponseWriter, code int, done string, err error) {
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": done})
}

func (h *handlers) writeEngineError(w http.ResponseWriter, err error) {
	h.writeError(w, engine.HTTPStatus(err), err.Error())
}

func pastTense(verb string) string {
	switch verb {
	case "stop":
		return "stopped"
	case "":
		return ""
	}
	return verb + "ed"
}

// decodeBody reads a JSON request body. Malformed input is reported as
// engine.ErrInvalidInput so it maps to 400.
func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err)
	}
	return v, nil
}
