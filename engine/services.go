package engine

import (
	"sort"
	"strings"
)

// Service kinds.
const (
	ServiceMQTT   = "mqtt"
	ServiceValkey = "valkey"
	ServiceKafka  = "kafka"
)

// ServiceStatus is a front-end view of one configured publisher.
type ServiceStatus struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Sent    int64  `json:"sent,omitempty"`
	Failed  int64  `json:"failed,omitempty"`
}

func runningLabel(running bool) string {
	if running {
		return "Connected"
	}
	return "Stopped"
}

// Services lists every configured publisher with its state, grouped by kind
// and sorted by name.
func (e *Engine) Services() []ServiceStatus {
	var out []ServiceStatus

	for _, p := range e.mqttMgr.List() {
		cfg := p.Config()
		out = append(out, ServiceStatus{
			Kind:    ServiceMQTT,
			Name:    p.Name(),
			Address: p.Address(),
			Enabled: cfg.Enabled,
			Running: p.IsRunning(),
			Status:  runningLabel(p.IsRunning()),
		})
	}

	for _, p := range e.valkeyMgr.List() {
		cfg := p.Config()
		out = append(out, ServiceStatus{
			Kind:    ServiceValkey,
			Name:    p.Name(),
			Address: p.Address(),
			Enabled: cfg.Enabled,
			Running: p.IsRunning(),
			Status:  runningLabel(p.IsRunning()),
		})
	}

	for _, name := range e.kafkaMgr.ListClusters() {
		prod := e.kafkaMgr.GetProducer(name)
		if prod == nil {
			continue
		}
		st := ServiceStatus{Kind: ServiceKafka, Name: name, Status: prod.GetStatus().String()}
		if kc := e.cfg.FindKafka(name); kc != nil {
			st.Address = strings.Join(kc.Brokers, ",")
			st.Enabled = kc.Enabled
		}
		st.Running = st.Status == "Connected"
		if err := prod.GetError(); err != nil {
			st.Error = err.Error()
		}
		st.Sent, st.Failed, _ = prod.GetStats()
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}
