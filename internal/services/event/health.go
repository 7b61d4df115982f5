package event

import (
	"encoding/json"
	"net/http"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
)

type healthHandler struct {
	mqtt mqtt.Client // may be nil
	d    *Dispatcher
}

func NewHealthHandler(m mqtt.Client, d *Dispatcher) http.Handler {
	return &healthHandler{mqtt: m, d: d}
}

type healthStatus struct {
	Status        string          `json:"status"`
	MQTTConnected *bool           `json:"mqtt_connected,omitempty"`
	Backends      []BackendHealth `json:"backends"`
}

func (h *healthHandler) status() healthStatus {
	st := healthStatus{Backends: h.d.Health()}
	open := 0
	for _, b := range st.Backends {
		if b.Breaker == gobreaker.StateOpen.String() {
			open++
		}
	}
	mqttOK := true
	if h.mqtt != nil {
		mqttOK = h.mqtt.IsConnectionOpen()
		st.MQTTConnected = &mqttOK
	}

	// ok se nessun breaker aperto e broker raggiungibile
	switch {
	case open == 0 && mqttOK:
		st.Status = "ok"
	case len(st.Backends) > 0 && open == len(st.Backends):
		st.Status = "down"
	default:
		st.Status = "degraded"
	}
	return st
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.status())
}

// Handler /readyz: 503 when every backend is short-circuited.
type readyHandler struct{ h *healthHandler }

func NewReadyHandler(m mqtt.Client, d *Dispatcher) http.Handler {
	return &readyHandler{h: &healthHandler{mqtt: m, d: d}}
}

func (r *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := r.h.status().Status != "down"
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
