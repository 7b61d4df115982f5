package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	ctl "github.com/LeonardoBeccarini/spatial_irrigation/internal/services/irrigation-controller"
)

const maxBody = 64 << 10

// Router registers the gateway routes. extra handlers (e.g. the Influx history
// query) are mounted as given.
func (g *Gateway) Router(extra map[string]http.Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", g.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", g.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/data", g.HandleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/command", g.HandleCommand).Methods(http.MethodPost)
	r.HandleFunc("/config", g.HandleConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/reload", g.HandleReload).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())
	for path, h := range extra {
		r.Handle(path, h)
	}
	return handlers.LoggingHandler(os.Stdout, handlers.RecoveryHandler()(r))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"state":          string(g.ctrl.Status().State),
		"events_breaker": g.events.State(),
	})
}

func (g *Gateway) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.ctrl.Status())
}

func (g *Gateway) HandleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.ctrl.Config())
}

// HandleCommand accepts one text command per request, e.g. "STATE:WAITING" or "S3:3100".
func (g *Gateway) HandleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, commandResponse{Error: err.Error()})
		return
	}
	text := strings.TrimSpace(string(body))
	if err := g.ctrl.SubmitText(r.Context(), text); err != nil {
		g.cfg.Logger.Warn().Err(err).Str("command", text).Msg("gateway: command refused")
		writeJSON(w, commandStatus(err), commandResponse{Command: text, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: text, OK: true})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, ctl.ErrUnknownCommand), errors.Is(err, ctl.ErrInvalidSensor):
		return http.StatusBadRequest
	case errors.Is(err, ctl.ErrCommandRejected), errors.Is(err, ctl.ErrFaultLatched):
		return http.StatusConflict
	case errors.Is(err, ctl.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// HandleReload validates a new configuration and queues it for the next tick
// boundary. The body, when present, is the JSON document; otherwise ConfigPath is re-read.
func (g *Gateway) HandleReload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reloadResponse{Error: err.Error()})
		return
	}

	var (
		cfg      config.Config
		warnings []string
	)
	if len(strings.TrimSpace(string(body))) > 0 {
		parsed, perr := config.Parse(body)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, reloadResponse{Error: perr.Error()})
			return
		}
		config.ApplyEnv(&parsed)
		cfg, warnings = config.Validate(parsed)
	} else {
		if g.cfg.ConfigPath == "" {
			writeJSON(w, http.StatusBadRequest, reloadResponse{Error: "no body and no config path"})
			return
		}
		cfg, warnings, err = config.Load(g.cfg.ConfigPath)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, reloadResponse{Error: err.Error()})
			return
		}
	}
	if warnings == nil {
		warnings = []string{}
	}
	g.ctrl.Reload(cfg)
	g.cfg.Logger.Info().Int("warnings", len(warnings)).Msg("gateway: config reload queued")
	writeJSON(w, http.StatusAccepted, reloadResponse{Applied: true, Warnings: warnings})
}

func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	// storico irrigazioni dall'event-service, best effort
	var irr []Irrigation
	if err := g.events.GetJSON(ctx, &irr); err != nil {
		g.cfg.Logger.Debug().Err(err).Msg("gateway: events upstream")
	}

	st := g.ctrl.Status()
	data := DashboardData{
		State:       st.State,
		PumpOn:      st.PumpOn,
		Sensors:     st.Sensors,
		Latches:     st.Latches,
		Irrigations: []Irrigation{},
	}
	if irr != nil {
		data.Irrigations = irr
	}

	if n := len(st.Sensors); n > 0 {
		sum := 0
		data.Stats.Min = math.MaxInt
		for _, s := range st.Sensors {
			sum += s.Percentage
			data.Stats.Min = min(data.Stats.Min, s.Percentage)
			data.Stats.Max = max(data.Stats.Max, s.Percentage)
			if s.IsDry {
				data.Stats.Dry++
			}
		}
		data.Stats.Mean = math.Round(float64(sum)/float64(n)*10) / 10
	}

	writeJSON(w, http.StatusOK, data)
}
