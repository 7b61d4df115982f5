package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	ctl "github.com/LeonardoBeccarini/spatial_irrigation/internal/services/irrigation-controller"
)

// Controller is the part of the runner the gateway talks to.
type Controller interface {
	Status() ctl.Status
	Config() config.Config
	SubmitText(ctx context.Context, text string) error
	Reload(cfg config.Config)
}

type Config struct {
	EventsBaseURL string // event-service, opzionale
	EventsPath    string
	HTTPTimeout   time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration

	// ConfigPath is re-read by POST /config/reload when the body is empty.
	ConfigPath string

	Logger zerolog.Logger
}

type Gateway struct {
	cfg    Config
	ctrl   Controller
	events *Upstream
}

func NewGateway(cfg Config, ctrl Controller) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	if cfg.EventsPath == "" {
		cfg.EventsPath = "/events/irrigation/latest"
	}
	eb := NewCircuitBreaker("event-service", cfg.BreakerFailures, cfg.BreakerOpenFor)
	e := NewUpstream("events", cfg.EventsBaseURL, cfg.EventsPath, cfg.HTTPTimeout, eb)

	return &Gateway{cfg: cfg, ctrl: ctrl, events: e}
}
