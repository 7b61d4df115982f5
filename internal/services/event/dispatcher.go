package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	msg "github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

const (
	DefaultQueueSize    = 256
	defaultWriteTimeout = 3 * time.Second
	drainTimeout        = 2 * time.Second
)

// BreakerSettings mirror the gateway's circuit breaker knobs.
type BreakerSettings struct {
	Fails    int
	Open     time.Duration
	Interval time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Fails: 3, Open: 30 * time.Second, Interval: time.Minute}
}

func mkCB(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: s.Interval,
		Timeout:  s.Open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(s.Fails)
		},
	})
}

type guardedBackend struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker

	mu      sync.Mutex
	written uint64
	lastErr error
	errAt   time.Time
}

// BackendHealth is the /healthz view of one backend.
type BackendHealth struct {
	Name      string    `json:"name"`
	Breaker   string    `json:"breaker"`
	Written   uint64    `json:"written"`
	LastError string    `json:"last_error,omitempty"`
	ErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// Dispatcher is the controller's ReportSink: every call enqueues without blocking
// and a single goroutine fans records out to the backends. A full queue drops.
type Dispatcher struct {
	queue    chan Record
	backends []*guardedBackend
	timeout  time.Duration
	log      zerolog.Logger
}

func NewDispatcher(size int, breaker BreakerSettings, log zerolog.Logger, backends ...Backend) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		queue:   make(chan Record, size),
		timeout: defaultWriteTimeout,
		log:     log,
	}
	for _, b := range backends {
		d.backends = append(d.backends, &guardedBackend{backend: b, cb: mkCB(b.Name(), breaker)})
	}
	return d
}

func (d *Dispatcher) StateChanged(e msg.StateChangeEvent) {
	d.Publish(Record{Event: FromStateChange(e), Payload: e})
}

func (d *Dispatcher) Diagnostic(e msg.DiagnosticEvent) {
	d.Publish(Record{Event: FromDiagnostic(e), Payload: e})
}

func (d *Dispatcher) IrrigationCompleted(e msg.IrrigationCompletedEvent) {
	d.Publish(Record{Event: FromIrrigationCompleted(e), Payload: e})
}

func (d *Dispatcher) Readings(e msg.ReadingsSnapshot) {
	d.Publish(Record{Event: FromReadings(e), Payload: e})
}

// Publish never blocks.
func (d *Dispatcher) Publish(rec Record) {
	select {
	case d.queue <- rec:
		QueueLength.Set(float64(len(d.queue)))
	default:
		DroppedTotal.Inc()
		d.log.Warn().Str("type", rec.Event.EventType).Msg("events: queue full, dropping")
	}
}

// Run delivers until ctx is cancelled, then flushes what is still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case rec := <-d.queue:
			QueueLength.Set(float64(len(d.queue)))
			d.deliver(ctx, rec)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-d.queue:
			d.deliver(ctx, rec)
		default:
			QueueLength.Set(0)
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, rec Record) {
	for _, g := range d.backends {
		name := g.backend.Name()
		_, err := g.cb.Execute(func() (interface{}, error) {
			wctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			return nil, g.backend.Write(wctx, rec)
		})
		switch {
		case err == nil:
			DispatchedTotal.WithLabelValues(name, "ok").Inc()
			g.mu.Lock()
			g.written++
			g.mu.Unlock()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			DispatchedTotal.WithLabelValues(name, "skipped").Inc()
		default:
			DispatchedTotal.WithLabelValues(name, "error").Inc()
			g.mu.Lock()
			g.lastErr = err
			g.errAt = time.Now()
			g.mu.Unlock()
			d.log.Error().Err(err).Str("backend", name).Str("type", rec.Event.EventType).Msg("events: write failed")
		}
	}
}

func (d *Dispatcher) Health() []BackendHealth {
	out := make([]BackendHealth, 0, len(d.backends))
	for _, g := range d.backends {
		g.mu.Lock()
		h := BackendHealth{
			Name:    g.backend.Name(),
			Breaker: g.cb.State().String(),
			Written: g.written,
			ErrorAt: g.errAt,
		}
		if g.lastErr != nil {
			h.LastError = g.lastErr.Error()
		}
		g.mu.Unlock()
		out = append(out, h)
	}
	return out
}
