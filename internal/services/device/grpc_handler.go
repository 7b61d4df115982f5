package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

// GrpcHandler implementa RelayService: drives the relay pin and publishes a
// PumpStateEvent after every change.
type GrpcHandler struct {
	mu    sync.Mutex
	pin   Pin
	on    bool
	since time.Time

	publisher rabbitmq.IPublisher // may be nil
	maxOn     time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewGrpcHandler starts with the relay off. maxOn is the watchdog limit: a pump
// left on longer than that (controller crashed mid-cycle) is switched off.
func NewGrpcHandler(pin Pin, publisher rabbitmq.IPublisher, maxOn time.Duration, log zerolog.Logger) *GrpcHandler {
	h := &GrpcHandler{
		pin:       pin,
		publisher: publisher,
		maxOn:     maxOn,
		now:       time.Now,
		log:       log,
	}
	h.pin.Low()
	h.since = h.now()
	return h
}

// ============== RPC: SetPump ==============

func (h *GrpcHandler) SetPump(_ context.Context, req *SetPumpRequest) (*PumpReply, error) {
	return h.apply(req.On, firstNonEmpty(req.Source, "grpc")), nil
}

// ============== RPC: GetPump ==============

func (h *GrpcHandler) GetPump(_ context.Context, _ *GetPumpRequest) (*PumpReply, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &PumpReply{On: h.on, Since: h.since}, nil
}

func (h *GrpcHandler) apply(on bool, source string) *PumpReply {
	h.mu.Lock()
	changed := on != h.on
	if on {
		h.pin.High()
	} else {
		h.pin.Low()
	}
	if changed {
		h.on = on
		h.since = h.now()
	}
	reply := &PumpReply{On: h.on, Changed: changed, Since: h.since}
	h.mu.Unlock()

	if changed {
		h.log.Info().Bool("on", on).Str("source", source).Msg("relay: pump switched")
		h.publishState(on, source)
	}
	return reply
}

// RunWatchdog forces the relay off once it has been on longer than maxOn
// (never, when maxOn <= 0). On shutdown the relay is always released.
func (h *GrpcHandler) RunWatchdog(ctx context.Context, every time.Duration) error {
	var expire <-chan time.Time
	if h.maxOn > 0 {
		tick := time.NewTicker(every)
		defer tick.Stop()
		expire = tick.C
	}
	for {
		select {
		case <-ctx.Done():
			h.apply(false, "shutdown")
			return nil
		case <-expire:
			h.checkWatchdog()
		}
	}
}

func (h *GrpcHandler) checkWatchdog() bool {
	h.mu.Lock()
	expired := h.on && h.now().Sub(h.since) > h.maxOn
	h.mu.Unlock()
	if expired {
		h.log.Error().Dur("max_on", h.maxOn).Msg("relay: watchdog expired, forcing pump off")
		h.apply(false, "watchdog")
	}
	return expired
}

func (h *GrpcHandler) publishState(on bool, source string) {
	if h.publisher == nil {
		return
	}
	evt := messages.PumpStateEvent{On: on, Source: source, Timestamp: h.now().UTC()}
	if err := h.publisher.PublishMessage(evt); err != nil {
		h.log.Warn().Err(err).Msg("relay: publish pump state failed")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
