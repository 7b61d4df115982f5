package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

// MQTTReader is a HardwareReader fed by RawReadingsEvent messages from a remote
// sensor board. Reads return the latest sample; a stale sample is still returned
// but logged once per staleness episode.
type MQTTReader struct {
	mu      sync.Mutex
	values  []int
	updated time.Time
	maxAge  time.Duration
	warned  bool
	ready   chan struct{}
	now     func() time.Time
	log     zerolog.Logger
}

func NewMQTTReader(n int, maxAge time.Duration, log zerolog.Logger) *MQTTReader {
	return &MQTTReader{
		values: make([]int, n),
		maxAge: maxAge,
		ready:  make(chan struct{}),
		now:    time.Now,
		log:    log,
	}
}

func (r *MQTTReader) Len() int { return len(r.values) }

// Handle is a rabbitmq.Handler.
func (r *MQTTReader) Handle(_ string, msg mqtt.Message) error {
	var ev messages.RawReadingsEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		return fmt.Errorf("invalid RawReadingsEvent: %w", err)
	}
	return r.Update(ev)
}

func (r *MQTTReader) Update(ev messages.RawReadingsEvent) error {
	if len(ev.Values) != len(r.values) {
		return fmt.Errorf("readings carry %d channels, want %d", len(ev.Values), len(r.values))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.values, ev.Values)
	first := r.updated.IsZero()
	r.updated = r.now()
	r.warned = false
	if first {
		close(r.ready)
	}
	return nil
}

// WaitReady blocks until the first sample arrived.
func (r *MQTTReader) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for first sensor readings: %w", ctx.Err())
	}
}

func (r *MQTTReader) Read(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.values) {
		return FallbackDryRaw
	}
	if age := r.now().Sub(r.updated); r.maxAge > 0 && age > r.maxAge && !r.warned {
		r.warned = true
		r.log.Warn().Dur("age", age).Msg("reader: sensor readings are stale")
	}
	return r.values[id]
}
