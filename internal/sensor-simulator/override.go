package sensor_simulator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
)

// FallbackDryRaw is returned for channels that do not exist: full scale reads as
// bone dry, which is the safe direction for a controller that cannot recover.
const FallbackDryRaw = config.MaxRaw

// HardwareReader is the raw channel access.
type HardwareReader interface {
	Read(id int) int
	Len() int
}

// OverrideReader wraps the hardware path with one-shot injected values.
type OverrideReader struct {
	mu      sync.Mutex
	hw      HardwareReader
	pending map[int]int
	log     zerolog.Logger
}

func NewOverrideReader(hw HardwareReader, log zerolog.Logger) *OverrideReader {
	return &OverrideReader{hw: hw, pending: map[int]int{}, log: log}
}

func (r *OverrideReader) Len() int { return r.hw.Len() }

// Inject stores value for the next Read(id) only.
func (r *OverrideReader) Inject(id, value int) error {
	if id < 0 || id >= r.hw.Len() {
		return fmt.Errorf("sensor %d out of range 0..%d", id, r.hw.Len()-1)
	}
	if value < 0 || value > config.MaxRaw {
		return fmt.Errorf("value %d out of range 0..%d", value, config.MaxRaw)
	}
	r.mu.Lock()
	r.pending[id] = value
	r.mu.Unlock()
	r.log.Info().Int("sensor", id).Int("raw", value).Msg("reader: injected value for next read")
	return nil
}

func (r *OverrideReader) Read(id int) int {
	if id < 0 || id >= r.hw.Len() {
		r.log.Warn().Int("sensor", id).Int("fallback", FallbackDryRaw).Msg("reader: invalid sensor index")
		return FallbackDryRaw
	}
	r.mu.Lock()
	v, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		return v
	}
	return r.hw.Read(id)
}

// queued reports how many injected values are waiting.
func (r *OverrideReader) queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
