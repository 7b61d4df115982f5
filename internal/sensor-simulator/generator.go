package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
)

// ====== Tunables ======
const (
	// defaultDryPerMin: raw ADC units gained per minute with the pump off.
	defaultDryPerMin = 2.0

	// gainPerMin: raw ADC units lost per minute while the pump runs.
	gainPerMin = 120.0

	// wetFloor: saturated soil never reads below this.
	wetFloor = 1000.0

	// saturationVWC: volumetric water content read as fully wet when seeding.
	saturationVWC = 0.45

	// soilGridsURL: fetch singola all'avvio; NON chiamare ad ogni tick.
	soilGridsURL = "https://rest.isric.org/soilgrids/v2.0/properties/query?lat=%f&lon=%f&property=wv0010"
)

// SimulatedField stands in for the multiplexer/ADC: one raw value per channel that
// drifts drier while the pump is off and wetter while it runs. It is also the pump
// of the simulation, so it can be handed to the controller as both.
type SimulatedField struct {
	mu      sync.Mutex
	raw     []float64
	dryRate []float64 // per channel, raw units per minute
	stuck   []bool
	pumpOn  bool
	last    time.Time
	now     func() time.Time

	httpClient *http.Client
}

// NewSimulatedField creates n channels all reading initial.
func NewSimulatedField(n, initial int, now func() time.Time) *SimulatedField {
	if now == nil {
		now = time.Now
	}
	f := &SimulatedField{
		raw:        make([]float64, n),
		dryRate:    make([]float64, n),
		stuck:      make([]bool, n),
		now:        now,
		last:       now(),
		httpClient: &http.Client{Timeout: 8 * time.Second},
	}
	for i := range f.raw {
		f.raw[i] = float64(initial)
		f.dryRate[i] = defaultDryPerMin
	}
	return f
}

func (f *SimulatedField) Len() int { return len(f.raw) }

// Read advances the physics to now and returns the channel value. Unknown
// channels read as full scale.
func (f *SimulatedField) Read(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()
	if id < 0 || id >= len(f.raw) {
		return config.MaxRaw
	}
	return int(math.Round(f.raw[id]))
}

// Snapshot returns every channel after advancing.
func (f *SimulatedField) Snapshot() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()
	out := make([]int, len(f.raw))
	for i, v := range f.raw {
		out[i] = int(math.Round(v))
	}
	return out
}

// SetPump implements the controller's pump output for simulation runs.
func (f *SimulatedField) SetPump(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()
	f.pumpOn = on
	return nil
}

func (f *SimulatedField) PumpOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pumpOn
}

// Set forces a channel value.
func (f *SimulatedField) Set(id, raw int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 0 || id >= len(f.raw) {
		return fmt.Errorf("sensor %d out of range 0..%d", id, len(f.raw)-1)
	}
	f.advance()
	f.raw[id] = clampRaw(float64(raw))
	return nil
}

// SetDryRate makes one channel dry faster or slower than the rest, which is how
// dry patches appear in the simulation.
func (f *SimulatedField) SetDryRate(id int, perMin float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 0 || id >= len(f.raw) {
		return
	}
	f.advance()
	f.dryRate[id] = math.Max(0, perMin)
}

// Stuck freezes a channel (broken probe, clogged emitter).
func (f *SimulatedField) Stuck(id int, stuck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 0 || id >= len(f.raw) {
		return
	}
	f.advance()
	f.stuck[id] = stuck
}

// advance must be called with mu held.
func (f *SimulatedField) advance() {
	now := f.now()
	dtMin := now.Sub(f.last).Minutes()
	f.last = now
	if dtMin <= 0 {
		return
	}
	for i := range f.raw {
		if f.stuck[i] {
			continue
		}
		if f.pumpOn {
			f.raw[i] = math.Max(wetFloor, f.raw[i]-gainPerMin*dtMin)
		} else {
			f.raw[i] = clampRaw(f.raw[i] + f.dryRate[i]*dtMin)
		}
	}
}

func clampRaw(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > config.MaxRaw {
		return config.MaxRaw
	}
	return x
}

// ===== SoilGrids seed =====

// SeedFromSoilGrids --> singola fetch a SoilGrids all'avvio. The volumetric water
// content is mapped onto the calibration span and written to every channel.
func (f *SimulatedField) SeedFromSoilGrids(ctx context.Context, lat, lon float64, cfg config.Config) error {
	vwc, err := f.fetchSoilMoisture(ctx, lat, lon)
	if err != nil {
		return err
	}
	frac := math.Min(1, vwc/saturationVWC)
	raw := float64(cfg.CalibrationDry) - frac*float64(cfg.CalibrationDry-cfg.CalibrationWet)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance()
	for i := range f.raw {
		f.raw[i] = clampRaw(raw)
	}
	return nil
}

func (f *SimulatedField) fetchSoilMoisture(ctx context.Context, lat, lon float64) (float64, error) {
	url := fmt.Sprintf(soilGridsURL, lat, lon)

	var val float64
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "spatial-irrigation-simulator/1.0")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("soilgrids HTTP %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("soilgrids HTTP %d: %s", resp.StatusCode, string(body)))
		}

		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(err)
		}
		m, ok := extractMoisture(parsed)
		if !ok {
			return backoff.Permanent(errors.New("soilgrids: moisture field not found"))
		}
		val = normalizeWV(m)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 600 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx)); err != nil {
		return 0, err
	}
	return val, nil
}

// extractMoisture walks properties.layers[0].depths[0].values, optionally under
// features[0].
func extractMoisture(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	if feats, ok := m["features"].([]any); ok && len(feats) > 0 {
		if f0, ok := feats[0].(map[string]any); ok {
			m = f0
		}
	}
	props, _ := m["properties"].(map[string]any)
	layer := firstObject(props, "layers")
	depth := firstObject(layer, "depths")
	vals, _ := depth["values"].(map[string]any)
	for _, k := range []string{"Q0.5", "mean", "Q0.95", "Q0.05", "value"} {
		if x, ok := vals[k].(float64); ok {
			return x, true
		}
	}
	return 0, false
}

func firstObject(m map[string]any, key string) map[string]any {
	list, _ := m[key].([]any)
	if len(list) == 0 {
		return nil
	}
	out, _ := list[0].(map[string]any)
	return out
}

// SoilGrids "wv****" layers are often integers in thousandths of m3/m3 (420 => 0.420).
func normalizeWV(x float64) float64 {
	if x > 1.5 {
		x = x / 1000.0
	}
	return math.Max(0, math.Min(1, x))
}
