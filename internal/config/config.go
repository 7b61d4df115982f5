package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

// ===================== Defaults =====================

const (
	MaxRaw = 4095 // 12-bit ADC full scale

	defaultDryThreshold     = 2800
	defaultWetThreshold     = 2000
	defaultCalibrationWet   = 1200
	defaultCalibrationDry   = 3500
	defaultMinClusterSize   = 3
	defaultNeighborDistance = 15
	defaultLeakPercent      = 90
	defaultClogPercent      = 50
	defaultGradientPct      = 20
	defaultStagnationChecks = 3

	defaultCheckInterval           = 60 * time.Second
	defaultIrrigatingCheckInterval = 30 * time.Second
	defaultMinPumpRunTime          = 2 * time.Minute
	defaultMaxPumpRunTime          = 30 * time.Minute
	defaultCooldown                = 30 * time.Minute
	defaultMaxTimeSinceWatering    = 24 * time.Hour
	defaultMaxWetDuration          = 72 * time.Hour

	minInterval = time.Second

	// AutoRow selects the lowest (top) or highest (bottom) Y of the layout.
	AutoRow = -1
)

// Config is everything the decision engine reads on a tick. It is treated as an
// immutable value: reloads build a new Config and swap it between ticks.
type Config struct {
	DryThreshold   int `json:"dry_threshold"`
	WetThreshold   int `json:"wet_threshold"`
	CalibrationWet int `json:"calibration_wet"` // raw reading meaning 100%
	CalibrationDry int `json:"calibration_dry"` // raw reading meaning 0%

	MinClusterSize   int `json:"min_cluster_size"`
	NeighborDistance int `json:"neighbor_distance"`

	CheckInterval           time.Duration `json:"check_interval"`
	IrrigatingCheckInterval time.Duration `json:"irrigating_check_interval"`
	MinPumpRunTime          time.Duration `json:"min_pump_run_time"`
	MaxPumpRunTime          time.Duration `json:"max_pump_run_time"`
	Cooldown                time.Duration `json:"cooldown"`

	LeakPercent          int           `json:"leak_percent"`
	ClogPercent          int           `json:"clog_percent"`
	StagnationChecks     int           `json:"stagnation_checks"`
	MaxTimeSinceWatering time.Duration `json:"max_time_since_watering"`
	MaxWetDuration       time.Duration `json:"max_wet_duration"`

	GradientThreshold int `json:"gradient_threshold"`
	TopRowY           int `json:"top_row_y"`
	BottomRowY        int `json:"bottom_row_y"`

	Layout []entities.SensorPosition `json:"sensors"`
}

// Default returns the built-in safe configuration with a 3x3 grid.
func Default() Config {
	return Config{
		DryThreshold:            defaultDryThreshold,
		WetThreshold:            defaultWetThreshold,
		CalibrationWet:          defaultCalibrationWet,
		CalibrationDry:          defaultCalibrationDry,
		MinClusterSize:          defaultMinClusterSize,
		NeighborDistance:        defaultNeighborDistance,
		CheckInterval:           defaultCheckInterval,
		IrrigatingCheckInterval: defaultIrrigatingCheckInterval,
		MinPumpRunTime:          defaultMinPumpRunTime,
		MaxPumpRunTime:          defaultMaxPumpRunTime,
		Cooldown:                defaultCooldown,
		LeakPercent:             defaultLeakPercent,
		ClogPercent:             defaultClogPercent,
		StagnationChecks:        defaultStagnationChecks,
		MaxTimeSinceWatering:    defaultMaxTimeSinceWatering,
		MaxWetDuration:          defaultMaxWetDuration,
		GradientThreshold:       defaultGradientPct,
		TopRowY:                 AutoRow,
		BottomRowY:              AutoRow,
		Layout:                  entities.GridLayout(3, 3, 10, 10),
	}
}

// NeighborDistanceSquared is the adjacency bound used by the cluster detector.
func (c Config) NeighborDistanceSquared() int {
	return c.NeighborDistance * c.NeighborDistance
}

// Clone copies the layout slice so the returned value shares nothing with c.
func (c Config) Clone() Config {
	out := c
	out.Layout = append([]entities.SensorPosition(nil), c.Layout...)
	return out
}

// ===================== Loading =====================

// Load reads the JSON document at path, applies env overrides and validates the
// result. Read and parse failures are returned; semantic violations never are:
// they come back as warnings with the offending group replaced by defaults.
func Load(path string) (Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, nil, err
	}
	ApplyEnv(&cfg)
	out, warnings := Validate(cfg)
	return out, warnings, nil
}

// Parse decodes a config document on top of the defaults. Numbers may be given as
// JSON numbers or numeric strings; durations as Go duration strings or seconds.
func Parse(raw []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg := Default()

	ints := map[string]*int{
		"dry_threshold":      &cfg.DryThreshold,
		"wet_threshold":      &cfg.WetThreshold,
		"calibration_wet":    &cfg.CalibrationWet,
		"calibration_dry":    &cfg.CalibrationDry,
		"min_cluster_size":   &cfg.MinClusterSize,
		"neighbor_distance":  &cfg.NeighborDistance,
		"leak_percent":       &cfg.LeakPercent,
		"clog_percent":       &cfg.ClogPercent,
		"stagnation_checks":  &cfg.StagnationChecks,
		"gradient_threshold": &cfg.GradientThreshold,
		"top_row_y":          &cfg.TopRowY,
		"bottom_row_y":       &cfg.BottomRowY,
	}
	for k, dst := range ints {
		if v, ok := m[k]; ok {
			f, ok := toF64(v)
			if !ok {
				return Config{}, fmt.Errorf("parse config: %s is not a number: %v", k, v)
			}
			*dst = int(f)
		}
	}

	durations := map[string]*time.Duration{
		"check_interval":            &cfg.CheckInterval,
		"irrigating_check_interval": &cfg.IrrigatingCheckInterval,
		"min_pump_run_time":         &cfg.MinPumpRunTime,
		"max_pump_run_time":         &cfg.MaxPumpRunTime,
		"cooldown":                  &cfg.Cooldown,
		"max_time_since_watering":   &cfg.MaxTimeSinceWatering,
		"max_wet_duration":          &cfg.MaxWetDuration,
	}
	for k, dst := range durations {
		if v, ok := m[k]; ok {
			d, ok := toDuration(v)
			if !ok {
				return Config{}, fmt.Errorf("parse config: %s is not a duration: %v", k, v)
			}
			*dst = d
		}
	}

	if list, ok := m["sensors"].([]any); ok {
		layout := make([]entities.SensorPosition, 0, len(list))
		for i, item := range list {
			rec, ok := item.(map[string]any)
			if !ok {
				return Config{}, fmt.Errorf("parse config: sensors[%d] is not an object", i)
			}
			var p entities.SensorPosition
			id, okID := toF64(rec["id"])
			x, okX := toF64(rec["x"])
			y, okY := toF64(rec["y"])
			if !okID || !okX || !okY {
				return Config{}, fmt.Errorf("parse config: sensors[%d] needs numeric id, x and y", i)
			}
			p.ID, p.X, p.Y = int(id), int(x), int(y)
			layout = append(layout, p)
		}
		cfg.Layout = layout
	}
	return cfg, nil
}

// ApplyEnv overrides single values from the environment.
func ApplyEnv(cfg *Config) {
	cfg.DryThreshold = envInt("DRY_THRESHOLD", cfg.DryThreshold)
	cfg.WetThreshold = envInt("WET_THRESHOLD", cfg.WetThreshold)
	cfg.CalibrationWet = envInt("CALIBRATION_WET", cfg.CalibrationWet)
	cfg.CalibrationDry = envInt("CALIBRATION_DRY", cfg.CalibrationDry)
	cfg.MinClusterSize = envInt("MIN_CLUSTER_SIZE", cfg.MinClusterSize)
	cfg.NeighborDistance = envInt("NEIGHBOR_DISTANCE", cfg.NeighborDistance)
	cfg.LeakPercent = envInt("LEAK_PERCENT", cfg.LeakPercent)
	cfg.ClogPercent = envInt("CLOG_PERCENT", cfg.ClogPercent)
	cfg.CheckInterval = envDuration("CHECK_INTERVAL", cfg.CheckInterval)
	cfg.IrrigatingCheckInterval = envDuration("IRRIGATING_CHECK_INTERVAL", cfg.IrrigatingCheckInterval)
	cfg.MinPumpRunTime = envDuration("MIN_PUMP_RUN_TIME", cfg.MinPumpRunTime)
	cfg.MaxPumpRunTime = envDuration("MAX_PUMP_RUN_TIME", cfg.MaxPumpRunTime)
	cfg.Cooldown = envDuration("COOLDOWN", cfg.Cooldown)
}

// ===================== Validation =====================

// Validate returns a copy of cfg in which every violated group has been replaced
// by its defaults, plus one warning per replacement.
func Validate(cfg Config) (Config, []string) {
	out := cfg.Clone()
	def := Default()
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if !inRaw(out.WetThreshold) || !inRaw(out.DryThreshold) || out.WetThreshold >= out.DryThreshold {
		warn("thresholds invalid (wet=%d dry=%d, need 0<=wet<dry<=%d); using wet=%d dry=%d",
			out.WetThreshold, out.DryThreshold, MaxRaw, def.WetThreshold, def.DryThreshold)
		out.WetThreshold, out.DryThreshold = def.WetThreshold, def.DryThreshold
	}

	if !inRaw(out.CalibrationWet) || !inRaw(out.CalibrationDry) || out.CalibrationWet >= out.CalibrationDry {
		warn("calibration invalid (wet=%d dry=%d); using wet=%d dry=%d",
			out.CalibrationWet, out.CalibrationDry, def.CalibrationWet, def.CalibrationDry)
		out.CalibrationWet, out.CalibrationDry = def.CalibrationWet, def.CalibrationDry
	}

	if reason := layoutProblem(out.Layout); reason != "" {
		warn("sensor layout invalid (%s); using default 3x3 grid", reason)
		out.Layout = def.Layout
	}

	if out.MinClusterSize < 1 || out.NeighborDistance <= 0 {
		warn("cluster parameters invalid (min_size=%d distance=%d); using min_size=%d distance=%d",
			out.MinClusterSize, out.NeighborDistance, def.MinClusterSize, def.NeighborDistance)
		out.MinClusterSize, out.NeighborDistance = def.MinClusterSize, def.NeighborDistance
	}
	if out.MinClusterSize > len(out.Layout) {
		warn("min_cluster_size=%d exceeds sensor count %d; clamping", out.MinClusterSize, len(out.Layout))
		out.MinClusterSize = len(out.Layout)
	}

	if out.CheckInterval < minInterval || out.IrrigatingCheckInterval < minInterval ||
		out.MinPumpRunTime <= 0 || out.MaxPumpRunTime <= out.MinPumpRunTime || out.Cooldown < 0 {
		warn("timing invalid (check=%s irrigating_check=%s min_run=%s max_run=%s cooldown=%s); using defaults",
			out.CheckInterval, out.IrrigatingCheckInterval, out.MinPumpRunTime, out.MaxPumpRunTime, out.Cooldown)
		out.CheckInterval = def.CheckInterval
		out.IrrigatingCheckInterval = def.IrrigatingCheckInterval
		out.MinPumpRunTime = def.MinPumpRunTime
		out.MaxPumpRunTime = def.MaxPumpRunTime
		out.Cooldown = def.Cooldown
	}

	if out.LeakPercent <= 0 || out.LeakPercent > 100 || out.ClogPercent < 0 || out.ClogPercent > 100 ||
		out.StagnationChecks < 1 || out.MaxTimeSinceWatering <= 0 || out.MaxWetDuration <= 0 ||
		out.GradientThreshold <= 0 || out.GradientThreshold > 100 {
		warn("diagnostic parameters invalid; using defaults")
		out.LeakPercent = def.LeakPercent
		out.ClogPercent = def.ClogPercent
		out.StagnationChecks = def.StagnationChecks
		out.MaxTimeSinceWatering = def.MaxTimeSinceWatering
		out.MaxWetDuration = def.MaxWetDuration
		out.GradientThreshold = def.GradientThreshold
	}

	if out.TopRowY != AutoRow && !hasRow(out.Layout, out.TopRowY) {
		warn("top_row_y=%d matches no sensor; using auto", out.TopRowY)
		out.TopRowY = AutoRow
	}
	if out.BottomRowY != AutoRow && !hasRow(out.Layout, out.BottomRowY) {
		warn("bottom_row_y=%d matches no sensor; using auto", out.BottomRowY)
		out.BottomRowY = AutoRow
	}

	return out, warnings
}

// layoutProblem checks that IDs are exactly 0..n-1, since they double as read channels.
func layoutProblem(layout []entities.SensorPosition) string {
	if len(layout) == 0 {
		return "no sensors"
	}
	seen := make([]bool, len(layout))
	for _, p := range layout {
		if p.ID < 0 || p.ID >= len(layout) {
			return fmt.Sprintf("id %d outside 0..%d", p.ID, len(layout)-1)
		}
		if seen[p.ID] {
			return fmt.Sprintf("duplicate id %d", p.ID)
		}
		seen[p.ID] = true
	}
	return ""
}

func hasRow(layout []entities.SensorPosition, y int) bool {
	for _, p := range layout {
		if p.Y == y {
			return true
		}
	}
	return false
}

func inRaw(v int) bool { return v >= 0 && v <= MaxRaw }

// --------------------- small helpers ---------------------

// helper per convertire interi/float/string -> float64
func toF64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func toDuration(v any) (time.Duration, bool) {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	if f, ok := toF64(v); ok {
		return time.Duration(f * float64(time.Second)), true
	}
	return 0, false
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
