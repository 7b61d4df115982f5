package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, warnings := Validate(Default())
	if len(warnings) != 0 {
		t.Fatalf("default config produced warnings: %v", warnings)
	}
	if cfg.NeighborDistanceSquared() != 225 {
		t.Fatalf("neighbor distance squared = %d, want 225", cfg.NeighborDistanceSquared())
	}
	if len(cfg.Layout) != 9 {
		t.Fatalf("default layout has %d sensors, want 9", len(cfg.Layout))
	}
}

func TestValidateFallsBackPerGroup(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		check  func(*testing.T, Config)
	}{
		{
			name:   "inverted thresholds",
			mutate: func(c *Config) { c.WetThreshold, c.DryThreshold = 3000, 2500 },
			check: func(t *testing.T, c Config) {
				if c.WetThreshold != defaultWetThreshold || c.DryThreshold != defaultDryThreshold {
					t.Fatalf("thresholds not reset: wet=%d dry=%d", c.WetThreshold, c.DryThreshold)
				}
			},
		},
		{
			name:   "threshold out of adc range",
			mutate: func(c *Config) { c.DryThreshold = 5000 },
			check: func(t *testing.T, c Config) {
				if c.DryThreshold != defaultDryThreshold {
					t.Fatalf("dry threshold = %d", c.DryThreshold)
				}
			},
		},
		{
			name:   "inverted calibration",
			mutate: func(c *Config) { c.CalibrationWet = 3600 },
			check: func(t *testing.T, c Config) {
				if c.CalibrationWet != defaultCalibrationWet || c.CalibrationDry != defaultCalibrationDry {
					t.Fatalf("calibration not reset")
				}
			},
		},
		{
			name:   "degenerate timing",
			mutate: func(c *Config) { c.MaxPumpRunTime = time.Minute },
			check: func(t *testing.T, c Config) {
				if c.MaxPumpRunTime != defaultMaxPumpRunTime || c.MinPumpRunTime != defaultMinPumpRunTime {
					t.Fatalf("timing not reset: min=%s max=%s", c.MinPumpRunTime, c.MaxPumpRunTime)
				}
			},
		},
		{
			name:   "zero check interval",
			mutate: func(c *Config) { c.CheckInterval = 0 },
			check: func(t *testing.T, c Config) {
				if c.CheckInterval != defaultCheckInterval {
					t.Fatalf("check interval = %s", c.CheckInterval)
				}
			},
		},
		{
			name:   "duplicate sensor id",
			mutate: func(c *Config) { c.Layout[1].ID = 0 },
			check: func(t *testing.T, c Config) {
				if len(c.Layout) != 9 || c.Layout[1].ID != 1 {
					t.Fatalf("layout not reset: %+v", c.Layout)
				}
			},
		},
		{
			name:   "cluster larger than field",
			mutate: func(c *Config) { c.MinClusterSize = 20 },
			check: func(t *testing.T, c Config) {
				if c.MinClusterSize != 9 {
					t.Fatalf("min cluster size = %d, want clamp to 9", c.MinClusterSize)
				}
			},
		},
		{
			name:   "leak percent out of range",
			mutate: func(c *Config) { c.LeakPercent = 140 },
			check: func(t *testing.T, c Config) {
				if c.LeakPercent != defaultLeakPercent {
					t.Fatalf("leak percent = %d", c.LeakPercent)
				}
			},
		},
		{
			name:   "unknown gradient row",
			mutate: func(c *Config) { c.TopRowY = 99 },
			check: func(t *testing.T, c Config) {
				if c.TopRowY != AutoRow {
					t.Fatalf("top row = %d, want auto", c.TopRowY)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			out, warnings := Validate(cfg)
			if len(warnings) != 1 {
				t.Fatalf("expected exactly one warning, got %v", warnings)
			}
			tc.check(t, out)
		})
	}
}

func TestValidateKeepsOtherGroups(t *testing.T) {
	cfg := Default()
	cfg.WetThreshold, cfg.DryThreshold = 3000, 1000
	cfg.Cooldown = 5 * time.Minute

	out, _ := Validate(cfg)
	if out.Cooldown != 5*time.Minute {
		t.Fatalf("cooldown = %s, timing group should be untouched", out.Cooldown)
	}
}

func TestValidateDoesNotAliasLayout(t *testing.T) {
	cfg := Default()
	out, _ := Validate(cfg)
	out.Layout[0].X = 999
	if cfg.Layout[0].X == 999 {
		t.Fatalf("validated config shares layout with input")
	}
}

func TestParseAcceptsStringsAndDurations(t *testing.T) {
	doc := `{
		"dry_threshold": "2900",
		"wet_threshold": 1900,
		"check_interval": "15s",
		"cooldown": 600,
		"sensors": [
			{"id": 0, "x": 0, "y": 0},
			{"id": 1, "x": "10", "y": 0},
			{"id": 2, "x": 0, "y": 10}
		]
	}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DryThreshold != 2900 || cfg.WetThreshold != 1900 {
		t.Fatalf("thresholds = %d/%d", cfg.DryThreshold, cfg.WetThreshold)
	}
	if cfg.CheckInterval != 15*time.Second {
		t.Fatalf("check interval = %s", cfg.CheckInterval)
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Fatalf("cooldown = %s", cfg.Cooldown)
	}
	want := []entities.SensorPosition{{ID: 0}, {ID: 1, X: 10}, {ID: 2, Y: 10}}
	if len(cfg.Layout) != len(want) {
		t.Fatalf("layout = %+v", cfg.Layout)
	}
	for i := range want {
		if cfg.Layout[i] != want[i] {
			t.Fatalf("layout[%d] = %+v, want %+v", i, cfg.Layout[i], want[i])
		}
	}
	// untouched fields keep defaults
	if cfg.MinClusterSize != defaultMinClusterSize {
		t.Fatalf("min cluster size = %d", cfg.MinClusterSize)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte(`{"dry_threshold": "dry"}`)); err == nil {
		t.Fatalf("expected error for non numeric threshold")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed document")
	}
}

func TestLoadAppliesEnvAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "irrigation.json")
	if err := os.WriteFile(path, []byte(`{"wet_threshold": 2100}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRY_THRESHOLD", "2000")
	t.Setenv("CHECK_INTERVAL", "45s")

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// 2100 >= 2000 after the env override: threshold group falls back
	if cfg.WetThreshold != defaultWetThreshold || cfg.DryThreshold != defaultDryThreshold {
		t.Fatalf("thresholds = %d/%d", cfg.WetThreshold, cfg.DryThreshold)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "thresholds") {
		t.Fatalf("warnings = %v", warnings)
	}
	if cfg.CheckInterval != 45*time.Second {
		t.Fatalf("check interval = %s", cfg.CheckInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
