package irrigation_controller

import "github.com/LeonardoBeccarini/spatial_irrigation/internal/config"

// Converter maps raw ADC readings (higher = drier) to percentages and dryness.
// It holds no state besides its configuration, so equal inputs always classify equally.
type Converter struct {
	dry    int
	wet    int
	calWet int
	calDry int
}

func NewConverter(cfg config.Config) Converter {
	return Converter{
		dry:    cfg.DryThreshold,
		wet:    cfg.WetThreshold,
		calWet: cfg.CalibrationWet,
		calDry: cfg.CalibrationDry,
	}
}

// ToPercentage clamps raw into the calibration span first and then interpolates
// inversely: calWet reads 100, calDry reads 0.
func (c Converter) ToPercentage(raw int) int {
	span := c.calDry - c.calWet
	if span <= 0 {
		if raw <= c.calWet {
			return 100
		}
		return 0
	}
	if raw < c.calWet {
		raw = c.calWet
	}
	if raw > c.calDry {
		raw = c.calDry
	}
	return (c.calDry - raw) * 100 / span
}

// IsDry reports whether a sensor asks for water.
func (c Converter) IsDry(raw int) bool { return raw > c.dry }

// IsWetEnough reports whether a sensor is satisfied. Between the two thresholds a
// sensor is neither dry nor satisfied.
func (c Converter) IsWetEnough(raw int) bool { return raw <= c.wet }
