package irrigation_controller

import (
	"fmt"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

// Gradient levels.
const (
	GradientNone     = ""
	GradientWarning  = "warning"         // top much wetter than bottom
	GradientDrainage = "normal_drainage" // bottom wetter than top, any amount
)

type GradientResult struct {
	Valid      bool    `json:"valid"`
	TopY       int     `json:"top_y"`
	BottomY    int     `json:"bottom_y"`
	TopMean    float64 `json:"top_mean"`
	BottomMean float64 `json:"bottom_mean"`
	Diff       float64 `json:"diff"` // TopMean - BottomMean, percentage points
	Level      string  `json:"level"`
}

func (g GradientResult) Message() string {
	switch g.Level {
	case GradientWarning:
		return fmt.Sprintf("top row %.1f%% wetter than bottom row: possible blockage or poor drainage", g.Diff)
	case GradientDrainage:
		return fmt.Sprintf("bottom row %.1f%% wetter than top row: normal drainage", -g.Diff)
	}
	return ""
}

// gradientRows resolves AutoRow to the smallest and largest Y in the array.
func gradientRows(sensors []entities.SensorNode, topY, bottomY int) (int, int) {
	if len(sensors) == 0 {
		return topY, bottomY
	}
	minY, maxY := sensors[0].Y, sensors[0].Y
	for _, s := range sensors[1:] {
		if s.Y < minY {
			minY = s.Y
		}
		if s.Y > maxY {
			maxY = s.Y
		}
	}
	if topY == config.AutoRow {
		topY = minY
	}
	if bottomY == config.AutoRow {
		bottomY = maxY
	}
	return topY, bottomY
}

// AnalyzeGradient compares the mean percentage of the two rows. Advisory only.
func AnalyzeGradient(sensors []entities.SensorNode, topY, bottomY, threshold int) GradientResult {
	topY, bottomY = gradientRows(sensors, topY, bottomY)
	res := GradientResult{TopY: topY, BottomY: bottomY}
	if topY == bottomY {
		return res
	}

	var topSum, bottomSum, topN, bottomN int
	for _, s := range sensors {
		switch s.Y {
		case topY:
			topSum += s.Percentage
			topN++
		case bottomY:
			bottomSum += s.Percentage
			bottomN++
		}
	}
	if topN == 0 || bottomN == 0 {
		return res
	}

	res.Valid = true
	res.TopMean = float64(topSum) / float64(topN)
	res.BottomMean = float64(bottomSum) / float64(bottomN)
	res.Diff = res.TopMean - res.BottomMean
	switch {
	case res.Diff > float64(threshold):
		res.Level = GradientWarning
	case res.Diff < 0:
		res.Level = GradientDrainage
	}
	return res
}
