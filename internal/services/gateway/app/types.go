package app

import (
	"encoding/json"
	"strconv"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
	ctl "github.com/LeonardoBeccarini/spatial_irrigation/internal/services/irrigation-controller"
)

// ---------- Upstream payloads ----------

type Irrigation struct {
	CycleID      string  `json:"cycle_id,omitempty"`
	VolumeLiters float64 `json:"volume_l"` // accettiamo anche "amount"
	DurationSec  float64 `json:"duration_sec"`
	Time         string  `json:"time"` // RFC3339
}

func (i *Irrigation) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if v, ok := m["cycle_id"].(string); ok {
		i.CycleID = v
	}
	if t, ok := m["time"].(string); ok && t != "" {
		i.Time = t
	} else if t, ok := m["timestamp"].(string); ok && t != "" {
		i.Time = t
	}

	getNum := func(key string) (float64, bool) {
		switch x := m[key].(type) {
		case float64:
			return x, true
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, true
			}
		}
		return 0, false
	}
	if n, ok := getNum("volume_l"); ok {
		i.VolumeLiters = n
	} else if n, ok := getNum("amount"); ok {
		i.VolumeLiters = n
	}
	if n, ok := getNum("duration_sec"); ok {
		i.DurationSec = n
	}
	return nil
}

type Stats struct {
	Mean float64 `json:"mean"`
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Dry  int     `json:"dry"`
}

type DashboardData struct {
	State       entities.SystemState  `json:"state"`
	PumpOn      bool                  `json:"pump_on"`
	Sensors     []entities.SensorNode `json:"sensors"`
	Latches     ctl.Latches           `json:"latches"`
	Irrigations []Irrigation          `json:"irrigations"`
	Stats       Stats                 `json:"stats"`
}

type commandResponse struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type reloadResponse struct {
	Applied  bool     `json:"applied"`
	Warnings []string `json:"warnings"`
	Error    string   `json:"error,omitempty"`
}
