package messages

import (
	"time"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

// StateChangeEvent is emitted on every controller transition.
type StateChangeEvent struct {
	From      entities.SystemState `json:"from"`
	To        entities.SystemState `json:"to"`
	Reason    string               `json:"reason"`
	PumpOn    bool                 `json:"pump_on"`
	Timestamp time.Time            `json:"timestamp"`
}
