package messages

import (
	"time"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

// ReadingsSnapshot is one fully refreshed view of the sensor array.
type ReadingsSnapshot struct {
	State          entities.SystemState  `json:"state"`
	Sensors        []entities.SensorNode `json:"sensors"`
	LargestCluster int                   `json:"largest_cluster"`
	Timestamp      time.Time             `json:"timestamp"`
}
