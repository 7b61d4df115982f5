package messages

import "time"

// IrrigationCompletedEvent is published when an irrigation cycle ends with the field wet.
type IrrigationCompletedEvent struct {
	CycleID            string    `json:"cycle_id"`
	StartedAt          time.Time `json:"started_at"`
	StoppedAt          time.Time `json:"stopped_at"`
	DurationSec        float64   `json:"duration_sec"`
	VolumeLiters       float64   `json:"volume_l"`
	TimeToWetSec       float64   `json:"time_to_wet_sec"`
	TimeToDrySec       float64   `json:"time_to_dry_sec"` // 0 on the first cycle
	TriggerClusterSize int       `json:"trigger_cluster_size"`
	Checks             int       `json:"checks"`
}
