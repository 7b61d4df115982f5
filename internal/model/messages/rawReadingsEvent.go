package messages

import "time"

// RawReadingsEvent carries one ADC sample per channel, indexed by sensor id.
type RawReadingsEvent struct {
	Values    []int     `json:"values"`
	PumpOn    bool      `json:"pump_on"`
	Timestamp time.Time `json:"timestamp"`
}
