package messages

import "time"

// PumpStateEvent is published by pump drivers and the relay service after every actuation.
type PumpStateEvent struct {
	On        bool      `json:"on"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}
