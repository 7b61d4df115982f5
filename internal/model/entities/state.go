package entities

import (
	"fmt"
	"strings"
)

// SystemState is the controller's single active mode.
type SystemState string

const (
	StateMonitoring  SystemState = "MONITORING"
	StateIrrigating  SystemState = "IRRIGATING"
	StateWaiting     SystemState = "WAITING"
	StateSystemFault SystemState = "SYSTEM_FAULT"
)

// AllStates in display order.
var AllStates = []SystemState{StateMonitoring, StateIrrigating, StateWaiting, StateSystemFault}

// ParseSystemState accepts the canonical names case-insensitively; "FAULT" is an alias.
func ParseSystemState(s string) (SystemState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MONITORING":
		return StateMonitoring, nil
	case "IRRIGATING":
		return StateIrrigating, nil
	case "WAITING":
		return StateWaiting, nil
	case "SYSTEM_FAULT", "FAULT":
		return StateSystemFault, nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}
