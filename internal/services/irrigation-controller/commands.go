package irrigation_controller

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

type CommandKind int

const (
	CmdForceState CommandKind = iota + 1
	CmdInjectReading
	CmdResetFault
	CmdPumpTest
)

const (
	DefaultPumpTest = 5 * time.Second
	MaxPumpTest     = 60 * time.Second
)

func (k CommandKind) String() string {
	switch k {
	case CmdForceState:
		return "force_state"
	case CmdInjectReading:
		return "inject_reading"
	case CmdResetFault:
		return "reset_fault"
	case CmdPumpTest:
		return "pump_test"
	}
	return "unknown"
}

// Command is the typed operator request. Only the fields of its Kind are set.
type Command struct {
	Kind     CommandKind          `json:"kind"`
	State    entities.SystemState `json:"state,omitempty"`
	SensorID int                  `json:"sensor_id,omitempty"`
	Value    int                  `json:"value,omitempty"`
	Duration time.Duration        `json:"duration,omitempty"`
}

func (c Command) String() string {
	switch c.Kind {
	case CmdForceState:
		return "STATE:" + string(c.State)
	case CmdInjectReading:
		return fmt.Sprintf("S%d:%d", c.SensorID, c.Value)
	case CmdResetFault:
		return "RESET"
	case CmdPumpTest:
		return "PUMP_TEST:" + c.Duration.String()
	}
	return "?"
}

// ParseCommand turns console/HTTP/MQTT text into a Command:
//
//	STATE:<name>        force a transition
//	S<id>:<raw>         inject a one-shot reading for sensor id
//	RESET | RESET_FAULT return to MONITORING and clear diagnostics
//	PUMP_TEST[:<dur>]   run the pump for dur (Go duration or seconds)
func ParseCommand(text string) (Command, error) {
	s := strings.ToUpper(strings.TrimSpace(text))
	if s == "" {
		return Command{}, fmt.Errorf("%w: empty", ErrUnknownCommand)
	}

	switch {
	case strings.HasPrefix(s, "STATE:"):
		st, err := entities.ParseSystemState(strings.TrimPrefix(s, "STATE:"))
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrUnknownCommand, err)
		}
		return Command{Kind: CmdForceState, State: st}, nil

	case s == "RESET" || s == "RESET_FAULT":
		return Command{Kind: CmdResetFault}, nil

	case s == "PUMP_TEST" || strings.HasPrefix(s, "PUMP_TEST:"):
		d := DefaultPumpTest
		if arg := strings.TrimPrefix(strings.TrimPrefix(s, "PUMP_TEST"), ":"); arg != "" {
			var err error
			if d, err = parseTestDuration(arg); err != nil {
				return Command{}, fmt.Errorf("%w: pump test duration %q", ErrUnknownCommand, arg)
			}
		}
		if d <= 0 || d > MaxPumpTest {
			return Command{}, fmt.Errorf("%w: pump test duration %s outside (0, %s]", ErrCommandRejected, d, MaxPumpTest)
		}
		return Command{Kind: CmdPumpTest, Duration: d}, nil

	case strings.HasPrefix(s, "S"):
		idStr, valStr, ok := strings.Cut(strings.TrimPrefix(s, "S"), ":")
		if !ok {
			break
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			break
		}
		val, err := strconv.Atoi(strings.TrimSpace(valStr))
		if err != nil {
			return Command{}, fmt.Errorf("%w: sensor value %q", ErrUnknownCommand, valStr)
		}
		if id < 0 {
			return Command{}, fmt.Errorf("%w: id %d", ErrInvalidSensor, id)
		}
		if val < 0 || val > config.MaxRaw {
			return Command{}, fmt.Errorf("%w: value %d outside 0..%d", ErrCommandRejected, val, config.MaxRaw)
		}
		return Command{Kind: CmdInjectReading, SensorID: id, Value: val}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, strings.TrimSpace(text))
}

func parseTestDuration(arg string) (time.Duration, error) {
	if d, err := time.ParseDuration(strings.ToLower(arg)); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(arg)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
