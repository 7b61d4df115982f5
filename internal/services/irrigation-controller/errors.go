package irrigation_controller

import "errors"

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidSensor   = errors.New("invalid sensor")
	ErrCommandRejected = errors.New("command rejected")
	ErrFaultLatched    = errors.New("system fault latched: reset required")
	ErrQueueFull       = errors.New("control queue full")
)
