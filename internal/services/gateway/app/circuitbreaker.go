package app

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewCircuitBreaker: Closed -> (failures consecutivi) -> Open -> (dopo openFor) -> HalfOpen.
func NewCircuitBreaker(name string, failuresThreshold int, openFor time.Duration) *gobreaker.CircuitBreaker {
	if failuresThreshold < 1 {
		failuresThreshold = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // una sola richiesta di prova in HalfOpen
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failuresThreshold)
		},
	})
}
