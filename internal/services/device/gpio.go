package device

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// Pin is the output line driving the pump relay.
type Pin interface {
	High()
	Low()
}

type rpioPin struct{ pin rpio.Pin }

func (p rpioPin) High() { p.pin.High() }
func (p rpioPin) Low()  { p.pin.Low() }

// OpenGPIO maps the GPIO registers and configures bcm as an output held low.
// The returned func unmaps them.
func OpenGPIO(bcm int) (Pin, func() error, error) {
	if err := rpio.Open(); err != nil {
		return nil, nil, fmt.Errorf("gpio open: %w", err)
	}
	pin := rpio.Pin(bcm)
	pin.Output()
	pin.Low()
	return rpioPin{pin: pin}, rpio.Close, nil
}

// MemPin records the level; used when no GPIO is available.
type MemPin struct {
	mu   sync.Mutex
	high bool
}

func (p *MemPin) High() { p.set(true) }
func (p *MemPin) Low()  { p.set(false) }

func (p *MemPin) set(high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
}

func (p *MemPin) IsHigh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// GPIOPump drives the relay directly from the controller host.
type GPIOPump struct {
	mu        sync.Mutex
	pin       Pin
	activeLow bool
	on        bool
}

func NewGPIOPump(pin Pin, activeLow bool) *GPIOPump {
	p := &GPIOPump{pin: pin, activeLow: activeLow}
	p.write(false)
	return p
}

func (p *GPIOPump) SetPump(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write(on)
	p.on = on
	return nil
}

func (p *GPIOPump) PumpOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

func (p *GPIOPump) write(on bool) {
	if on != p.activeLow {
		p.pin.High()
		return
	}
	p.pin.Low()
}
