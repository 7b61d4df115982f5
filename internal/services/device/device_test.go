package device

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []interface{}
}

func (p *fakePublisher) PublishMessage(message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) states() []messages.PumpStateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []messages.PumpStateEvent
	for _, m := range p.messages {
		if ev, ok := m.(messages.PumpStateEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

type fakeMessage struct{ payload []byte }

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "device/pump/set" }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func startRelay(t *testing.T, h *GrpcHandler) *GRPCPump {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterRelayServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	pump, err := DialRelay("passthrough:///bufnet", time.Second, zerolog.Nop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = pump.Close() })
	return pump
}

func TestRelayOverGRPC(t *testing.T) {
	pin := &MemPin{}
	pub := &fakePublisher{}
	h := NewGrpcHandler(pin, pub, time.Hour, zerolog.Nop())
	pump := startRelay(t, h)

	if err := pump.SetPump(true); err != nil {
		t.Fatalf("set on: %v", err)
	}
	if !pin.IsHigh() || !pump.PumpOn() {
		t.Fatalf("pin high=%v client on=%v", pin.IsHigh(), pump.PumpOn())
	}

	st, err := pump.State(context.Background())
	if err != nil || !st.On {
		t.Fatalf("state = %+v, %v", st, err)
	}

	// repeated off is idempotent and publishes once
	if err := pump.SetPump(false); err != nil {
		t.Fatalf("set off: %v", err)
	}
	if err := pump.SetPump(false); err != nil {
		t.Fatalf("set off again: %v", err)
	}
	if pin.IsHigh() {
		t.Fatalf("pin still high")
	}
	states := pub.states()
	if len(states) != 2 || !states[0].On || states[1].On || states[0].Source != "controller" {
		t.Fatalf("published states = %+v", states)
	}
}

func TestRelayUnreachable(t *testing.T) {
	pump, err := DialRelay("passthrough:///nowhere", 50*time.Millisecond, zerolog.Nop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return nil, context.DeadlineExceeded
		}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer pump.Close()
	if err := pump.SetPump(true); err == nil {
		t.Fatalf("expected error from unreachable relay")
	}
	if pump.PumpOn() {
		t.Fatalf("client records on after failure")
	}
}

func TestWatchdogForcesOff(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pin := &MemPin{}
	pub := &fakePublisher{}
	h := NewGrpcHandler(pin, pub, 35*time.Minute, zerolog.Nop())
	h.now = func() time.Time { return now }

	h.apply(true, "test")
	now = now.Add(30 * time.Minute)
	if h.checkWatchdog() {
		t.Fatalf("watchdog fired early")
	}
	now = now.Add(10 * time.Minute)
	if !h.checkWatchdog() {
		t.Fatalf("watchdog did not fire")
	}
	if pin.IsHigh() {
		t.Fatalf("pin still high after watchdog")
	}
	states := pub.states()
	if states[len(states)-1].Source != "watchdog" {
		t.Fatalf("last state = %+v", states[len(states)-1])
	}
}

func TestShutdownReleasesRelayWithoutWatchdog(t *testing.T) {
	for _, maxOn := range []time.Duration{0, 35 * time.Minute} {
		pin := &MemPin{}
		pub := &fakePublisher{}
		h := NewGrpcHandler(pin, pub, maxOn, zerolog.Nop())
		h.apply(true, "test")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.RunWatchdog(ctx, time.Hour) }()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("maxOn=%s: watchdog: %v", maxOn, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("maxOn=%s: watchdog did not stop", maxOn)
		}
		if pin.IsHigh() {
			t.Fatalf("maxOn=%s: relay left energized after shutdown", maxOn)
		}
		states := pub.states()
		if last := states[len(states)-1]; last.On || last.Source != "shutdown" {
			t.Fatalf("maxOn=%s: last state = %+v", maxOn, last)
		}
	}
}

func TestDeviceServiceAppliesMQTTCommands(t *testing.T) {
	pin := &MemPin{}
	h := NewGrpcHandler(pin, nil, 0, zerolog.Nop())
	svc := NewDeviceService(nil, h, zerolog.Nop())

	pub := &fakePublisher{}
	mp := NewMQTTPump(pub)
	if err := mp.SetPump(true); err != nil {
		t.Fatalf("mqtt pump: %v", err)
	}
	payload, err := json.Marshal(pub.messages[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.messageHandler("device/pump/set", fakeMessage{payload: payload}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !pin.IsHigh() || !mp.PumpOn() {
		t.Fatalf("command not applied")
	}

	if err := svc.messageHandler("device/pump/set", fakeMessage{payload: []byte("nope")}); err == nil {
		t.Fatalf("malformed command accepted")
	}
}

func TestGPIOPumpActiveLow(t *testing.T) {
	pin := &MemPin{}
	p := NewGPIOPump(pin, true)
	if !pin.IsHigh() {
		t.Fatalf("active-low relay must idle high")
	}
	_ = p.SetPump(true)
	if pin.IsHigh() || !p.PumpOn() {
		t.Fatalf("active-low relay on should drive low")
	}

	pin2 := &MemPin{}
	p2 := NewGPIOPump(pin2, false)
	_ = p2.SetPump(true)
	if !pin2.IsHigh() {
		t.Fatalf("active-high relay on should drive high")
	}
}
