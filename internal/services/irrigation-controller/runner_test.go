package irrigation_controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

func startRunner(t *testing.T, h *harness) (*Runner, func()) {
	t.Helper()
	r := NewRunner(h.ctrl, 5*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return r, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("runner did not stop")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestRunnerSubmitTextAppliesBetweenTicks(t *testing.T) {
	h := newHarness(t, nil)
	r, stop := startRunner(t, h)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.SubmitText(ctx, "STATE:IRRIGATING"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return r.Status().State == entities.StateIrrigating })
	if !r.Status().PumpOn {
		t.Fatalf("status pump = false while irrigating")
	}

	err := r.SubmitText(ctx, "STATE:SYSTEM_FAULT")
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("err = %v", err)
	}
	if err := r.SubmitText(ctx, "nonsense"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("unknown text: err = %v", err)
	}
}

func TestRunnerReloadSwapsConfig(t *testing.T) {
	h := newHarness(t, nil)
	r, stop := startRunner(t, h)
	defer stop()

	cfg := config.Default()
	cfg.CheckInterval = 10 * time.Second
	r.Reload(cfg)
	// a newer pending reload wins
	cfg.CheckInterval = 20 * time.Second
	r.Reload(cfg)

	waitFor(t, func() bool { return r.Config().CheckInterval == 20*time.Second })
}

func TestRunnerStopTurnsPumpOff(t *testing.T) {
	h := newHarness(t, nil)
	r, stop := startRunner(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.SubmitText(ctx, "STATE:IRRIGATING"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stop()
	if h.pump.isOn() {
		t.Fatalf("pump left on after shutdown")
	}
	if r.Status().PumpOn {
		t.Fatalf("final status reports pump on")
	}
}

func TestRunnerSubmitHonoursContext(t *testing.T) {
	h := newHarness(t, nil)
	r := NewRunner(h.ctrl, time.Hour, zerolog.Nop()) // not running
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Submit(ctx, Command{Kind: CmdResetFault}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
