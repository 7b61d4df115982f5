package irrigation_controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
)

const DefaultTickInterval = time.Second

type commandRequest struct {
	cmd   Command
	reply chan error
}

// Runner owns the Controller and is the only goroutine that touches it. Commands
// and config reloads are queued and applied between ticks.
type Runner struct {
	ctrl *Controller
	tick time.Duration
	log  zerolog.Logger

	commands chan commandRequest
	reloads  chan config.Config

	mu     sync.RWMutex
	status Status
	cfg    config.Config
}

func NewRunner(ctrl *Controller, tick time.Duration, logger zerolog.Logger) *Runner {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	r := &Runner{
		ctrl:     ctrl,
		tick:     tick,
		log:      logger,
		commands: make(chan commandRequest, 16),
		reloads:  make(chan config.Config, 1),
	}
	r.status = ctrl.Status()
	r.cfg = ctrl.Config()
	return r
}

// Run ticks the controller until ctx is done. The first tick is immediate.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	defer func() {
		r.ctrl.Shutdown()
		r.publish()
	}()

	r.log.Info().Dur("tick", r.tick).Msg("runner: control loop started")
	r.ctrl.Tick()
	r.publish()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("runner: control loop stopping")
			return nil

		case <-ticker.C:
			r.ctrl.Tick()

		case req := <-r.commands:
			err := r.ctrl.Apply(req.cmd)
			r.publish() // the caller may read Status right after the reply
			req.reply <- err
			continue

		case cfg := <-r.reloads:
			r.ctrl.SwapConfig(cfg)
		}
		r.publish()
	}
}

// Submit queues cmd and waits for the controller to apply it.
func (r *Runner) Submit(ctx context.Context, cmd Command) error {
	req := commandRequest{cmd: cmd, reply: make(chan error, 1)}
	select {
	case r.commands <- req:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitText parses a text command and submits it.
func (r *Runner) SubmitText(ctx context.Context, text string) error {
	cmd, err := ParseCommand(text)
	if err != nil {
		return err
	}
	if err := r.Submit(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// Reload queues cfg for the next tick boundary; a newer pending config replaces
// an older one that was not applied yet.
func (r *Runner) Reload(cfg config.Config) {
	for {
		select {
		case r.reloads <- cfg:
			return
		default:
		}
		select {
		case <-r.reloads:
		default:
		}
	}
}

// Status returns the snapshot taken after the last tick or command.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.status
	st.Sensors = append(st.Sensors[:0:0], r.status.Sensors...)
	return st
}

// Config returns the configuration in effect after the last swap.
func (r *Runner) Config() config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Clone()
}

func (r *Runner) publish() {
	st := r.ctrl.Status()
	cfg := r.ctrl.Config()
	r.mu.Lock()
	r.status = st
	r.cfg = cfg
	r.mu.Unlock()
}
