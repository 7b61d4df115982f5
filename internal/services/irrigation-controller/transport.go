package irrigation_controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/dedup"
)

const commandTimeout = 10 * time.Second

// ReloadFunc produces the configuration to swap in. An empty payload means
// "re-read the file".
type ReloadFunc func(payload []byte) (config.Config, []string, error)

// FileReloader re-reads path on an empty payload and otherwise parses the payload.
func FileReloader(path string) ReloadFunc {
	return func(payload []byte) (config.Config, []string, error) {
		if len(strings.TrimSpace(string(payload))) == 0 {
			if path == "" {
				return config.Config{}, nil, fmt.Errorf("no config path")
			}
			return config.Load(path)
		}
		cfg, err := config.Parse(payload)
		if err != nil {
			return config.Config{}, nil, err
		}
		config.ApplyEnv(&cfg)
		out, warnings := config.Validate(cfg)
		return out, warnings, nil
	}
}

// MQTTCommands feeds irrigation/command and irrigation/config/reload into the runner.
// Both topics are QoS1: only a delivery flagged DUP whose packet id and payload were
// already handled is dropped. Operator commands carry no id of their own, so a fresh
// RESET identical to the previous one must still be applied.
type MQTTCommands struct {
	runner       *Runner
	commandTopic string
	reloadTopic  string
	reload       ReloadFunc
	deduper      *dedup.Deduper
	log          zerolog.Logger
}

func NewMQTTCommands(r *Runner, commandTopic, reloadTopic string, reload ReloadFunc, log zerolog.Logger) *MQTTCommands {
	return &MQTTCommands{
		runner:       r,
		commandTopic: commandTopic,
		reloadTopic:  reloadTopic,
		reload:       reload,
		deduper:      dedup.New(5*time.Minute, 1000),
		log:          log,
	}
}

func (m *MQTTCommands) Topics() []string { return []string{m.commandTopic, m.reloadTopic} }

// Handle is a rabbitmq.Handler.
func (m *MQTTCommands) Handle(_ string, msg mqtt.Message) error {
	payload := msg.Payload()
	if m.redelivered(msg) {
		m.log.Debug().Str("topic", msg.Topic()).Uint16("id", msg.MessageID()).Msg("mqtt: redelivery dropped")
		return nil
	}
	switch msg.Topic() {
	case m.commandTopic:
		text := strings.TrimSpace(string(payload))
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := m.runner.SubmitText(ctx, text); err != nil {
			m.log.Warn().Err(err).Str("command", text).Msg("mqtt: command refused")
			return err
		}
		m.log.Info().Str("command", text).Msg("mqtt: command applied")
	case m.reloadTopic:
		cfg, warnings, err := m.reload(payload)
		if err != nil {
			m.log.Error().Err(err).Msg("mqtt: config reload failed")
			return err
		}
		for _, w := range warnings {
			m.log.Warn().Str("warning", w).Msg("config: fallback")
		}
		m.runner.Reload(cfg)
		m.log.Info().Msg("mqtt: config reload queued")
	}
	return nil
}

// redelivered records every delivery and reports true only for a DUP copy of one
// already seen. An empty reload ("re-read the file") is idempotent and never dropped.
func (m *MQTTCommands) redelivered(msg mqtt.Message) bool {
	payload := msg.Payload()
	if msg.Topic() == m.reloadTopic && len(strings.TrimSpace(string(payload))) == 0 {
		return false
	}
	key := fmt.Sprintf("%s:%d:%s", msg.Topic(), msg.MessageID(), dedup.PayloadKey(payload))
	seen := !m.deduper.ShouldProcess(key)
	return seen && msg.Duplicate()
}

// RunConsole reads one command per line until in is exhausted or ctx is done.
// "status" prints the current snapshot instead of submitting a command.
func (r *Runner) RunConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "status"):
			st := r.Status()
			fmt.Fprintf(out, "state=%s pump=%v largest_cluster=%d since=%s\n",
				st.State, st.PumpOn, st.LastCluster.Largest, st.StateSince.Format(time.RFC3339))
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		err := r.SubmitText(cctx, line)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "ERR %v\n", err)
			continue
		}
		fmt.Fprintln(out, "OK")
	}
	return sc.Err()
}
