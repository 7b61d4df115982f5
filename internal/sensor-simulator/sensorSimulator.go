package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

// SensorSimulator runs a SimulatedField as a remote sensor board: it follows the
// pump state published on the broker and publishes all channels at a fixed interval.
type SensorSimulator struct {
	field     *SimulatedField
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper
	log       zerolog.Logger
}

func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, field *SimulatedField, log zerolog.Logger) *SensorSimulator {
	return &SensorSimulator{
		field:     field,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000), // TTL e cap
		log:       log,
	}
}

// Start consumes pump state changes and publishes readings until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	s.consumer.SetHandler(s.handleMessage)
	go s.consumer.ConsumeMessage(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.publisher.Close()
			return
		case <-ticker.C:
			if err := s.publishOnce(); err != nil {
				s.log.Error().Err(err).Msg("simulator: publish failed")
			}
		}
	}
}

func (s *SensorSimulator) publishOnce() error {
	ev := messages.RawReadingsEvent{
		Values:    s.field.Snapshot(),
		PumpOn:    s.field.PumpOn(),
		Timestamp: time.Now().UTC(),
	}
	s.log.Debug().Ints("raw", ev.Values).Bool("pump", ev.PumpOn).Msg("simulator: readings")
	return s.publisher.PublishMessage(ev)
}

func (s *SensorSimulator) handleMessage(_ string, msg mqtt.Message) error {
	// Dedup a payload: redelivery QoS1 ha lo stesso payload → stesso hash
	if !s.deduper.ShouldProcess(dedup.PayloadKey(msg.Payload())) {
		return nil
	}

	var evt messages.PumpStateEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("invalid PumpStateEvent: %w", err)
	}
	if err := s.field.SetPump(evt.On); err != nil {
		return err
	}
	s.log.Info().Bool("on", evt.On).Str("source", evt.Source).Msg("simulator: pump state")
	return nil
}
