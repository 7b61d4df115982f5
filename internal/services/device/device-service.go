package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

// DeviceService is the MQTT side of the relay device: it consumes SetPumpRequest
// payloads (sent by MQTTPump) and applies them through the same handler as gRPC.
type DeviceService struct {
	consumer rabbitmq.IConsumer
	handler  *GrpcHandler
	deduper  *dedup.Deduper
	log      zerolog.Logger
}

func NewDeviceService(consumer rabbitmq.IConsumer, handler *GrpcHandler, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		consumer: consumer,
		handler:  handler,
		deduper:  dedup.New(time.Minute, 1000),
		log:      log,
	}
}

// Start blocks until ctx is cancelled.
func (d *DeviceService) Start(ctx context.Context) {
	d.consumer.SetHandler(d.messageHandler)
	d.consumer.ConsumeMessage(ctx)
}

func (d *DeviceService) messageHandler(_ string, message mqtt.Message) error {
	if !d.deduper.ShouldProcess(dedup.PayloadKey(message.Payload())) {
		return nil
	}
	var req SetPumpRequest
	if err := json.Unmarshal(message.Payload(), &req); err != nil {
		return fmt.Errorf("invalid SetPumpRequest: %w", err)
	}
	d.handler.apply(req.On, firstNonEmpty(req.Source, "mqtt"))
	return nil
}
