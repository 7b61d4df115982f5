package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/services/aggregator"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "data-aggregator").Logger()

	interval, err := time.ParseDuration(envOr("AGGREGATION_INTERVAL", "30s"))
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     envOr("MQTT_HOST", "localhost"),
		Port:     1883,
		User:     envOr("MQTT_USER", "guest"),
		Password: envOr("MQTT_PASSWORD", "guest"),
		ClientID: "dataAggregator1",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MQTT broker")
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	publisher := rabbitmq.NewPublisher(client, envOr("AGGREGATED_TOPIC", "sensor/aggregated"), rabbitmq.WithLogger(log))
	// handler iniettato da Start
	consumer := rabbitmq.NewConsumer(client, envOr("SENSOR_TOPIC", "sensor/raw"), nil, log)

	log.Info().Dur("interval", interval).Msg("data aggregator running")
	aggregator.NewDataAggregatorService(consumer, publisher, interval, log).Start(ctx)
}
