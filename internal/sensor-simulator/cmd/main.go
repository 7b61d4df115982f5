package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	sensorSimulator "github.com/LeonardoBeccarini/spatial_irrigation/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

func main() {
	brokerHost := flag.String("broker", envOr("MQTT_HOST", "localhost"), "MQTT broker host")
	clientID := flag.String("client-id", "sensor-board-1", "MQTT client ID")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	initial := flag.Int("initial", 2400, "initial raw reading for every channel")
	lat := flag.Float64("lat", 41.51109, "latitude for the SoilGrids seed")
	lon := flag.Float64("lon", 12.37007, "longitude for the SoilGrids seed")
	seed := flag.Bool("soilgrids", false, "seed the field from SoilGrids")
	dryPatch := flag.Int("dry-patch", 0, "sensor id that dries ten times faster (with its right neighbour)")
	stuck := flag.String("stuck", "", `comma separated sensor ids whose readings never change, or "all" (stagnation demo)`)
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "sensor-simulator").Logger()

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, warnings, err := config.Load(path)
		if err != nil {
			log.Warn().Err(err).Msg("simulator: using default layout")
		} else {
			cfg = loaded
			for _, w := range warnings {
				log.Warn().Msg("config: " + w)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	field := sensorSimulator.NewSimulatedField(len(cfg.Layout), *initial, nil)
	field.SetDryRate(*dryPatch, 20)
	field.SetDryRate(*dryPatch+1, 20)
	for _, id := range stuckIDs(*stuck, field.Len()) {
		field.Stuck(id, true)
		log.Warn().Int("sensor", id).Msg("simulator: channel frozen")
	}
	if *seed {
		if err := field.SeedFromSoilGrids(ctx, *lat, *lon, cfg); err != nil {
			log.Warn().Err(err).Msg("simulator: SoilGrids seed failed, keeping initial readings")
		}
	}

	client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     *brokerHost,
		Port:     1883,
		User:     envOr("MQTT_USER", "guest"),
		Password: envOr("MQTT_PASSWORD", "guest"),
		ClientID: *clientID,
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("simulator: mqtt connect")
	}

	publisher := rabbitmq.NewPublisher(client, envOr("SENSOR_TOPIC", "sensor/raw"), rabbitmq.WithLogger(log))
	consumer := rabbitmq.NewConsumer(client, envOr("PUMP_STATE_TOPIC", "device/pump/state"), nil, log)

	sensorSimulator.NewSensorSimulator(consumer, publisher, field, log).Start(ctx, *interval)
}

// stuckIDs parses the -stuck flag; unknown tokens are skipped.
func stuckIDs(spec string, n int) []int {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	var ids []int
	if strings.EqualFold(spec, "all") {
		for i := 0; i < n; i++ {
			ids = append(ids, i)
		}
		return ids
	}
	for _, tok := range strings.Split(spec, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil || id < 0 || id >= n {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
