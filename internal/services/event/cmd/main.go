package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/services/event"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/dedup"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// event-service: archives the controller's irrigation/events/# stream in InfluxDB
// and serves the history query used by the dashboard.
func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "event-service").Logger()

	// === Config ===
	rabbit := rabbitmq.RabbitMQConfig{
		Host:     envStr("MQTT_HOST", "localhost"),
		Port:     envInt("MQTT_PORT", 1883),
		User:     envStr("MQTT_USER", "guest"),
		Password: envStr("MQTT_PASSWORD", "guest"),
		ClientID: envStr("HOSTNAME", "event-service"),
		Logger:   log,
	}
	influxURL := envStr("INFLUX_URL", "http://localhost:8086")
	influxToken := os.Getenv("INFLUX_TOKEN")
	influxOrg := envStr("INFLUX_ORG", "irrigation")
	influxBucket := envStr("INFLUX_BUCKET", "events")
	httpPort := envInt("HTTP_PORT", 8081)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === InfluxDB ===
	influx := influxdb2.NewClient(influxURL, influxToken)
	defer influx.Close()

	dispatcher := event.NewDispatcher(envInt("EVENT_QUEUE_SIZE", 1024), event.DefaultBreakerSettings(), log,
		event.NewInfluxBackend(influx.WriteAPIBlocking(influxOrg, influxBucket)))

	// === MQTT ===
	client, err := rabbitmq.NewRabbitMQConn(&rabbit, ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connection error")
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	// QoS1 -> possibili redelivery
	d := dedup.New(10*time.Minute, 20000)
	h := event.NewMQTTHandler(dispatcher.Publish)
	consumer := rabbitmq.NewConsumer(client, event.TopicPrefix+"#", func(topic string, m mqtt.Message) error {
		if !d.ShouldProcess(dedup.PayloadKey(m.Payload())) {
			return nil
		}
		return h.Handle(topic, m)
	}, log)

	// === HTTP ===
	r := mux.NewRouter()
	r.Handle("/healthz", event.NewHealthHandler(client, dispatcher)).Methods(http.MethodGet)
	r.Handle("/readyz", event.NewReadyHandler(client, dispatcher)).Methods(http.MethodGet)
	r.Handle("/events/irrigation/latest", event.NewIrrigationLatestHandler(influx.QueryAPI(influxOrg), influxBucket)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(httpPort),
		Handler:           handlers.LoggingHandler(os.Stdout, r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		consumer.ConsumeMessage(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", httpPort).Msg("event-svc: HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("event-svc: stopped with error")
	}
	log.Info().Msg("event-svc: shutting down...")
}
