package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/services/device"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envOr(k, "")); err == nil {
		return d
	}
	return def
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "pump-relay").Logger()

	// ---- ENV ----
	grpcAddr := ":" + envOr("GRPC_PORT", "50051")
	gpioPin := envOr("RELAY_GPIO", "") // BCM number; empty = in-memory pin
	activeLow := envOr("RELAY_ACTIVE_LOW", "false") == "true"
	maxOn := envDuration("RELAY_MAX_ON", 35*time.Minute)
	mqttHost := envOr("MQTT_HOST", "")
	stateTopic := envOr("PUMP_STATE_TOPIC", "device/pump/state")
	setTopic := envOr("PUMP_SET_TOPIC", "device/pump/set")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Relay pin ----
	var pin device.Pin = &device.MemPin{}
	if gpioPin != "" {
		bcm, err := strconv.Atoi(gpioPin)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid RELAY_GPIO")
		}
		p, closeGPIO, err := device.OpenGPIO(bcm)
		if err != nil {
			log.Fatal().Err(err).Msg("gpio")
		}
		defer func() { _ = closeGPIO() }()
		pin = p
	}
	// il relè active-low va tenuto alto a riposo
	if activeLow {
		pin = invertedPin{pin}
	}

	// ---- MQTT (opzionale) ----
	var (
		client    mqtt.Client
		publisher rabbitmq.IPublisher
	)
	if mqttHost != "" {
		port, _ := strconv.Atoi(envOr("MQTT_PORT", "1883"))
		c, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:        mqttHost,
			Port:        port,
			User:        envOr("MQTT_USER", "guest"),
			Password:    envOr("MQTT_PASSWORD", "guest"),
			ClientID:    envOr("MQTT_CLIENTID", "pump-relay"),
			WillTopic:   stateTopic,
			WillPayload: `{"on":false,"source":"relay-offline"}`,
			Logger:      log,
		}, ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect")
		}
		client = c
		publisher = rabbitmq.NewPublisher(client, stateTopic, rabbitmq.WithRetained(true), rabbitmq.WithLogger(log))
	}

	handler := device.NewGrpcHandler(pin, publisher, maxOn, log)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", grpcAddr).Msg("listen")
	}
	grpcServer := grpc.NewServer()
	device.RegisterRelayServer(grpcServer, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", grpcAddr).Dur("max_on", maxOn).Msg("relay gRPC listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return handler.RunWatchdog(gctx, 10*time.Second)
	})
	if client != nil {
		consumer := rabbitmq.NewConsumer(client, setTopic, nil, log)
		g.Go(func() error {
			device.NewDeviceService(consumer, handler, log).Start(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("relay stopped")
	}
	if client != nil {
		rabbitmq.CloseRabbitMQConn(client)
	}
	log.Info().Msg("shutting down...")
}

// invertedPin adapts an active-low relay board to the handler's High=on view.
type invertedPin struct{ device.Pin }

func (p invertedPin) High() { p.Pin.Low() }
func (p invertedPin) Low()  { p.Pin.High() }
