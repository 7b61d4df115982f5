package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	sensorSimulator "github.com/LeonardoBeccarini/spatial_irrigation/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/services/device"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/services/event"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/services/gateway/app"
	controller "github.com/LeonardoBeccarini/spatial_irrigation/internal/services/irrigation-controller"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

func main() {
	sc := loadConfig()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "irrigation-controller").Logger()

	cfg, warnings, err := config.Load(sc.ConfigPath)
	if err != nil {
		log.Warn().Err(err).Str("path", sc.ConfigPath).Msg("config: using built-in defaults")
		cfg = config.Default()
		config.ApplyEnv(&cfg)
		cfg, warnings = config.Validate(cfg)
	}
	for _, w := range warnings {
		log.Warn().Str("warning", w).Msg("config: fallback")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- MQTT (opzionale) ----
	var client mqtt.Client
	if sc.MQTTHost != "" {
		client, err = rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:     sc.MQTTHost,
			Port:     sc.MQTTPort,
			User:     sc.MQTTUser,
			Password: sc.MQTTPassword,
			ClientID: sc.ClientID,
			Logger:   log,
		}, ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect")
		}
		defer rabbitmq.CloseRabbitMQConn(client)
	} else if sc.Reader == "mqtt" || sc.Pump == "mqtt" {
		log.Fatal().Msg("MQTT_HOST is required for the mqtt reader or pump driver")
	}

	g, gctx := errgroup.WithContext(ctx)

	// ---- Sensor reader ----
	n := len(cfg.Layout)
	var (
		hw    sensorSimulator.HardwareReader
		field *sensorSimulator.SimulatedField
	)
	switch sc.Reader {
	case "mqtt":
		mr := sensorSimulator.NewMQTTReader(n, sc.SensorMaxAge, log)
		sensors := rabbitmq.NewConsumer(client, sc.SensorTopic, mr.Handle, log)
		g.Go(func() error {
			sensors.ConsumeMessage(gctx)
			return nil
		})
		log.Info().Str("topic", sc.SensorTopic).Msg("waiting for the first sensor sample")
		if err := mr.WaitReady(ctx); err != nil {
			log.Fatal().Err(err).Msg("no sensor data")
		}
		hw = mr
	default:
		field = sensorSimulator.NewSimulatedField(n, sc.SimInitial, nil)
		hw = field
	}
	reader := sensorSimulator.NewOverrideReader(hw, log)

	// ---- Pump driver ----
	var pump controller.PumpOutput
	switch sc.Pump {
	case "gpio":
		pin, closeGPIO, err := device.OpenGPIO(sc.RelayGPIO)
		if err != nil {
			log.Fatal().Err(err).Msg("gpio")
		}
		defer func() { _ = closeGPIO() }()
		pump = device.NewGPIOPump(pin, sc.ActiveLow)
	case "grpc":
		relay, err := device.DialRelay(sc.RelayAddr, time.Duration(sc.TimeoutMs)*time.Millisecond, log)
		if err != nil {
			log.Fatal().Err(err).Msg("relay")
		}
		defer func() { _ = relay.Close() }()
		pump = relay
	case "mqtt":
		pump = device.NewMQTTPump(rabbitmq.NewPublisher(client, sc.PumpSetTopic, rabbitmq.WithLogger(log)))
	default:
		if field == nil {
			log.Warn().Msg("sim pump needs the sim reader; using an in-memory relay")
			pump = device.NewGPIOPump(&device.MemPin{}, false)
		} else {
			pump = field
		}
	}

	// ---- Report sink ----
	var backends []event.Backend
	extra := map[string]http.Handler{}
	if client != nil {
		backends = append(backends, event.NewMQTTBackend(
			rabbitmq.NewPublisher(client, event.TopicPrefix, rabbitmq.WithLogger(log))))
	}
	if sc.InfluxURL != "" {
		influx := influxdb2.NewClient(sc.InfluxURL, sc.InfluxToken)
		defer influx.Close()
		backends = append(backends, event.NewInfluxBackend(influx.WriteAPIBlocking(sc.InfluxOrg, sc.InfluxBucket)))
		extra["/events/irrigation/latest"] = event.NewIrrigationLatestHandler(influx.QueryAPI(sc.InfluxOrg), sc.InfluxBucket)
	}
	if len(sc.KafkaBrokers) > 0 {
		kb := event.NewKafkaBackend(event.NewKafkaWriter(sc.KafkaBrokers, sc.KafkaTopic))
		defer func() { _ = kb.Close() }()
		backends = append(backends, kb)
	}
	dispatcher := event.NewDispatcher(sc.EventQueueSize, event.BreakerSettings{
		Fails:    sc.CBFails,
		Open:     time.Duration(sc.CBOpenMs) * time.Millisecond,
		Interval: time.Duration(sc.CBIntervalMs) * time.Millisecond,
	}, log, backends...)
	extra["/events/healthz"] = event.NewHealthHandler(client, dispatcher)

	// ---- Controller ----
	ctrl := controller.NewController(cfg, reader, pump, dispatcher, controller.SystemClock{}, log)
	runner := controller.NewRunner(ctrl, sc.TickInterval, log)
	reload := controller.FileReloader(sc.ConfigPath)

	gw := app.NewGateway(app.Config{
		EventsBaseURL:   sc.EventsURL,
		HTTPTimeout:     time.Duration(sc.TimeoutMs) * time.Millisecond,
		BreakerFailures: sc.CBFails,
		BreakerOpenFor:  time.Duration(sc.CBOpenMs) * time.Millisecond,
		ConfigPath:      sc.ConfigPath,
		Logger:          log,
	}, runner)
	hs := &http.Server{
		Addr:              ":" + sc.HTTPPort,
		Handler:           gw.Router(extra),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("port", sc.HTTPPort).Msg("gateway listening")
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
	if client != nil {
		cmds := controller.NewMQTTCommands(runner, sc.CommandTopic, sc.ReloadTopic, reload, log)
		consumer := rabbitmq.NewMultiConsumer(client, cmds.Topics(), cmds.Handle, log)
		g.Go(func() error {
			consumer.ConsumeMessage(gctx)
			return nil
		})
	}

	// SIGHUP -> reload
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				next, warns, err := reload(nil)
				if err != nil {
					log.Error().Err(err).Msg("SIGHUP reload failed")
					continue
				}
				for _, w := range warns {
					log.Warn().Str("warning", w).Msg("config: fallback")
				}
				runner.Reload(next)
				log.Info().Msg("SIGHUP: config reload queued")
			}
		}
	})

	// la console non blocca lo shutdown: Scan su stdin non è interrompibile
	if sc.Console {
		go func() {
			if err := runner.RunConsole(gctx, os.Stdin, os.Stdout); err != nil {
				log.Warn().Err(err).Msg("console closed")
			}
		}()
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("controller stopped with error")
	}
	log.Info().Msg("shutting down...")
}
