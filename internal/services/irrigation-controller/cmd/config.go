package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig is the process wiring; the irrigation parameters live in CONFIG_PATH.
type ServiceConfig struct {
	ConfigPath   string
	TickInterval time.Duration
	HTTPPort     string
	Console      bool

	Reader       string // sim | mqtt
	Pump         string // sim | gpio | grpc | mqtt
	RelayAddr    string
	RelayGPIO    int
	ActiveLow    bool
	SimInitial   int
	SensorMaxAge time.Duration

	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	ClientID     string
	SensorTopic  string
	PumpSetTopic string
	CommandTopic string
	ReloadTopic  string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	KafkaBrokers []string
	KafkaTopic   string

	EventsURL      string
	EventQueueSize int
	CBFails        int
	CBOpenMs       int
	CBIntervalMs   int
	TimeoutMs      int
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			return dur
		}
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadConfig() ServiceConfig {
	return ServiceConfig{
		ConfigPath:   getenv("CONFIG_PATH", "/app/config/irrigation.json"),
		TickInterval: getenvDuration("TICK_INTERVAL", time.Second),
		HTTPPort:     getenv("PORT", "5009"),
		Console:      getenv("CONSOLE", "false") == "true",

		Reader:       strings.ToLower(getenv("SENSOR_READER", "sim")),
		Pump:         strings.ToLower(getenv("PUMP_DRIVER", "sim")),
		RelayAddr:    getenv("RELAY_GRPC_ADDR", "pump-relay:50051"),
		RelayGPIO:    getenvInt("RELAY_GPIO", 17),
		ActiveLow:    getenv("RELAY_ACTIVE_LOW", "false") == "true",
		SimInitial:   getenvInt("SIM_INITIAL_RAW", 2400),
		SensorMaxAge: getenvDuration("SENSOR_MAX_AGE", 2*time.Minute),

		MQTTHost:     getenv("MQTT_HOST", ""),
		MQTTPort:     getenvInt("MQTT_PORT", 1883),
		MQTTUser:     getenv("MQTT_USER", "guest"),
		MQTTPassword: getenv("MQTT_PASSWORD", "guest"),
		ClientID:     "irrigation-controller-" + getenv("HOSTNAME", "local"),
		SensorTopic:  getenv("SENSOR_TOPIC", "sensor/raw"),
		PumpSetTopic: getenv("PUMP_SET_TOPIC", "device/pump/set"),
		CommandTopic: getenv("COMMAND_TOPIC", "irrigation/command"),
		ReloadTopic:  getenv("RELOAD_TOPIC", "irrigation/config/reload"),

		InfluxURL:    getenv("INFLUX_URL", ""),
		InfluxToken:  getenv("INFLUX_TOKEN", ""),
		InfluxOrg:    getenv("INFLUX_ORG", "irrigation"),
		InfluxBucket: getenv("INFLUX_BUCKET", "events"),

		KafkaBrokers: splitList(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "irrigation.events"),

		EventsURL:      getenv("EVENT_URL", ""),
		EventQueueSize: getenvInt("EVENT_QUEUE_SIZE", 256),
		CBFails:        getenvInt("CB_FAILS", 3),
		CBOpenMs:       getenvInt("CB_OPEN_MS", 30000),
		CBIntervalMs:   getenvInt("CB_INTERVAL_MS", 60000),
		TimeoutMs:      getenvInt("TIMEOUT_MS", 3000),
	}
}
