package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
	msg "github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

// Event types; also the last segment of the MQTT topic irrigation/events/{type}.
const (
	TypeStateChange         = "state_change"
	TypeDiagnostic          = "diagnostic"
	TypeIrrigationCompleted = "irrigation_completed"
	TypeReadings            = "readings"

	TopicPrefix = "irrigation/events/"
)

type CommonEvent struct {
	EventType     string // state_change | diagnostic | irrigation_completed | readings
	SourceService string
	Severity      string // info|warning|error
	Tags          map[string]string
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// Record is what the dispatcher hands to backends: the normalized event plus the
// original message, which MQTT and Kafka forward unchanged.
type Record struct {
	Event   CommonEvent
	Payload interface{}
}

func TopicFor(eventType string) string { return TopicPrefix + eventType }

func FromStateChange(s msg.StateChangeEvent) CommonEvent {
	sev := msg.SeverityInfo
	if s.To == entities.StateSystemFault {
		sev = msg.SeverityError
	}
	return CommonEvent{
		EventType:     TypeStateChange,
		SourceService: "irrigation-controller",
		Severity:      sev,
		Tags:          map[string]string{"from": string(s.From), "to": string(s.To)},
		Fields: map[string]interface{}{
			"reason":  s.Reason,
			"pump_on": s.PumpOn,
		},
		Timestamp: s.Timestamp,
	}
}

func FromDiagnostic(d msg.DiagnosticEvent) CommonEvent {
	tags := map[string]string{"kind": d.Kind}
	if d.SensorID >= 0 {
		tags["sensor_id"] = fmt.Sprint(d.SensorID)
	}
	return CommonEvent{
		EventType:     TypeDiagnostic,
		SourceService: "irrigation-controller",
		Severity:      d.Severity,
		Tags:          tags,
		Fields: map[string]interface{}{
			"value":   d.Value,
			"fatal":   d.Fatal,
			"message": d.Message,
		},
		Timestamp: d.Timestamp,
	}
}

func FromIrrigationCompleted(c msg.IrrigationCompletedEvent) CommonEvent {
	return CommonEvent{
		EventType:     TypeIrrigationCompleted,
		SourceService: "irrigation-controller",
		Severity:      msg.SeverityInfo,
		Fields: map[string]interface{}{
			"cycle_id":             c.CycleID,
			"duration_sec":         c.DurationSec,
			"volume_l":             c.VolumeLiters,
			"time_to_wet_sec":      c.TimeToWetSec,
			"time_to_dry_sec":      c.TimeToDrySec,
			"trigger_cluster_size": int64(c.TriggerClusterSize),
			"checks":               int64(c.Checks),
		},
		Timestamp: c.StoppedAt,
	}
}

func FromReadings(r msg.ReadingsSnapshot) CommonEvent {
	dry := 0
	for _, s := range r.Sensors {
		if s.IsDry {
			dry++
		}
	}
	return CommonEvent{
		EventType:     TypeReadings,
		SourceService: "irrigation-controller",
		Severity:      msg.SeverityInfo,
		Tags:          map[string]string{"state": string(r.State)},
		Fields: map[string]interface{}{
			"sensors":         int64(len(r.Sensors)),
			"dry_sensors":     int64(dry),
			"largest_cluster": int64(r.LargestCluster),
		},
		Timestamp: r.Timestamp,
	}
}

// MQTTHandler trasforma i messaggi irrigation/events/# in Record e li passa al sink.
type MQTTHandler struct{ sink func(Record) }

func NewMQTTHandler(sink func(Record)) *MQTTHandler { return &MQTTHandler{sink: sink} }

func (h *MQTTHandler) Handle(_ string, m mqtt.Message) error {
	rec, ok, err := Decode(m.Topic(), m.Payload())
	if err != nil || !ok {
		return err
	}
	if h.sink != nil {
		h.sink(rec)
	}
	return nil
}

// Decode maps a payload published on irrigation/events/{type} back to a Record.
// ok is false for topics outside that tree.
func Decode(topic string, payload []byte) (Record, bool, error) {
	if !strings.HasPrefix(topic, TopicPrefix) {
		return Record{}, false, nil
	}
	switch strings.TrimPrefix(topic, TopicPrefix) {
	case TypeStateChange:
		var s msg.StateChangeEvent
		if err := json.Unmarshal(payload, &s); err != nil {
			return Record{}, false, fmt.Errorf("state_change: %w", err)
		}
		return Record{Event: FromStateChange(s), Payload: s}, true, nil
	case TypeDiagnostic:
		var d msg.DiagnosticEvent
		if err := json.Unmarshal(payload, &d); err != nil {
			return Record{}, false, fmt.Errorf("diagnostic: %w", err)
		}
		return Record{Event: FromDiagnostic(d), Payload: d}, true, nil
	case TypeIrrigationCompleted:
		var c msg.IrrigationCompletedEvent
		if err := json.Unmarshal(payload, &c); err != nil {
			return Record{}, false, fmt.Errorf("irrigation_completed: %w", err)
		}
		if c.CycleID == "" {
			return Record{}, false, fmt.Errorf("irrigation_completed: missing cycle_id")
		}
		return Record{Event: FromIrrigationCompleted(c), Payload: c}, true, nil
	case TypeReadings:
		var r msg.ReadingsSnapshot
		if err := json.Unmarshal(payload, &r); err != nil {
			return Record{}, false, fmt.Errorf("readings: %w", err)
		}
		return Record{Event: FromReadings(r), Payload: r}, true, nil
	}
	return Record{}, false, nil // ignora altri topic
}
