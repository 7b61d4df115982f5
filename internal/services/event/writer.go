package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/segmentio/kafka-go"

	msg "github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

// Backend is one destination of the dispatcher.
type Backend interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// ===================== InfluxDB =====================

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxBackend struct {
	api PointWriter
}

func NewInfluxBackend(w PointWriter) *InfluxBackend { return &InfluxBackend{api: w} }

func (b *InfluxBackend) Name() string { return "influx" }

// Write stores the event in system_event; readings additionally go to soil_moisture,
// one point per sensor.
func (b *InfluxBackend) Write(ctx context.Context, rec Record) error {
	points := []*write.Point{EventToPoint(rec.Event)}
	if snap, ok := rec.Payload.(msg.ReadingsSnapshot); ok {
		points = append(points, ReadingsToPoints(snap)...)
	}
	if err := b.api.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %s: %w", rec.Event.EventType, err)
	}
	return nil
}

// ===================== MQTT =====================

type MQTTBackend struct {
	publisher rabbitmq.ITopicPublisher
}

func NewMQTTBackend(p rabbitmq.ITopicPublisher) *MQTTBackend { return &MQTTBackend{publisher: p} }

func (b *MQTTBackend) Name() string { return "mqtt" }

func (b *MQTTBackend) Write(_ context.Context, rec Record) error {
	return b.publisher.PublishTo(TopicFor(rec.Event.EventType), rec.Payload)
}

// ===================== Kafka =====================

// KafkaWriter is the part of *kafka.Writer the backend needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
}

type KafkaBackend struct {
	w KafkaWriter
}

func NewKafkaBackend(w KafkaWriter) *KafkaBackend { return &KafkaBackend{w: w} }

func (b *KafkaBackend) Name() string { return "kafka" }

// Write keys every message by event type so each type keeps its order on one partition.
func (b *KafkaBackend) Write(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("kafka encode %s: %w", rec.Event.EventType, err)
	}
	return b.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Event.EventType),
		Value: value,
		Time:  rec.Event.Timestamp,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(rec.Event.Severity)},
			{Key: "source", Value: []byte(rec.Event.SourceService)},
		},
	})
}

func (b *KafkaBackend) Close() error { return b.w.Close() }
