package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Handler processes one delivery; the error is only logged.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches until the context is cancelled.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer holds the client and topic for subscribing
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	log     zerolog.Logger
}

func NewConsumer(client mqtt.Client, topic string, handler Handler, log zerolog.Logger) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		handler: handler,
		log:     log,
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// commands and actuator state must not be lost; telemetry may be
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "irrigation/command") ||
		strings.HasPrefix(t, "irrigation/config") ||
		strings.HasPrefix(t, "irrigation/events") ||
		strings.HasPrefix(t, "device/pump") {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes to the topic and blocks until the context is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	subscribe(ctx, c.client, []string{c.topic}, func() Handler { return c.handler }, c.log)
}

// MultiConsumer -------------------------- [] ---------------------- [] ---------------------
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	log     zerolog.Logger
}

func NewMultiConsumer(client mqtt.Client, topics []string, handler Handler, log zerolog.Logger) *MultiConsumer {
	return &MultiConsumer{
		client:  client,
		topics:  topics,
		handler: handler,
		log:     log,
	}
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	subscribe(ctx, m.client, m.topics, func() Handler { return m.handler }, m.log)
}

func subscribe(ctx context.Context, client mqtt.Client, topics []string, handler func() Handler, log zerolog.Logger) {
	for _, topic := range topics {
		topic := topic
		token := client.Subscribe(topic, qosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			h := handler()
			if h == nil {
				log.Warn().Str("topic", topic).Msg("mqtt: no handler set")
				return
			}
			if err := h(msg.Topic(), msg); err != nil {
				log.Error().Err(err).Str("topic", msg.Topic()).Msg("mqtt: handler failed")
			}
		})
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt: subscribe failed")
			continue
		}
		log.Info().Str("topic", topic).Msg("mqtt: subscribed")
	}

	<-ctx.Done()

	for _, topic := range topics {
		client.Unsubscribe(topic).Wait()
	}
}
