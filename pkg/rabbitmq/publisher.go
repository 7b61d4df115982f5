package rabbitmq

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// IPublisher publishes on a fixed topic.
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

// ITopicPublisher publishes on a topic chosen per message.
type ITopicPublisher interface {
	PublishTo(topic string, message interface{}) error
}

// Publisher holds the client and the default topic.
type Publisher struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
	log      zerolog.Logger
}

type PublisherOption func(*Publisher)

func WithQoS(qos byte) PublisherOption            { return func(p *Publisher) { p.qos = qos } }
func WithRetained(r bool) PublisherOption         { return func(p *Publisher) { p.retained = r } }
func WithLogger(l zerolog.Logger) PublisherOption { return func(p *Publisher) { p.log = l } }

func NewPublisher(client mqtt.Client, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: client,
		topic:  topic,
		qos:    qosFor(topic),
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PublishMessage publishes to the default topic.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishTo(p.topic, message)
}

// PublishTo accepts string, []byte or any JSON-serialisable value.
func (p *Publisher) PublishTo(topic string, message interface{}) error {
	payload, err := encode(message)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, p.qos, p.retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message on %s: %w", topic, token.Error())
	}
	p.log.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("mqtt: published")
	return nil
}

// Close disconnects the shared client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info().Msg("mqtt: client disconnected")
	}
}

func encode(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	case nil:
		return nil, fmt.Errorf("invalid message: nil")
	}
	b, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}
	return b, nil
}
