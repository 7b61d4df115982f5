package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

// DataAggregatorService smooths the raw ADC stream: samples arriving on sensor/raw
// are buffered per channel and their mean is published once per interval.
type DataAggregatorService struct {
	consumer            rabbitmq.IConsumer
	publisher           rabbitmq.IPublisher
	buffer              [][]int // buffer[channel] = samples since last publish
	pumpOn              bool
	mutex               sync.Mutex
	aggregationInterval time.Duration
	now                 func() time.Time
	log                 zerolog.Logger
}

func NewDataAggregatorService(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, aggregationInterval time.Duration, log zerolog.Logger) *DataAggregatorService {
	return &DataAggregatorService{
		consumer:            consumer,
		publisher:           publisher,
		aggregationInterval: aggregationInterval,
		now:                 time.Now,
		log:                 log,
	}
}

func (d *DataAggregatorService) messageHandler(_ string, message mqtt.Message) error {
	var ev messages.RawReadingsEvent
	if err := json.Unmarshal(message.Payload(), &ev); err != nil {
		d.log.Warn().Err(err).Msg("aggregator: invalid sample")
		return err
	}
	return d.add(ev)
}

func (d *DataAggregatorService) add(ev messages.RawReadingsEvent) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.buffer == nil {
		d.buffer = make([][]int, len(ev.Values))
	}
	if len(ev.Values) != len(d.buffer) {
		return fmt.Errorf("aggregator: sample has %d channels, want %d", len(ev.Values), len(d.buffer))
	}
	for ch, v := range ev.Values {
		d.buffer[ch] = append(d.buffer[ch], v)
	}
	d.pumpOn = ev.PumpOn
	return nil
}

func (d *DataAggregatorService) Start(ctx context.Context) {
	d.consumer.SetHandler(d.messageHandler)

	// il consumer blocca: va in goroutine, altrimenti il ticker non parte mai
	go d.consumer.ConsumeMessage(ctx)

	ticker := time.NewTicker(d.aggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ev, ok := d.aggregate(); ok {
				if err := d.publisher.PublishMessage(ev); err != nil {
					d.log.Error().Err(err).Msg("aggregator: publish failed")
				}
			}
		}
	}
}

// aggregate returns the per-channel mean and resets the buffer. A channel with no
// new samples keeps the whole window back (ok=false) so the controller never sees
// a partial array.
func (d *DataAggregatorService) aggregate() (messages.RawReadingsEvent, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.buffer) == 0 {
		return messages.RawReadingsEvent{}, false
	}
	out := messages.RawReadingsEvent{
		Values:    make([]int, len(d.buffer)),
		PumpOn:    d.pumpOn,
		Timestamp: d.now().UTC(),
	}
	for ch, samples := range d.buffer {
		if len(samples) == 0 {
			return messages.RawReadingsEvent{}, false
		}
		sum := 0
		for _, v := range samples {
			sum += v
		}
		out.Values[ch] = (sum + len(samples)/2) / len(samples)
	}
	for ch := range d.buffer {
		d.buffer[ch] = d.buffer[ch][:0]
	}
	d.log.Debug().Ints("values", out.Values).Msg("aggregator: window closed")
	return out, true
}
