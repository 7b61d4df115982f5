package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/LeonardoBeccarini/spatial_irrigation/pkg/rabbitmq"
)

// ===================== gRPC relay client =====================

// GRPCPump drives a remote relay device.
type GRPCPump struct {
	mu      sync.Mutex
	conn    *grpc.ClientConn
	timeout time.Duration
	source  string
	on      bool
	log     zerolog.Logger
}

// DialRelay creates the client connection; it connects lazily.
func DialRelay(addr string, timeout time.Duration, log zerolog.Logger, opts ...grpc.DialOption) (*GRPCPump, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &GRPCPump{conn: conn, timeout: timeout, source: "controller", log: log}, nil
}

func (p *GRPCPump) SetPump(on bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var reply PumpReply
	if err := p.conn.Invoke(ctx, SetPumpMethod, &SetPumpRequest{On: on, Source: p.source}, &reply); err != nil {
		return fmt.Errorf("relay SetPump(%v): %w", on, err)
	}
	if reply.On != on {
		return fmt.Errorf("relay acknowledged on=%v, wanted %v", reply.On, on)
	}
	p.mu.Lock()
	p.on = reply.On
	p.mu.Unlock()
	return nil
}

// State asks the relay for its current output.
func (p *GRPCPump) State(ctx context.Context) (PumpReply, error) {
	var reply PumpReply
	if err := p.conn.Invoke(ctx, GetPumpMethod, &GetPumpRequest{}, &reply); err != nil {
		return PumpReply{}, fmt.Errorf("relay GetPump: %w", err)
	}
	return reply, nil
}

func (p *GRPCPump) PumpOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

func (p *GRPCPump) Close() error { return p.conn.Close() }

// ===================== MQTT =====================

// MQTTPump sends SetPumpRequest on the relay command topic (QoS1). The request id
// keeps consecutive identical commands distinct for the relay's de-duplication.
type MQTTPump struct {
	publisher rabbitmq.IPublisher
	source    string
	mu        sync.Mutex
	on        bool
}

type mqttPumpCommand struct {
	SetPumpRequest
	RequestID string `json:"request_id"`
}

func NewMQTTPump(publisher rabbitmq.IPublisher) *MQTTPump {
	return &MQTTPump{publisher: publisher, source: "controller"}
}

func (p *MQTTPump) SetPump(on bool) error {
	cmd := mqttPumpCommand{
		SetPumpRequest: SetPumpRequest{On: on, Source: p.source},
		RequestID:      uuid.NewString(),
	}
	if err := p.publisher.PublishMessage(cmd); err != nil {
		return fmt.Errorf("publish pump command: %w", err)
	}
	p.mu.Lock()
	p.on = on
	p.mu.Unlock()
	return nil
}

func (p *MQTTPump) PumpOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}
