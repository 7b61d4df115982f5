package rabbitmq

import (
	"testing"
)

func TestQoSFor(t *testing.T) {
	cases := map[string]byte{
		"irrigation/command":             1,
		"irrigation/config/reload":       1,
		"irrigation/events/state_change": 1,
		"device/pump/state":              1,
		"sensor/raw":                     0,
		"  irrigation/command ":          1,
	}
	for topic, want := range cases {
		if got := qosFor(topic); got != want {
			t.Fatalf("qosFor(%q) = %d, want %d", topic, got, want)
		}
	}
}

func TestEncode(t *testing.T) {
	b, err := encode("RESET")
	if err != nil || string(b) != "RESET" {
		t.Fatalf("string: %q %v", b, err)
	}
	b, err = encode([]byte{1, 2})
	if err != nil || len(b) != 2 {
		t.Fatalf("bytes: %v %v", b, err)
	}
	b, err = encode(struct {
		On bool `json:"on"`
	}{On: true})
	if err != nil || string(b) != `{"on":true}` {
		t.Fatalf("json: %s %v", b, err)
	}
	if _, err := encode(nil); err == nil {
		t.Fatalf("nil payload accepted")
	}
	if _, err := encode(make(chan int)); err == nil {
		t.Fatalf("unserialisable payload accepted")
	}
}

func TestAddr(t *testing.T) {
	cfg := &RabbitMQConfig{Host: "broker", Port: 1883}
	if cfg.Addr() != "tcp://broker:1883" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
}
