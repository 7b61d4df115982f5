package dedup

import (
	"testing"
	"time"
)

func TestShouldProcessWithinTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10).WithClock(func() time.Time { return now })

	key := PayloadKey([]byte("STATE:IRRIGATING"))
	if !d.ShouldProcess(key) {
		t.Fatalf("first delivery dropped")
	}
	if d.ShouldProcess(key) {
		t.Fatalf("redelivery within ttl processed")
	}
	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess(key) {
		t.Fatalf("delivery after ttl dropped")
	}
}

func TestEmptyIDAlwaysProcessed(t *testing.T) {
	d := New(time.Minute, 10)
	if !d.ShouldProcess("") || !d.ShouldProcess("") {
		t.Fatalf("empty id must not be deduplicated")
	}
}

func TestEvictsExpiredWhenFull(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	d := New(time.Second, 2).WithClock(func() time.Time { return now })
	d.ShouldProcess("a")
	d.ShouldProcess("b")
	now = now.Add(time.Minute)
	d.ShouldProcess("c")
	if d.Len() > 2 {
		t.Fatalf("len = %d, expired entries not evicted", d.Len())
	}
}

func TestPayloadKeyStable(t *testing.T) {
	if PayloadKey([]byte("x")) != PayloadKey([]byte("x")) {
		t.Fatalf("key not deterministic")
	}
	if PayloadKey([]byte("x")) == PayloadKey([]byte("y")) {
		t.Fatalf("different payloads share a key")
	}
}
