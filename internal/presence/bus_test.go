package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisBusRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	bus, err := NewRedisBus("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer bus.Close()

	ch, stop := bus.Subscribe("r1")
	defer stop()

	if err := bus.Publish(context.Background(), "r1", []byte(`["hello"]`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case payload := <-ch:
		if string(payload) != `["hello"]` {
			t.Errorf("unexpected payload: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
}

func TestRedisBusRoomsAreSeparate(t *testing.T) {
	s := miniredis.RunT(t)
	bus, err := NewRedisBus("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer bus.Close()

	r1, stop1 := bus.Subscribe("r1")
	defer stop1()
	r2, stop2 := bus.Subscribe("r2")
	defer stop2()

	if err := bus.Publish(context.Background(), "r2", []byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-r2:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for r2 payload")
	}
	select {
	case payload := <-r1:
		t.Errorf("r1 must not receive r2 traffic, got %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusBadURL(t *testing.T) {
	if _, err := NewRedisBus("not-a-url"); err == nil {
		t.Error("expected error for malformed redis url")
	}
}
