package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBus_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(rdb)
	events := bus.Subscribe(ctx)

	// Give the subscriber a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	sent := Event{
		Kind:            KindProgress,
		ChannelID:       3,
		ModelID:         7,
		ModelName:       "gpt-4o",
		Status:          "SUCCESS",
		LatencyMs:       120,
		EndpointType:    "CHAT",
		IsModelComplete: true,
	}
	bus.Publish(ctx, sent)

	select {
	case got := <-events:
		if got != sent {
			t.Fatalf("expected %+v, got %+v", sent, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestBus_SubscribeClosesOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := NewBus(rdb).Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel did not close after cancel")
	}
}

func TestEvent_EncodeOmitsEmptyFields(t *testing.T) {
	raw := string(Event{Kind: KindHeartbeat}.Encode())
	if raw != `{"type":"heartbeat"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}
