// Package progress carries live detection updates from workers to the
// admin SSE stream over a redis pub/sub channel, so every gateway
// replica sees every worker's results.
package progress

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Channel is the redis pub/sub channel carrying progress events.
const Channel = "detection:progress"

// Event kinds emitted on the stream.
const (
	KindConnected = "connected"
	KindProgress  = "progress"
	KindHeartbeat = "heartbeat"
	KindError     = "error"
)

// Event is one SSE frame payload. Progress events carry the probe
// outcome fields; connected/heartbeat events carry only the kind.
type Event struct {
	Kind            string `json:"type"`
	ChannelID       uint64 `json:"channelId,omitempty"`
	ModelID         uint64 `json:"modelId,omitempty"`
	ModelName       string `json:"modelName,omitempty"`
	Status          string `json:"status,omitempty"`
	LatencyMs       int64  `json:"latency,omitempty"`
	EndpointType    string `json:"endpointType,omitempty"`
	IsModelComplete bool   `json:"isModelComplete,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Encode serializes the event for publication and SSE emission.
func (e Event) Encode() []byte {
	raw, _ := json.Marshal(e)
	return raw
}

// DecodeEvent parses a published payload back into an Event.
func DecodeEvent(raw string) (Event, error) {
	var e Event
	err := json.Unmarshal([]byte(raw), &e)
	return e, err
}

// Bus publishes and subscribes progress events.
type Bus struct {
	rdb *redis.Client
}

// NewBus constructs a Bus on the given redis client.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish broadcasts one event. Publish failures are logged and
// swallowed: a lost progress frame must never fail a probe.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if err := b.rdb.Publish(ctx, Channel, event.Encode()).Err(); err != nil {
		log.WithError(err).Debug("progress publish failed")
	}
}

// Subscribe returns a channel of decoded events. The channel closes
// when ctx is cancelled. Malformed payloads are skipped.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	sub := b.rdb.Subscribe(ctx, Channel)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := DecodeEvent(msg.Payload)
				if err != nil {
					log.WithError(err).Debug("progress decode failed")
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
