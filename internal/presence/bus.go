package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus is the broadcast channel between a room and its members. The
// coordinator only needs "publish to room" and "deliver to every
// subscriber of that room" semantics.
type Bus interface {
	Publish(ctx context.Context, reportID string, payload []byte) error
	Subscribe(reportID string) (<-chan []byte, func())
	Close() error
}

// RedisBus implements Bus on Redis pub/sub, one channel per room. Running
// the bus through Redis keeps rosters consistent when more than one API
// instance serves websocket connections for the same report.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBus{client: client, prefix: "presence:"}, nil
}

// NewRedisBusWithClient creates a bus from an existing Redis client.
func NewRedisBusWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, prefix: "presence:"}
}

func (b *RedisBus) channel(reportID string) string {
	return b.prefix + reportID
}

// Publish sends a roster payload to every subscriber of the room.
func (b *RedisBus) Publish(ctx context.Context, reportID string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(reportID), payload).Err(); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

// Subscribe starts listening on the room's channel. The returned stop
// function tears the subscription down and closes the channel.
func (b *RedisBus) Subscribe(reportID string) (<-chan []byte, func()) {
	sub := b.client.Subscribe(context.Background(), b.channel(reportID))
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				// A slow room reader sees a stale roster until the next
				// successful delivery; dropping here never blocks the bus.
			}
		}
	}()

	stop := func() { _ = sub.Close() }
	return out, stop
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Ping checks if Redis is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
