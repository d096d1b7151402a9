package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Topics consumed by the real-time layer.
const (
	TopicMessageReceived = "message:received"
	TopicSessionState    = "session:state"
)

// Publisher is a fire-and-forget event sink. Implementations must not let
// delivery failures propagate to callers beyond the returned error; the
// pipeline logs and moves on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Compile-time checks
var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*NopPublisher)(nil)
)

// RedisPublisher publishes JSON payloads on Redis pub/sub channels.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, topic, b).Err()
}

// NopPublisher discards events, for deployments without a real-time layer.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic string, payload any) error {
	slog.DebugContext(ctx, "event discarded (no publisher configured)", slog.String("topic", topic))
	return nil
}
