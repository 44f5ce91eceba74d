package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes alerts as JSON on a Redis channel named after the
// alert type, for dashboards and other services to pick up.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a publisher on rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Alert(ctx context.Context, a Alert) {
	event, err := json.Marshal(a)
	if err != nil {
		slog.Warn("marshal alert failed", "type", a.Type, "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, a.Type, event).Err(); err != nil {
		slog.Warn("publish alert failed", "type", a.Type, "err", err)
	}
}
