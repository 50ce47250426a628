package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier pushes run events onto a redis list consumed by the
// external notification subsystem.
type RedisNotifier struct {
	client *redis.Client
	key    string
}

func NewRedisNotifier(client *redis.Client, key string) *RedisNotifier {
	if key == "" {
		key = "imports:events"
	}
	return &RedisNotifier{client: client, key: key}
}

func (n *RedisNotifier) Notify(ctx context.Context, event RunEvent) error {
	if n.client == nil {
		return errors.New("redis client is nil")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}

	if err := n.client.LPush(ctx, n.key, data).Err(); err != nil {
		return fmt.Errorf("push run event: %w", err)
	}
	return nil
}
