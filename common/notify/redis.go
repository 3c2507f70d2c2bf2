package notify

import (
	"context"
	"encoding/json"

	"github.com/lyzr/toolcrib/common/redis"
)

// RedisNotifier publishes notifications on a Redis pub/sub channel
type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     Logger
}

// NewRedisNotifier creates a Redis PUBLISH notifier
func NewRedisNotifier(client *redis.Client, channel string, log Logger) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, log: log}
}

// Notify publishes the event as JSON
func (n *RedisNotifier) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	body, err := json.Marshal(newEvent(kind, payload))
	if err != nil {
		n.log.Error("failed to encode notification", "kind", kind, "error", err)
		return
	}
	if err := n.client.PublishEvent(ctx, n.channel, string(body)); err != nil {
		n.log.Warn("notification not delivered", "kind", kind, "channel", n.channel, "error", err)
	}
}
