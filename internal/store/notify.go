package store

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// stateChangesChannel is the Redis pub/sub channel a RedisNotifier
// publishes state_changes keys on, and the channel ChangeSubscriber
// subscribes to in other Aegis-adjacent processes.
const stateChangesChannel = "aegis:state_changes"

// RedisNotifier publishes state_changes keys to Redis so other
// Aegis-adjacent processes (a future multi-profile deployment sharing one
// State Store's Redis) can refresh faster than their poll interval.
// Grounded on internal/session/redis_store.go's PublishKill.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier wraps an already-connected Redis client as a Notifier.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish broadcasts key on the shared state-changes channel. Errors are
// logged, not returned: a missed publish just means the next poll tick
// catches the change instead.
func (n *RedisNotifier) Publish(key string) {
	if err := n.client.Publish(context.Background(), stateChangesChannel, key).Err(); err != nil {
		slog.Warn("state store: redis publish failed, relying on poll fallback", "key", key, "error", err)
	}
}

// ChangeSubscriber wakes a poller early when Redis announces a
// state_changes key, instead of waiting for the next poll tick.
// Grounded on internal/session/redis_store.go's listenForKillSignals.
type ChangeSubscriber struct {
	pubsub *redis.PubSub
}

// NewChangeSubscriber subscribes to the shared state-changes channel.
func NewChangeSubscriber(client *redis.Client) *ChangeSubscriber {
	return &ChangeSubscriber{pubsub: client.Subscribe(context.Background(), stateChangesChannel)}
}

// Listen calls onKey for every key published until ctx is done or the
// subscription's channel closes.
func (c *ChangeSubscriber) Listen(ctx context.Context, onKey func(key string)) {
	ch := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			onKey(msg.Payload)
		}
	}
}

// Close closes the underlying subscription.
func (c *ChangeSubscriber) Close() error {
	return c.pubsub.Close()
}
