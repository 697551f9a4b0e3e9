package pubsub

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPublisher publishes on the Redis channel named after the topic.
// Redis pub/sub keeps no history, which matches the no-replay contract.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a publisher bound to rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher { return &RedisPublisher{rdb: rdb} }

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.rdb.Publish(ctx, topic, payload).Err()
}

// RedisBridge relays every notification published through Redis, by any
// node, into the local Hub.
type RedisBridge struct {
	rdb *redis.Client
	hub *Hub
}

// NewRedisBridge returns a bridge from rdb to hub.
func NewRedisBridge(rdb *redis.Client, hub *Hub) *RedisBridge {
	return &RedisBridge{rdb: rdb, hub: hub}
}

// Patterns are the channel patterns the bridge listens on.
func (b *RedisBridge) Patterns() []string {
	return []string{PrefixNotifications + "/*", PrefixRoom + "/*", PrefixCalendar + "/*"}
}

// Run relays messages until ctx is cancelled.  It returns an error only
// when the subscription cannot be established or is closed underneath it.
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, b.Patterns()...)
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	log.Info().Str("module", "pubsub.redis").Strs("patterns", b.Patterns()).Msg("bridge subscribed")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis bridge: subscription closed")
			}
			_ = b.hub.Publish(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}
