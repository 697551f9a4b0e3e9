package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/pubsub"
)

// StartNotificationConsumer connects to RabbitMQ, binds a private queue to
// every routing key of the notification exchange and forwards each message
// to the local hub, so clients connected to this node receive
// notifications published by any node.  The queue is exclusive and
// auto-deleted: nothing is kept while the node is away.  The function runs
// a reconnect loop and returns only when ctx is cancelled.
func StartNotificationConsumer(ctx context.Context, url, exchange string, hub *pubsub.Hub) error {
	if exchange == "" {
		exchange = DefaultExchange
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Str("module", "queue.consumer").Dur("retry_in", backoff).Msg("failed to dial broker")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, exchange, hub)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("module", "queue.consumer").Msg("consume loop ended, reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, exchange string, hub *pubsub.Hub) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn().Err(err).Str("module", "queue.consumer").Msg("set QoS failed")
	}
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info().Str("module", "queue.consumer").Str("queue", q.Name).Str("exchange", exchange).Msg("consuming notifications")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			_ = hub.Publish(ctx, deliveryTopic(d), d.Body)
			_ = d.Ack(false)
		}
	}
}

// deliveryTopic prefers the explicit topic header and falls back to the
// routing key.
func deliveryTopic(d amqp.Delivery) string {
	if t, ok := d.Headers["topic"].(string); ok && t != "" {
		return t
	}
	return TopicFromRoutingKey(d.RoutingKey)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
