package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DefaultExchange is the topic exchange notifications are routed through.
const DefaultExchange = "plun.notifications"

// RoutingKey converts a pub/sub topic ("room/42") into an AMQP routing key
// ("room.42").
func RoutingKey(topic string) string { return strings.ReplaceAll(topic, "/", ".") }

// TopicFromRoutingKey is the inverse of RoutingKey.
func TopicFromRoutingKey(key string) string { return strings.ReplaceAll(key, ".", "/") }

// Publisher publishes notifications to a RabbitMQ topic exchange.  The
// connection is dialled on first use and re-dialled after a failure.
// Messages are transient: subscribers that are not bound when a message is
// routed never see it.
type Publisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{url: url, exchange: exchange}
}

// Publish implements pubsub.Publisher.  Errors are logged and returned so
// the caller can choose to ignore them.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		log.Warn().Err(err).Str("module", "queue.publisher").Msg("rabbitmq: channel unavailable")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"topic": topic},
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx,
		p.exchange,        // topic exchange
		RoutingKey(topic), // routing key
		false,             // mandatory
		false,             // immediate
		pub,
	); err != nil {
		log.Warn().Err(err).Str("module", "queue.publisher").Str("topic", topic).Msg("rabbitmq: publish failed")
		p.reset()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// declareExchange ensures the topic exchange exists (idempotent).
func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}
