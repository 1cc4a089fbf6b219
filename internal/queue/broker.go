// Package queue carries the signature feed over RabbitMQ: a main exchange for
// fresh signatures and a delayed exchange for retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledgerindexer/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type Config struct {
	URL          string
	ExchangeName string
	QueueName    string
	RoutingKey   string
	Prefetch     int
}

type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     Config
	log     *logrus.Logger
}

func NewBroker(cfg Config, log *logrus.Logger) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	b := &Broker{
		conn:    conn,
		channel: ch,
		cfg:     cfg,
		log:     log,
	}

	if err := b.setup(); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func (b *Broker) delayedExchange() string {
	return b.cfg.ExchangeName + ".delayed"
}

func (b *Broker) setup() error {
	// Setup dell'exchange principale
	err := b.channel.ExchangeDeclare(
		b.cfg.ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Setup dell'exchange per i delayed messages
	err = b.channel.ExchangeDeclare(
		b.delayedExchange(),
		"x-delayed-message",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		amqp.Table{
			"x-delayed-type": "direct",
		},
	)
	if err != nil {
		return fmt.Errorf("declare delayed exchange: %w", err)
	}

	q, err := b.channel.QueueDeclare(
		b.cfg.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, exchange := range []string{b.cfg.ExchangeName, b.delayedExchange()} {
		if err := b.channel.QueueBind(q.Name, b.cfg.RoutingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue to %s: %w", exchange, err)
		}
	}

	if b.cfg.Prefetch > 0 {
		if err := b.channel.Qos(b.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}
	return nil
}

func (b *Broker) Close() {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publish sends msg on the main exchange.
func (b *Broker) Publish(ctx context.Context, msg models.SignatureMessage) error {
	return b.publish(ctx, b.cfg.ExchangeName, msg, nil)
}

// PublishDelayed sends msg on the delayed exchange; the broker delivers it
// after delay.
func (b *Broker) PublishDelayed(ctx context.Context, msg models.SignatureMessage, delay time.Duration) error {
	return b.publish(ctx, b.delayedExchange(), msg, amqp.Table{
		"x-delay":     int32(delay.Milliseconds()),
		"retry-count": int32(msg.Attempt),
	})
}

func (b *Broker) publish(ctx context.Context, exchange string, msg models.SignatureMessage, headers amqp.Table) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return b.channel.PublishWithContext(
		pubCtx,
		exchange,
		b.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Headers:      headers,
			Timestamp:    time.Now(),
		})
}

// Consume starts delivery with manual acks.
func (b *Broker) Consume() (<-chan amqp.Delivery, error) {
	return b.channel.Consume(
		b.cfg.QueueName, // queue
		"",              // consumer
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
}
