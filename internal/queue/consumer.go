package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledgerindexer/internal/dedup"
	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/models"

	solanago "github.com/gagliardetto/solana-go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	retryStep     = 5 * time.Second
	maxRetryDelay = 30 * time.Second
)

type Publisher interface {
	Publish(ctx context.Context, msg models.SignatureMessage) error
	PublishDelayed(ctx context.Context, msg models.SignatureMessage, delay time.Duration) error
}

type Processor interface {
	Process(ctx context.Context, signature string, slot uint64, blockTime *time.Time) error
}

type Deduplicator interface {
	CheckAndMark(ctx context.Context, e dedup.Event) bool
	Clear(ctx context.Context, e dedup.Event) error
}

// Consumer feeds signatures from the queue into the processor.
type Consumer struct {
	publisher   Publisher
	processor   Processor
	dedup       Deduplicator
	maxAttempts int
	log         *logrus.Logger
}

func NewConsumer(publisher Publisher, processor Processor, dedup Deduplicator, maxAttempts int, log *logrus.Logger) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Consumer{
		publisher:   publisher,
		processor:   processor,
		dedup:       dedup,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * retryStep
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// Handle processes one message body. A nil error means the message can be
// acked: it was processed, dropped as invalid, or re-published for a retry.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var msg models.SignatureMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		metrics.TransactionsSkipped.WithLabelValues("malformed").Inc()
		c.log.WithField("error", err).Warn("Dropping malformed feed message")
		return nil
	}

	entry := c.log.WithFields(logrus.Fields{
		"signature": msg.Signature,
		"slot":      msg.Slot,
		"attempt":   msg.Attempt,
	})

	if _, err := solanago.SignatureFromBase58(msg.Signature); err != nil {
		metrics.TransactionsSkipped.WithLabelValues("invalid_signature").Inc()
		entry.WithField("error", err).Warn("Dropping invalid signature")
		return nil
	}

	event := dedup.Event{ID: msg.Signature, Type: "signature"}
	if !c.dedup.CheckAndMark(ctx, event) {
		metrics.DuplicateEvents.WithLabelValues(event.Type).Inc()
		return nil
	}

	var blockTime *time.Time
	if msg.BlockTime != nil {
		t := time.Unix(*msg.BlockTime, 0).UTC()
		blockTime = &t
	}

	err := c.processor.Process(ctx, msg.Signature, msg.Slot, blockTime)
	if err == nil {
		return nil
	}

	if clearErr := c.dedup.Clear(ctx, event); clearErr != nil {
		entry.WithField("error", clearErr).Warn("Failed to clear dedup marker")
	}

	next := msg
	next.Attempt++
	if next.Attempt >= c.maxAttempts {
		metrics.TransactionsSkipped.WithLabelValues("max_attempts").Inc()
		entry.WithField("error", err).Error("Giving up on signature after max attempts")
		return nil
	}

	delay := retryDelay(next.Attempt)
	if pubErr := c.publisher.PublishDelayed(ctx, next, delay); pubErr != nil {
		return fmt.Errorf("schedule retry of %s: %w", msg.Signature, pubErr)
	}
	entry.WithFields(logrus.Fields{
		"error": err,
		"delay": delay.String(),
	}).Warn("Processing failed, retry scheduled")
	return nil
}

// Run consumes deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.log.Info("Starting signature consumer")

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.Handle(ctx, delivery.Body); err != nil {
				c.log.WithField("error", err).Error("Error processing message")
				delivery.Nack(false, true) // requeue on error
				continue
			}
			delivery.Ack(false)
		}
	}
}
