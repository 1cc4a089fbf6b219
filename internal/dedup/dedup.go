// Package dedup marks events as seen in Redis so that at most one consumer
// handles a given event within the TTL window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = 24 * time.Hour

// Event identifies something that must be handled once. When ID is empty
// it is derived from Type and Payload.
type Event struct {
	ID      string
	Type    string
	Payload any
}

type marker struct {
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Deduplicator struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logrus.Logger
}

func New(client redis.UniversalClient, ttl time.Duration, log *logrus.Logger) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// EventID returns the explicit id or a SHA-256 of type and payload.
func EventID(e Event) string {
	if e.ID != "" {
		return e.ID
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", e.Payload))
	}
	sum := sha256.Sum256(append([]byte(e.Type+":"), payload...))
	return hex.EncodeToString(sum[:])
}

func key(e Event) string {
	return fmt.Sprintf("dedup:%s:%s", e.Type, EventID(e))
}

// CheckAndMark returns true only for the first caller to see the event.
// When Redis is unreachable the event is treated as new.
func (d *Deduplicator) CheckAndMark(ctx context.Context, e Event) bool {
	value, _ := json.Marshal(marker{EventType: e.Type, ProcessedAt: time.Now().UTC()})

	ok, err := d.client.SetNX(ctx, key(e), value, d.ttl).Result()
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"event_type": e.Type,
			"event_id":   EventID(e),
			"error":      err,
		}).Warn("Dedup store unavailable, processing event anyway")
		return true
	}
	return ok
}

// Clear removes the marker so a later delivery is handled again.
func (d *Deduplicator) Clear(ctx context.Context, e Event) error {
	if err := d.client.Del(ctx, key(e)).Err(); err != nil {
		return fmt.Errorf("clear dedup marker: %w", err)
	}
	return nil
}
