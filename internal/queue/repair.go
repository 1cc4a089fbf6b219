package queue

import (
	"context"
	"fmt"

	"ledgerindexer/internal/models"

	"github.com/sirupsen/logrus"
)

type FailedWrites interface {
	OpenFailedWrites(ctx context.Context, limit int) ([]models.FailedMirrorWrite, error)
	MarkFailedWrite(ctx context.Context, id uint, status models.ResolutionStatus) error
}

// RepairProducer re-publishes signatures whose mirror write was dead-lettered.
// The processor never records such a signature, so a redelivery runs the
// whole pipeline again.
type RepairProducer struct {
	store     FailedWrites
	publisher Publisher
	batch     int
	log       *logrus.Logger
}

func NewRepairProducer(store FailedWrites, publisher Publisher, batch int, log *logrus.Logger) *RepairProducer {
	if batch <= 0 {
		batch = 100
	}
	return &RepairProducer{
		store:     store,
		publisher: publisher,
		batch:     batch,
		log:       log,
	}
}

// PublishFailedWrites re-publishes up to one batch of open dead letters and
// marks each one retried. It returns how many were published.
func (r *RepairProducer) PublishFailedWrites(ctx context.Context) (int, error) {
	rows, err := r.store.OpenFailedWrites(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("load failed mirror writes: %w", err)
	}

	r.log.Infof("Found %d failed mirror writes to repair", len(rows))

	published := 0
	for _, row := range rows {
		if err := r.publisher.Publish(ctx, models.SignatureMessage{
			Signature: row.Signature,
			Slot:      row.Slot,
		}); err != nil {
			r.log.WithFields(logrus.Fields{
				"signature": row.Signature,
				"error":     err,
			}).Error("Failed to publish mirror repair")
			continue
		}

		if err := r.store.MarkFailedWrite(ctx, row.ID, models.ResolutionRetried); err != nil {
			return published, fmt.Errorf("mark failed write %d: %w", row.ID, err)
		}
		published++
	}

	return published, nil
}
