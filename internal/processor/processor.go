// Package processor classifies a single ledger transaction and writes it to
// the relational store, the document mirror and the ticket service.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/mirror"
	"ledgerindexer/internal/models"
	"ledgerindexer/internal/resilience"
	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ProcessingError is returned when a signature could not be fully processed
// and must be counted as failed by the caller.
type ProcessingError struct {
	Signature string
	Op        string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process %s: %s: %v", e.Signature, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

type Ledger interface {
	GetParsedTransaction(ctx context.Context, signature string) (*solana.SolanaTransaction, error)
}

type Store interface {
	IsProcessed(ctx context.Context, signature string) (bool, error)
	RecordTransaction(ctx context.Context, tx *models.IndexedTransaction) (bool, error)
	RecordFailedMirrorWrite(ctx context.Context, failed *models.FailedMirrorWrite) error
}

type Tickets interface {
	GetTicketByToken(ctx context.Context, tokenID string) (*models.Ticket, error)
	UpdateBlockchainSyncByToken(ctx context.Context, tokenID string, patch models.SyncPatch) error
	RecordBlockchainTransfer(ctx context.Context, transfer models.TransferRecord) error
}

type Processor struct {
	ledger  Ledger
	store   Store
	mirror  mirror.Store
	tickets Tickets
	rules   []Rule
	retry   resilience.RetryPolicy
	group   singleflight.Group
	log     *logrus.Logger
}

type Option func(*Processor)

func WithRules(rules []Rule) Option {
	return func(p *Processor) { p.rules = rules }
}

func WithMirrorRetry(policy resilience.RetryPolicy) Option {
	return func(p *Processor) { p.retry = policy }
}

func New(ledger Ledger, store Store, mirrorStore mirror.Store, tickets Tickets, log *logrus.Logger, opts ...Option) *Processor {
	p := &Processor{
		ledger:  ledger,
		store:   store,
		mirror:  mirrorStore,
		tickets: tickets,
		rules:   DefaultRules,
		retry:   resilience.MirrorWritePolicy(),
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process indexes one signature. It is idempotent: a signature already in
// indexed_transactions is a no-op. blockTime may be nil.
func (p *Processor) Process(ctx context.Context, signature string, slot uint64, blockTime *time.Time) error {
	_, err, _ := p.group.Do(signature, func() (any, error) {
		return nil, p.process(ctx, signature, slot, blockTime)
	})
	return err
}

func (p *Processor) process(ctx context.Context, signature string, slot uint64, blockTime *time.Time) error {
	entry := p.log.WithFields(logrus.Fields{
		"signature": signature,
		"slot":      slot,
	})

	processed, err := p.store.IsProcessed(ctx, signature)
	if err != nil {
		return &ProcessingError{Signature: signature, Op: "check_processed", Err: err}
	}
	if processed {
		metrics.TransactionsSkipped.WithLabelValues("already_processed").Inc()
		return nil
	}

	tx, err := p.ledger.GetParsedTransaction(ctx, signature)
	if errors.Is(err, solana.ErrNotFound) || (err == nil && tx == nil) {
		entry.Warn("Transaction not found on ledger, skipping")
		metrics.TransactionsSkipped.WithLabelValues("not_found").Inc()
		return nil
	}
	if err != nil {
		return &ProcessingError{Signature: signature, Op: "fetch", Err: err}
	}

	if slot == 0 {
		slot = tx.Slot
	}
	if blockTime == nil {
		blockTime = tx.BlockTimeUTC()
	}

	instructionType := Classify(tx.Logs(), p.rules)
	entry = entry.WithField("instruction_type", instructionType)

	if err := p.writeMirror(ctx, tx, signature, slot, instructionType); err != nil {
		return err
	}

	if tx.Succeeded() {
		p.applyBusinessUpdate(ctx, entry, tx, instructionType, signature, slot, blockTime)
	}

	inserted, err := p.store.RecordTransaction(ctx, &models.IndexedTransaction{
		Signature:       signature,
		Slot:            slot,
		BlockTime:       blockTime,
		InstructionType: instructionType,
		ProcessedAt:     time.Now().UTC(),
	})
	if err != nil {
		return &ProcessingError{Signature: signature, Op: "record", Err: err}
	}
	if inserted {
		metrics.TransactionsProcessed.WithLabelValues(string(instructionType)).Inc()
		entry.Debug("Transaction indexed")
	}
	return nil
}

// writeMirror inserts the mirror document. A duplicate counts as success;
// exhausted retries leave a dead-letter row.
func (p *Processor) writeMirror(ctx context.Context, tx *solana.SolanaTransaction, signature string, slot uint64, instructionType models.InstructionType) error {
	record, err := mirror.Build(tx, string(instructionType))
	if err == nil {
		err = p.retry.Do(ctx, func(ctx context.Context) error {
			insertErr := p.mirror.InsertTransaction(ctx, record)
			if errors.Is(insertErr, mirror.ErrDuplicate) {
				return nil
			}
			return insertErr
		})
	}
	if err == nil {
		return nil
	}

	metrics.MirrorWriteFailures.Inc()
	p.log.WithFields(logrus.Fields{
		"signature": signature,
		"error":     err,
	}).Error("Mirror write failed after retries")

	if dlErr := p.store.RecordFailedMirrorWrite(ctx, &models.FailedMirrorWrite{
		Signature:    signature,
		Slot:         slot,
		ErrorMessage: err.Error(),
		ErrorCode:    errorCode(err),
	}); dlErr != nil {
		p.log.WithFields(logrus.Fields{
			"signature": signature,
			"error":     dlErr,
		}).Error("Failed to record mirror dead letter")
	}

	return &ProcessingError{Signature: signature, Op: "mirror_write", Err: err}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	case resilience.IsConnectionError(err):
		return "CONNECTION"
	default:
		return "WRITE_ERROR"
	}
}
