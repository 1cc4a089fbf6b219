// Package backfill replays a historical slot range through the transaction
// processor, in concurrent batches with a persisted checkpoint.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrPageBudget is returned by a batch that ran out of signature pages before
// reaching the start of its slot range. Only pages inside the batch count.
var ErrPageBudget = errors.New("signature page budget exhausted")

type Ledger interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error)
}

type Processor interface {
	Process(ctx context.Context, signature string, slot uint64, blockTime *time.Time) error
}

// Checkpoints stores the last fully processed slot.
type Checkpoints interface {
	GetCheckpoint(ctx context.Context) (uint64, bool, error)
	SaveCheckpoint(ctx context.Context, slot uint64) error
}

type CheckpointMode string

const (
	// CheckpointGroupEnd saves the end of every iteration, failed batches included.
	CheckpointGroupEnd CheckpointMode = "group-end"
	// CheckpointContiguous never moves the checkpoint past a failed batch.
	CheckpointContiguous CheckpointMode = "contiguous"
)

func ParseCheckpointMode(s string) (CheckpointMode, error) {
	switch CheckpointMode(s) {
	case "", CheckpointGroupEnd:
		return CheckpointGroupEnd, nil
	case CheckpointContiguous:
		return CheckpointContiguous, nil
	default:
		return "", fmt.Errorf("unknown checkpoint mode %q", s)
	}
}

type Config struct {
	Program       string
	BatchSize     uint64
	MaxConcurrent int
	Pause         time.Duration
	PageLimit     int
	// MaxPages bounds the pages a single batch may read below its own upper slot.
	MaxPages int
	Mode          CheckpointMode
	// Resume starts from the stored checkpoint when it lies inside the range.
	Resume bool
}

// Range is a half-open slot range [Start, End).
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type Result struct {
	Start         uint64  `json:"start"`
	End           uint64  `json:"end"`
	ResumedFrom   uint64  `json:"resumed_from"`
	Batches       int     `json:"batches"`
	FailedBatches int     `json:"failed_batches"`
	Processed     int64   `json:"processed"`
	Failed        int64   `json:"failed"`
	Checkpoint    *uint64 `json:"checkpoint,omitempty"`
	FailedRanges  []Range `json:"failed_ranges,omitempty"`
}

type Syncer struct {
	cfg         Config
	ledger      Ledger
	processor   Processor
	checkpoints Checkpoints
	log         *logrus.Logger
}

func NewSyncer(cfg Config, ledger Ledger, processor Processor, checkpoints Checkpoints, log *logrus.Logger) *Syncer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Mode == "" {
		cfg.Mode = CheckpointGroupEnd
	}
	return &Syncer{
		cfg:         cfg,
		ledger:      ledger,
		processor:   processor,
		checkpoints: checkpoints,
		log:         log,
	}
}

type batchOutcome struct {
	rng       Range
	processed int64
	failed    int64
	err       error
}

// SyncRange replays [start, end). Failed batches never stop the run; they are
// counted and returned in Result.FailedRanges. The returned error is set only
// for cancellation, invalid input, or when the batch boundaries cannot be
// located, in which case nothing is processed and the checkpoint is untouched.
func (s *Syncer) SyncRange(ctx context.Context, start, end uint64) (*Result, error) {
	if end <= start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}

	result := &Result{Start: start, End: end, ResumedFrom: start}
	cursor := start

	if s.cfg.Resume {
		last, ok, err := s.checkpoints.GetCheckpoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("read checkpoint: %w", err)
		}
		if ok && last >= start && last < end {
			cursor = last + 1
			result.ResumedFrom = cursor
		}
	}

	batches := s.split(cursor, end)
	anchors, err := s.locate(ctx, batches)
	if err != nil {
		return result, err
	}

	// in modalità contiguous il checkpoint resta fermo al primo batch fallito
	blocked := false
	total := float64(end - start)

	for first := 0; first < len(batches); first += s.cfg.MaxConcurrent {
		last := first + s.cfg.MaxConcurrent
		if last > len(batches) {
			last = len(batches)
		}
		group := batches[first:last]
		outcomes := make([]batchOutcome, len(group))

		var g errgroup.Group
		g.SetLimit(s.cfg.MaxConcurrent)
		for i, rng := range group {
			i, rng, before := i, rng, anchors[first+i]
			g.Go(func() error {
				outcomes[i] = s.runBatch(ctx, rng, before)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return result, err
		}

		groupEnd := group[len(group)-1].End
		checkpoint, advance := groupEnd-1, !blocked

		for _, o := range outcomes {
			result.Batches++
			result.Processed += o.processed
			result.Failed += o.failed
			if o.err == nil {
				metrics.BackfillBatches.WithLabelValues("ok").Inc()
				continue
			}

			metrics.BackfillBatches.WithLabelValues("failed").Inc()
			result.FailedBatches++
			result.FailedRanges = append(result.FailedRanges, o.rng)
			s.log.WithFields(logrus.Fields{
				"start": o.rng.Start,
				"end":   o.rng.End,
				"error": o.err,
			}).Error("Backfill batch failed")

			if s.cfg.Mode == CheckpointContiguous && advance {
				blocked = true
				if o.rng.Start <= result.ResumedFrom {
					advance = false
				} else if o.rng.Start-1 < checkpoint {
					checkpoint = o.rng.Start - 1
				}
			}
		}

		if advance && (result.Checkpoint == nil || checkpoint > *result.Checkpoint) {
			if err := s.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
				s.log.WithFields(logrus.Fields{
					"slot":  checkpoint,
					"error": err,
				}).Error("Failed to save backfill checkpoint")
			} else {
				cp := checkpoint
				result.Checkpoint = &cp
				metrics.BackfillCheckpoint.Set(float64(cp))
			}
		}

		s.log.WithFields(logrus.Fields{
			"slot":     groupEnd,
			"progress": fmt.Sprintf("%.1f%%", float64(groupEnd-start)/total*100),
			"failed":   result.FailedBatches,
		}).Info("Backfill progress")

		if last == len(batches) {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(s.cfg.Pause):
		}
	}

	s.log.WithFields(logrus.Fields{
		"start":          start,
		"end":            end,
		"batches":        result.Batches,
		"failed_batches": result.FailedBatches,
		"processed":      result.Processed,
		"failed":         result.Failed,
	}).Info("Backfill completed")

	return result, nil
}

// split cuts [cursor, end) into batches of BatchSize slots, oldest first.
func (s *Syncer) split(cursor, end uint64) []Range {
	var batches []Range
	for cursor < end {
		next := cursor + s.cfg.BatchSize
		if next > end || next < cursor {
			next = end
		}
		batches = append(batches, Range{Start: cursor, End: next})
		cursor = next
	}
	return batches
}

// locate walks the program history once from the tip and returns, for every
// batch, the signature to page from: the oldest one whose slot is still at or
// above the batch end. Empty means the tip.
func (s *Syncer) locate(ctx context.Context, batches []Range) ([]string, error) {
	anchors := make([]string, len(batches))
	next := len(batches) - 1

	var before, seen string
	pages := 0
	for next >= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sigs, err := s.ledger.GetSignaturesForAddress(ctx, s.cfg.Program, solana.SignaturesOptions{
			Before: before,
			Limit:  s.cfg.PageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("locate batch boundaries: %w", err)
		}
		pages++

		for _, sig := range sigs {
			for next >= 0 && sig.Slot < batches[next].End {
				anchors[next] = seen
				next--
			}
			if next < 0 {
				break
			}
			seen = sig.Signature
		}

		if len(sigs) < s.cfg.PageLimit {
			break
		}
		before = sigs[len(sigs)-1].Signature
	}

	// storia esaurita: i batch rimasti non hanno firme
	for ; next >= 0; next-- {
		anchors[next] = seen
	}

	s.log.WithFields(logrus.Fields{
		"batches": len(batches),
		"pages":   pages,
	}).Debug("Backfill boundaries located")

	return anchors, nil
}

// runBatch walks the program's signatures backwards from before, newest
// first, and processes those whose slot is inside rng.
func (s *Syncer) runBatch(ctx context.Context, rng Range, before string) batchOutcome {
	out := batchOutcome{rng: rng}

	for page := 0; ; page++ {
		if page >= s.cfg.MaxPages {
			out.err = ErrPageBudget
			break
		}

		sigs, err := s.ledger.GetSignaturesForAddress(ctx, s.cfg.Program, solana.SignaturesOptions{
			Before: before,
			Limit:  s.cfg.PageLimit,
		})
		if err != nil {
			out.err = fmt.Errorf("list signatures: %w", err)
			break
		}

		reachedStart := false
		for _, sig := range sigs {
			if sig.Slot >= rng.End {
				continue
			}
			if sig.Slot < rng.Start {
				reachedStart = true
				break
			}
			if err := s.processor.Process(ctx, sig.Signature, sig.Slot, blockTime(sig.BlockTime)); err != nil {
				out.failed++
				s.log.WithFields(logrus.Fields{
					"signature": sig.Signature,
					"slot":      sig.Slot,
					"error":     err,
				}).Warn("Backfill transaction failed")
				continue
			}
			out.processed++
		}

		if reachedStart || len(sigs) < s.cfg.PageLimit {
			break
		}
		if ctx.Err() != nil {
			out.err = ctx.Err()
			break
		}
		before = sigs[len(sigs)-1].Signature
	}

	return out
}

func blockTime(unix *int64) *time.Time {
	if unix == nil {
		return nil
	}
	t := time.Unix(*unix, 0).UTC()
	return &t
}
