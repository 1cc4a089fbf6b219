package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger serves the program history newest first, one signature per slot.
type fakeLedger struct {
	mu       sync.Mutex
	sigs     []solana.SignatureInfo
	index    map[string]int
	heads    int
	requests int
	// failHead fails the n-th page request that starts from the tip.
	failHead int
}

func newFakeLedger(from, to, step uint64) *fakeLedger {
	l := &fakeLedger{}
	l.add(from, to, step)
	return l
}

// add inserts one signature every step slots in [from, to); slots already
// present are kept as they are.
func (l *fakeLedger) add(from, to, step uint64) {
	present := make(map[uint64]bool, len(l.sigs))
	for _, s := range l.sigs {
		present[s.Slot] = true
	}
	for slot := from; slot < to; slot += step {
		if present[slot] {
			continue
		}
		bt := int64(1_700_000_000 + slot)
		l.sigs = append(l.sigs, solana.SignatureInfo{
			Signature: fmt.Sprintf("sig-%d", slot),
			Slot:      slot,
			BlockTime: &bt,
		})
	}
	sort.Slice(l.sigs, func(i, j int) bool { return l.sigs[i].Slot > l.sigs[j].Slot })

	l.index = make(map[string]int, len(l.sigs))
	for i, s := range l.sigs {
		l.index[s.Signature] = i
	}
}

func (l *fakeLedger) GetSignaturesForAddress(_ context.Context, _ string, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests++
	idx := 0
	if opts.Before == "" {
		l.heads++
		if l.failHead > 0 && l.heads == l.failHead {
			return nil, errors.New("node is behind")
		}
	} else if i, ok := l.index[opts.Before]; ok {
		idx = i + 1
	} else {
		idx = len(l.sigs)
	}

	end := idx + opts.Limit
	if end > len(l.sigs) {
		end = len(l.sigs)
	}
	return append([]solana.SignatureInfo(nil), l.sigs[idx:end]...), nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed map[string]uint64
	fail      map[string]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{processed: make(map[string]uint64), fail: make(map[string]bool)}
}

func (p *fakeProcessor) Process(_ context.Context, signature string, slot uint64, blockTime *time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[signature] {
		return errors.New("mirror down")
	}
	if blockTime == nil {
		return errors.New("missing block time")
	}
	p.processed[signature] = slot
	return nil
}

type fakeCheckpoints struct {
	mu    sync.Mutex
	saved []uint64
	last  *uint64
}

func (c *fakeCheckpoints) GetCheckpoint(context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return 0, false, nil
	}
	return *c.last, true, nil
}

func (c *fakeCheckpoints) SaveCheckpoint(_ context.Context, slot uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, slot)
	c.last = &slot
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newSyncer(cfg Config, ledger *fakeLedger, proc *fakeProcessor, cps *fakeCheckpoints) *Syncer {
	cfg.Program = "Program1111"
	cfg.BatchSize = 1000
	cfg.PageLimit = 10
	return NewSyncer(cfg, ledger, proc, cps, quietLogger())
}

func TestSyncRange_GroupEndSurfacesFailedRange(t *testing.T) {
	ledger := newFakeLedger(1050, 6000, 100)
	// 60 signatures in [1000, 2000) do not fit in 5 pages of 10
	ledger.add(1000, 1050, 1)
	proc := newFakeProcessor()
	proc.fail["sig-3050"] = true
	cps := &fakeCheckpoints{}

	s := newSyncer(Config{MaxConcurrent: 5, MaxPages: 5}, ledger, proc, cps)

	res, err := s.SyncRange(context.Background(), 1000, 6000)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Batches)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, []Range{{Start: 1000, End: 2000}}, res.FailedRanges)
	assert.EqualValues(t, 89, res.Processed)
	assert.EqualValues(t, 1, res.Failed)

	require.NotNil(t, res.Checkpoint)
	assert.EqualValues(t, 5999, *res.Checkpoint)
	assert.Equal(t, []uint64{5999}, cps.saved)
	assert.Len(t, proc.processed, 89)
	assert.NotContains(t, proc.processed, "sig-1000")
}

func TestSyncRange_ContiguousHoldsCheckpointOnFirstBatch(t *testing.T) {
	ledger := newFakeLedger(1050, 6000, 100)
	ledger.add(1000, 1050, 1)
	cps := &fakeCheckpoints{}
	s := newSyncer(Config{MaxConcurrent: 5, MaxPages: 5, Mode: CheckpointContiguous}, ledger, newFakeProcessor(), cps)

	res, err := s.SyncRange(context.Background(), 1000, 6000)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FailedBatches)
	assert.Nil(t, res.Checkpoint)
	assert.Empty(t, cps.saved)
}

func TestSyncRange_CheckpointModes(t *testing.T) {
	tests := []struct {
		name       string
		mode       CheckpointMode
		saved      []uint64
		checkpoint uint64
	}{
		{"group-end", CheckpointGroupEnd, []uint64{1999, 2999, 3999, 4999, 5999}, 5999},
		{"contiguous", CheckpointContiguous, []uint64{1999, 2999}, 2999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger(1050, 6000, 100)
			// batches run one at a time: the third one, [3000, 4000), runs out of pages
			ledger.add(3000, 3050, 1)
			proc := newFakeProcessor()
			cps := &fakeCheckpoints{}
			s := newSyncer(Config{MaxConcurrent: 1, MaxPages: 5, Mode: tt.mode}, ledger, proc, cps)

			res, err := s.SyncRange(context.Background(), 1000, 6000)
			require.NoError(t, err)

			assert.Equal(t, 5, res.Batches)
			assert.Equal(t, []Range{{Start: 3000, End: 4000}}, res.FailedRanges)
			assert.EqualValues(t, 90, res.Processed)
			assert.Equal(t, tt.saved, cps.saved)
			require.NotNil(t, res.Checkpoint)
			assert.Equal(t, tt.checkpoint, *res.Checkpoint)
		})
	}
}

func TestSyncRange_DeepHistory(t *testing.T) {
	// 200k signatures above the range: far more than MaxPages*PageLimit
	ledger := newFakeLedger(0, 200000, 1)
	proc := newFakeProcessor()
	cps := &fakeCheckpoints{}
	s := NewSyncer(Config{Program: "Program1111"}, ledger, proc, cps, quietLogger())

	res, err := s.SyncRange(context.Background(), 0, 5000)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Batches)
	assert.Zero(t, res.FailedBatches)
	assert.Empty(t, res.FailedRanges)
	assert.EqualValues(t, 5000, res.Processed)
	require.NotNil(t, res.Checkpoint)
	assert.EqualValues(t, 4999, *res.Checkpoint)

	// the tip is paged once for the whole run, not once per batch
	assert.Equal(t, 1, ledger.heads)
	assert.LessOrEqual(t, ledger.requests, 210)
}

func TestSyncRange_LocateFailureLeavesCheckpoint(t *testing.T) {
	ledger := newFakeLedger(1050, 6000, 100)
	ledger.failHead = 1
	proc := newFakeProcessor()
	cps := &fakeCheckpoints{}
	s := newSyncer(Config{MaxConcurrent: 5, MaxPages: 5}, ledger, proc, cps)

	res, err := s.SyncRange(context.Background(), 1000, 6000)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Zero(t, res.Batches)
	assert.Nil(t, res.Checkpoint)
	assert.Empty(t, cps.saved)
	assert.Empty(t, proc.processed)
}

func TestSyncRange_ResumesFromCheckpoint(t *testing.T) {
	ledger := newFakeLedger(1050, 6000, 100)
	proc := newFakeProcessor()
	last := uint64(3999)
	cps := &fakeCheckpoints{last: &last}
	s := newSyncer(Config{MaxConcurrent: 5, MaxPages: 10, Resume: true}, ledger, proc, cps)

	res, err := s.SyncRange(context.Background(), 1000, 6000)
	require.NoError(t, err)

	assert.EqualValues(t, 4000, res.ResumedFrom)
	assert.Equal(t, 2, res.Batches)
	assert.EqualValues(t, 20, res.Processed)
	for sig, slot := range proc.processed {
		assert.GreaterOrEqual(t, slot, uint64(4000), sig)
	}
}

func TestSyncRange_IgnoresCheckpointOutsideRange(t *testing.T) {
	ledger := newFakeLedger(1050, 3000, 100)
	last := uint64(9000)
	cps := &fakeCheckpoints{last: &last}
	s := newSyncer(Config{MaxConcurrent: 5, MaxPages: 10, Resume: true}, ledger, newFakeProcessor(), cps)

	res, err := s.SyncRange(context.Background(), 1000, 3000)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, res.ResumedFrom)
	assert.EqualValues(t, 20, res.Processed)
}

func TestSyncRange_PartialLastBatch(t *testing.T) {
	ledger := newFakeLedger(1050, 2600, 100)
	s := newSyncer(Config{MaxConcurrent: 5, MaxPages: 10}, ledger, newFakeProcessor(), &fakeCheckpoints{})

	res, err := s.SyncRange(context.Background(), 1000, 2500)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.EqualValues(t, 15, res.Processed)
	require.NotNil(t, res.Checkpoint)
	assert.EqualValues(t, 2499, *res.Checkpoint)
}

func TestSyncRange_Cancelled(t *testing.T) {
	ledger := newFakeLedger(1050, 6000, 100)
	s := newSyncer(Config{MaxConcurrent: 1, MaxPages: 10, Pause: time.Hour}, ledger, newFakeProcessor(), &fakeCheckpoints{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := s.SyncRange(ctx, 1000, 6000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Batches)
}

func TestSyncRange_InvalidRange(t *testing.T) {
	s := newSyncer(Config{}, newFakeLedger(0, 0, 1), newFakeProcessor(), &fakeCheckpoints{})
	_, err := s.SyncRange(context.Background(), 10, 10)
	assert.Error(t, err)
}

func TestParseCheckpointMode(t *testing.T) {
	mode, err := ParseCheckpointMode("")
	require.NoError(t, err)
	assert.Equal(t, CheckpointGroupEnd, mode)

	mode, err = ParseCheckpointMode("contiguous")
	require.NoError(t, err)
	assert.Equal(t, CheckpointContiguous, mode)

	_, err = ParseCheckpointMode("latest")
	assert.Error(t, err)
}
