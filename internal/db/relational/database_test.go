package relational

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ledgerindexer/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := NewDatabase(Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, log)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordTransaction_InsertOrIgnore(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	processed, err := db.IsProcessed(ctx, "sigA")
	require.NoError(t, err)
	assert.False(t, processed)

	row := func() *models.IndexedTransaction {
		return &models.IndexedTransaction{
			Signature:       "sigA",
			Slot:            10,
			InstructionType: models.InstructionMint,
			ProcessedAt:     time.Now().UTC(),
		}
	}

	inserted, err := db.RecordTransaction(ctx, row())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = db.RecordTransaction(ctx, row())
	require.NoError(t, err)
	assert.False(t, inserted)

	processed, err = db.IsProcessed(ctx, "sigA")
	require.NoError(t, err)
	assert.True(t, processed)

	var count int64
	require.NoError(t, db.GetDB().Model(&models.IndexedTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordFailedMirrorWrite_Increments(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.RecordFailedMirrorWrite(ctx, &models.FailedMirrorWrite{
			Signature:    "sigB",
			Slot:         20,
			ErrorMessage: fmt.Sprintf("timeout %d", i),
			ErrorCode:    "TIMEOUT",
		}))
	}

	rows, err := db.OpenFailedWrites(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].RetryCount)
	assert.Equal(t, "timeout 2", rows[0].ErrorMessage)
}

func TestRecordFailedMirrorWrite_ReopensRetried(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.RecordFailedMirrorWrite(ctx, &models.FailedMirrorWrite{Signature: "sigC", Slot: 1}))
	rows, err := db.OpenFailedWrites(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, db.MarkFailedWrite(ctx, rows[0].ID, models.ResolutionRetried))
	rows, err = db.OpenFailedWrites(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, db.RecordFailedMirrorWrite(ctx, &models.FailedMirrorWrite{Signature: "sigC", Slot: 1}))
	rows, err = db.OpenFailedWrites(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].RetryCount)

	// manual resolutions stay closed
	require.NoError(t, db.MarkFailedWrite(ctx, rows[0].ID, models.ResolutionManual))
	require.NoError(t, db.RecordFailedMirrorWrite(ctx, &models.FailedMirrorWrite{Signature: "sigC", Slot: 1}))
	rows, err = db.OpenFailedWrites(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCheckpoint(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	_, ok, err := db.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveCheckpoint(ctx, 999))
	require.NoError(t, db.SaveCheckpoint(ctx, 1999))

	slot, ok, err := db.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1999), slot)

	state, err := db.GetIndexerState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint64(1999), state.LastProcessedSlot)
}

func TestInsertActivity_UniqueSignature(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.InsertActivity(ctx, &models.MarketplaceActivity{
				TokenID:              "MintX",
				Marketplace:          "tensor",
				ActivityType:         models.ActivitySale,
				Price:                decimal.RequireFromString("1.25"),
				TransactionSignature: "sigSale",
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)

	sales, err := db.RecentActivity(ctx, models.ActivitySale, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, sales[0].Price.Equal(decimal.RequireFromString("1.25")))

	old, err := db.RecentActivity(ctx, models.ActivitySale, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestRecentActivity_UsesBlockTime(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	at := func(d time.Duration) *time.Time {
		ts := time.Now().Add(d).UTC()
		return &ts
	}
	for _, a := range []models.MarketplaceActivity{
		{TokenID: "MintX", Marketplace: "tensor", ActivityType: models.ActivitySale, TransactionSignature: "sigStale", BlockTime: at(-2 * time.Hour)},
		{TokenID: "MintX", Marketplace: "tensor", ActivityType: models.ActivitySale, TransactionSignature: "sigNoTime"},
		{TokenID: "MintX", Marketplace: "tensor", ActivityType: models.ActivitySale, TransactionSignature: "sigRecent", BlockTime: at(-5 * time.Minute)},
	} {
		a := a
		a.Price = decimal.RequireFromString("1")
		ok, err := db.InsertActivity(ctx, &a)
		require.NoError(t, err)
		require.True(t, ok)
	}

	sales, err := db.RecentActivity(ctx, models.ActivitySale, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "sigRecent", sales[0].TransactionSignature)
	assert.Equal(t, "sigNoTime", sales[1].TransactionSignature)
}

func TestReconciliationRun(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	run := &models.ReconciliationRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    models.RunRunning,
	}
	require.NoError(t, db.CreateRun(ctx, run))

	require.NoError(t, db.InsertDiscrepancy(ctx, &models.OwnershipDiscrepancy{
		TicketID:        "t1",
		DiscrepancyType: models.DiscrepancyOwnershipMismatch,
		DatabaseValue:   "W1",
		BlockchainValue: "W2",
	}))
	require.NoError(t, db.InsertReconciliationLogs(ctx, []models.ReconciliationLog{
		{RunID: run.ID, TicketID: "t1", TokenID: "MintX", Action: "DISCREPANCY", Detail: "OWNERSHIP_MISMATCH"},
	}))

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.TicketsChecked = 1
	run.DiscrepanciesFound = 1
	run.Status = models.RunCompleted
	require.NoError(t, db.FinishRun(ctx, run))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].DiscrepanciesFound)

	open := false
	found, err := db.ListDiscrepancies(ctx, &open, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "W2", found[0].BlockchainValue)
	assert.False(t, found[0].DetectedAt.IsZero())
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(Config{Driver: "oracle"}, logrus.New())
	assert.Error(t, err)
}
