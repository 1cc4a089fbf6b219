package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ledgerindexer/internal/mirror"
	"ledgerindexer/internal/models"
	"ledgerindexer/internal/solana"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintTx(signature string) *solana.SolanaTransaction {
	return newTx(signature, 100,
		[]string{"Program log: Instruction: MintTo"},
		nil,
		tokenBalances(balance{index: 1, mint: "MintA", owner: "W1", amount: "1"}),
	)
}

func TestProcess_Mint(t *testing.T) {
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA"}), mintTx("sigMint"))

	require.NoError(t, h.proc.Process(context.Background(), "sigMint", 100, nil))

	row, ok := h.store.indexed["sigMint"]
	require.True(t, ok)
	assert.Equal(t, models.InstructionMint, row.InstructionType)
	require.NotNil(t, row.BlockTime)
	assert.Equal(t, int64(1700000000), row.BlockTime.Unix())

	doc, ok := h.mirror.docs["sigMint"]
	require.True(t, ok)
	assert.Equal(t, "MINT", doc.InstructionType)

	patches := h.tickets.patches["MintA"]
	require.Len(t, patches, 1)
	assert.True(t, *patches[0].IsMinted)
	assert.Equal(t, "W1", *patches[0].WalletAddress)
	assert.Equal(t, "sigMint", *patches[0].MintTransaction)
	assert.Equal(t, models.SyncSynced, *patches[0].SyncStatus)

	require.Len(t, h.mirror.activities, 1)
	assert.Equal(t, mirror.ActivityMint, h.mirror.activities[0].ActivityType)
	assert.Equal(t, "W1", h.mirror.activities[0].WalletAddress)
}

func TestProcess_Transfer(t *testing.T) {
	tx := newTx("sigTransfer", 200,
		[]string{"Program log: Instruction: TransferChecked"},
		tokenBalances(balance{index: 1, mint: "MintA", owner: "W1", amount: "1"}),
		tokenBalances(
			balance{index: 1, mint: "MintA", owner: "W1", amount: "0"},
			balance{index: 2, mint: "MintA", owner: "W2", amount: "1"},
		),
	)
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA", WalletAddress: "W1"}), tx)

	require.NoError(t, h.proc.Process(context.Background(), "sigTransfer", 200, nil))

	assert.Equal(t, models.InstructionTransfer, h.store.indexed["sigTransfer"].InstructionType)
	patches := h.tickets.patches["MintA"]
	require.Len(t, patches, 1)
	assert.Equal(t, "W2", *patches[0].WalletAddress)
	assert.Nil(t, patches[0].IsMinted)

	require.Len(t, h.tickets.transfers, 1)
	transfer := h.tickets.transfers[0]
	assert.Equal(t, "t1", transfer.TicketID)
	assert.Equal(t, "W1", transfer.From)
	assert.Equal(t, "W2", transfer.To)
	assert.Equal(t, uint64(200), transfer.Slot)

	require.Len(t, h.mirror.activities, 2)
	assert.Equal(t, mirror.ActivityTransferOut, h.mirror.activities[0].ActivityType)
	assert.Equal(t, mirror.ActivityTransferIn, h.mirror.activities[1].ActivityType)
}

func TestProcess_Burn(t *testing.T) {
	tx := newTx("sigBurn", 300,
		[]string{"Program log: Instruction: BurnChecked"},
		tokenBalances(balance{index: 1, mint: "MintA", owner: "W1", amount: "1"}),
		tokenBalances(balance{index: 1, mint: "MintA", owner: "W1", amount: "0"}),
	)
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA", WalletAddress: "W1"}), tx)

	require.NoError(t, h.proc.Process(context.Background(), "sigBurn", 300, nil))

	patches := h.tickets.patches["MintA"]
	require.Len(t, patches, 1)
	assert.Equal(t, models.TicketStatusBurned, *patches[0].Status)
	require.Len(t, h.mirror.activities, 1)
	assert.Equal(t, mirror.ActivityBurn, h.mirror.activities[0].ActivityType)
	assert.Equal(t, "W1", h.mirror.activities[0].WalletAddress)
}

func TestProcess_Idempotent(t *testing.T) {
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA"}), mintTx("sigMint"))
	ctx := context.Background()

	require.NoError(t, h.proc.Process(ctx, "sigMint", 100, nil))
	require.NoError(t, h.proc.Process(ctx, "sigMint", 100, nil))

	assert.Len(t, h.store.indexed, 1)
	assert.Len(t, h.mirror.docs, 1)
	assert.Equal(t, 1, h.ledger.calls)
	assert.Len(t, h.tickets.patches["MintA"], 1)
}

func TestProcess_ConcurrentSameSignature(t *testing.T) {
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA"}), mintTx("sigMint"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.proc.Process(context.Background(), "sigMint", 100, nil))
		}()
	}
	wg.Wait()

	assert.Len(t, h.store.indexed, 1)
	assert.Len(t, h.mirror.docs, 1)
}

func TestProcess_MirrorDuplicateIsSuccess(t *testing.T) {
	h := newHarness(t, newFakeTickets(), mintTx("sigMint"))
	// a previous run wrote the mirror but crashed before recording
	h.mirror.docs["sigMint"] = mirror.TransactionRecord{Signature: "sigMint"}

	require.NoError(t, h.proc.Process(context.Background(), "sigMint", 100, nil))
	assert.Contains(t, h.store.indexed, "sigMint")
	assert.Len(t, h.mirror.docs, 1)
}

func TestProcess_MirrorExhaustedRecordsDeadLetter(t *testing.T) {
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA"}), mintTx("sigMint"))
	h.mirror.insertErr = errors.New("connection refused")
	ctx := context.Background()

	err := h.proc.Process(ctx, "sigMint", 100, nil)
	var procErr *ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "mirror_write", procErr.Op)
	assert.Equal(t, "sigMint", procErr.Signature)

	assert.Equal(t, 4, h.mirror.attempts)
	assert.NotContains(t, h.store.indexed, "sigMint")
	assert.Empty(t, h.tickets.patches)

	failed := h.store.failed["sigMint"]
	require.NotNil(t, failed)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "CONNECTION", failed.ErrorCode)
	assert.Equal(t, uint64(100), failed.Slot)

	require.Error(t, h.proc.Process(ctx, "sigMint", 100, nil))
	assert.Equal(t, 2, h.store.failed["sigMint"].RetryCount)
}

func TestProcess_BusinessFailureIsSwallowed(t *testing.T) {
	tickets := newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA"})
	tickets.updateErr = errUnavailable
	h := newHarness(t, tickets, mintTx("sigMint"))

	require.NoError(t, h.proc.Process(context.Background(), "sigMint", 100, nil))
	assert.Contains(t, h.store.indexed, "sigMint")
	assert.Empty(t, h.mirror.activities)
}

func TestProcess_ForeignTokenSkipsBusinessUpdate(t *testing.T) {
	h := newHarness(t, newFakeTickets(), mintTx("sigMint"))

	require.NoError(t, h.proc.Process(context.Background(), "sigMint", 100, nil))
	assert.Contains(t, h.store.indexed, "sigMint")
	assert.Empty(t, h.tickets.patches)
	assert.Empty(t, h.mirror.activities)
}

func TestProcess_UnknownIsRecorded(t *testing.T) {
	tx := newTx("sigOther", 50, []string{"Program log: Instruction: SetAuthority"}, nil, nil)
	h := newHarness(t, newFakeTickets(), tx)

	require.NoError(t, h.proc.Process(context.Background(), "sigOther", 50, nil))
	assert.Equal(t, models.InstructionUnknown, h.store.indexed["sigOther"].InstructionType)
}

func TestProcess_NotOnLedger(t *testing.T) {
	h := newHarness(t, newFakeTickets())

	require.NoError(t, h.proc.Process(context.Background(), "pruned", 10, nil))
	assert.Empty(t, h.store.indexed)
	assert.Empty(t, h.mirror.docs)
}

func TestProcess_FailedTransactionSkipsBusinessUpdate(t *testing.T) {
	tx := mintTx("sigFailed")
	tx.Meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
	h := newHarness(t, newFakeTickets(&models.Ticket{ID: "t1", TokenID: "MintA"}), tx)

	require.NoError(t, h.proc.Process(context.Background(), "sigFailed", 100, nil))
	assert.Contains(t, h.store.indexed, "sigFailed")
	assert.Empty(t, h.tickets.patches)
}

func TestProcess_RecordFailureIsReturned(t *testing.T) {
	h := newHarness(t, newFakeTickets(), mintTx("sigMint"))
	h.store.recordErr = errors.New("deadlock")

	err := h.proc.Process(context.Background(), "sigMint", 100, nil)
	var procErr *ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "record", procErr.Op)
	assert.ErrorIs(t, err, h.store.recordErr)
}
