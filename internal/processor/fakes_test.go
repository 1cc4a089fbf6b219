package processor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ledgerindexer/internal/mirror"
	"ledgerindexer/internal/models"
	"ledgerindexer/internal/resilience"
	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
)

type fakeLedger struct {
	mu    sync.Mutex
	txs   map[string]*solana.SolanaTransaction
	calls int
}

func (l *fakeLedger) GetParsedTransaction(_ context.Context, signature string) (*solana.SolanaTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	tx, ok := l.txs[signature]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return tx, nil
}

type fakeStore struct {
	mu        sync.Mutex
	indexed   map[string]models.IndexedTransaction
	failed    map[string]*models.FailedMirrorWrite
	recordErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		indexed: make(map[string]models.IndexedTransaction),
		failed:  make(map[string]*models.FailedMirrorWrite),
	}
}

func (s *fakeStore) IsProcessed(_ context.Context, signature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexed[signature]
	return ok, nil
}

func (s *fakeStore) RecordTransaction(_ context.Context, tx *models.IndexedTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return false, s.recordErr
	}
	if _, ok := s.indexed[tx.Signature]; ok {
		return false, nil
	}
	s.indexed[tx.Signature] = *tx
	return true, nil
}

func (s *fakeStore) RecordFailedMirrorWrite(_ context.Context, failed *models.FailedMirrorWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.failed[failed.Signature]; ok {
		existing.RetryCount++
		existing.ErrorMessage = failed.ErrorMessage
		return nil
	}
	copied := *failed
	copied.RetryCount = 1
	s.failed[failed.Signature] = &copied
	return nil
}

type fakeMirror struct {
	mu         sync.Mutex
	docs       map[string]mirror.TransactionRecord
	activities []mirror.WalletActivity
	insertErr  error
	attempts   int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{docs: make(map[string]mirror.TransactionRecord)}
}

func (m *fakeMirror) InsertTransaction(_ context.Context, record mirror.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.docs[record.Signature]; ok {
		return mirror.ErrDuplicate
	}
	m.docs[record.Signature] = record
	return nil
}

func (m *fakeMirror) InsertWalletActivity(_ context.Context, activity mirror.WalletActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, activity)
	return nil
}

func (m *fakeMirror) Close(context.Context) error { return nil }

type fakeTickets struct {
	mu        sync.Mutex
	byToken   map[string]*models.Ticket
	patches   map[string][]models.SyncPatch
	transfers []models.TransferRecord
	updateErr error
}

func newFakeTickets(tickets ...*models.Ticket) *fakeTickets {
	f := &fakeTickets{
		byToken: make(map[string]*models.Ticket),
		patches: make(map[string][]models.SyncPatch),
	}
	for _, t := range tickets {
		f.byToken[t.TokenID] = t
	}
	return f
}

func (f *fakeTickets) GetTicketByToken(_ context.Context, tokenID string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byToken[tokenID], nil
}

func (f *fakeTickets) UpdateBlockchainSyncByToken(_ context.Context, tokenID string, patch models.SyncPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.patches[tokenID] = append(f.patches[tokenID], patch)
	return nil
}

func (f *fakeTickets) RecordBlockchainTransfer(_ context.Context, transfer models.TransferRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transfer)
	return nil
}

type balance struct {
	index  int64
	mint   string
	owner  string
	amount string
}

func tokenBalances(balances ...balance) []solana.TokenBalance {
	out := make([]solana.TokenBalance, len(balances))
	for i, b := range balances {
		out[i] = solana.TokenBalance{
			AccountIndex: b.index,
			Mint:         b.mint,
			Owner:        b.owner,
			ProgramId:    "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
			UiTokenAmount: solana.UiTokenAmount{
				Amount:         b.amount,
				UiAmountString: b.amount,
			},
		}
	}
	return out
}

func newTx(signature string, slot uint64, logs []string, pre, post []solana.TokenBalance) *solana.SolanaTransaction {
	blockTime := int64(1700000000)
	return &solana.SolanaTransaction{
		Slot:      slot,
		BlockTime: &blockTime,
		Transaction: solana.TransactionData{
			Signatures: []string{signature},
			Message: solana.Message{
				AccountKeys: []solana.Account{{Pubkey: "Payer", Signer: true, Writable: true}, {Pubkey: "Ata1"}, {Pubkey: "Ata2"}},
			},
		},
		Meta: &solana.TransactionMeta{
			PreBalances:       []uint64{100, 0, 0},
			PostBalances:      []uint64{90, 0, 0},
			PreTokenBalances:  pre,
			PostTokenBalances: post,
			LogMessages:       logs,
		},
	}
}

type harness struct {
	ledger  *fakeLedger
	store   *fakeStore
	mirror  *fakeMirror
	tickets *fakeTickets
	proc    *Processor
}

func newHarness(t *testing.T, tickets *fakeTickets, txs ...*solana.SolanaTransaction) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		ledger:  &fakeLedger{txs: make(map[string]*solana.SolanaTransaction)},
		store:   newFakeStore(),
		mirror:  newFakeMirror(),
		tickets: tickets,
	}
	for _, tx := range txs {
		h.ledger.txs[tx.Signature()] = tx
	}
	h.proc = New(h.ledger, h.store, h.mirror, h.tickets, log, WithMirrorRetry(resilience.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     4 * time.Millisecond,
		Retryable:    resilience.RetryAll,
	}))
	return h
}

var errUnavailable = errors.New("service unavailable")
