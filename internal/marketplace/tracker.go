// Package marketplace follows secondary-market activity for platform tokens
// on external marketplace programs.
package marketplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledgerindexer/internal/dedup"
	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/models"
	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
)

const pushFetchLimit = 5

type Ledger interface {
	GetParsedTransaction(ctx context.Context, signature string) (*solana.SolanaTransaction, error)
	GetSignaturesForAddress(ctx context.Context, address string, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error)
	OnProgramAccountChange(ctx context.Context, program string, cb func(solana.ProgramAccountEvent)) (solana.Subscription, error)
}

type Store interface {
	InsertActivity(ctx context.Context, activity *models.MarketplaceActivity) (bool, error)
}

type Tickets interface {
	CheckTokenExists(ctx context.Context, tokenID string) (bool, error)
	GetTicketByToken(ctx context.Context, tokenID string) (*models.Ticket, error)
	UpdateMarketplaceStatus(ctx context.Context, update models.MarketplaceStatusUpdate) error
}

type Deduplicator interface {
	CheckAndMark(ctx context.Context, e dedup.Event) bool
	Clear(ctx context.Context, e dedup.Event) error
}

type Config struct {
	Marketplaces []Marketplace
	PollInterval time.Duration
	PollLimit    int
}

type Tracker struct {
	cfg     Config
	ledger  Ledger
	store   Store
	tickets Tickets
	dedup   Deduplicator
	log     *logrus.Logger
}

func NewTracker(cfg Config, ledger Ledger, store Store, tickets Tickets, dedup Deduplicator, log *logrus.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 20
	}
	return &Tracker{
		cfg:     cfg,
		ledger:  ledger,
		store:   store,
		tickets: tickets,
		dedup:   dedup,
		log:     log,
	}
}

// Tracking is the handle of a running tracker.
type Tracking struct {
	cancel context.CancelFunc
	subs   []solana.Subscription
	wg     sync.WaitGroup
	once   sync.Once
}

// Stop cancels subscriptions and the poll loop and waits for them to exit.
// It is safe to call more than once and on a nil handle.
func (tr *Tracking) Stop() {
	if tr == nil {
		return
	}
	tr.once.Do(func() {
		tr.cancel()
		for _, sub := range tr.subs {
			sub.Unsubscribe()
		}
		tr.wg.Wait()
	})
}

// Start subscribes to every marketplace program and starts the poll loop.
// A program whose subscription fails is still covered by polling.
func (t *Tracker) Start(ctx context.Context) (*Tracking, error) {
	if len(t.cfg.Marketplaces) == 0 {
		return nil, fmt.Errorf("no marketplaces configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	tracking := &Tracking{cancel: cancel}

	for _, m := range t.cfg.Marketplaces {
		m := m
		trigger := make(chan struct{}, 1)

		sub, err := t.ledger.OnProgramAccountChange(runCtx, m.ProgramID, func(solana.ProgramAccountEvent) {
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
		if err != nil {
			t.log.WithFields(logrus.Fields{
				"marketplace": m.Name,
				"error":       err,
			}).Warn("Subscription failed, relying on polling")
			continue
		}
		tracking.subs = append(tracking.subs, sub)

		tracking.wg.Add(1)
		go func() {
			defer tracking.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-trigger:
					t.poll(runCtx, m, pushFetchLimit)
				}
			}
		}()
	}

	tracking.wg.Add(1)
	go func() {
		defer tracking.wg.Done()
		t.pollLoop(runCtx)
	}()

	t.log.WithField("marketplaces", len(t.cfg.Marketplaces)).Info("Marketplace tracking started")
	return tracking, nil
}

func (t *Tracker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.PollOnce(ctx)
		}
	}
}

// PollOnce checks the latest signatures of every marketplace.
func (t *Tracker) PollOnce(ctx context.Context) {
	for _, m := range t.cfg.Marketplaces {
		if ctx.Err() != nil {
			return
		}
		t.poll(ctx, m, t.cfg.PollLimit)
	}
}

func (t *Tracker) poll(ctx context.Context, m Marketplace, limit int) {
	sigs, err := t.ledger.GetSignaturesForAddress(ctx, m.ProgramID, solana.SignaturesOptions{Limit: limit})
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"marketplace": m.Name,
			"error":       err,
		}).Warn("Failed to fetch marketplace signatures")
		return
	}

	// dal più vecchio al più recente
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Err != nil {
			continue
		}
		if err := t.HandleSignature(ctx, m, sigs[i].Signature); err != nil {
			t.log.WithFields(logrus.Fields{
				"marketplace": m.Name,
				"signature":   sigs[i].Signature,
				"error":       err,
			}).Warn("Marketplace transaction failed")
		}
	}
}

// HandleSignature records the marketplace event of one signature and pushes the
// ticket's marketplace status. Redelivery never inserts a second row; on any
// failure the dedup marker is cleared so the next delivery retries.
func (t *Tracker) HandleSignature(ctx context.Context, m Marketplace, signature string) error {
	event := dedup.Event{ID: signature, Type: "marketplace:" + m.Name}
	if !t.dedup.CheckAndMark(ctx, event) {
		metrics.DuplicateEvents.WithLabelValues(event.Type).Inc()
		return nil
	}

	if err := t.handle(ctx, m, signature); err != nil {
		if clearErr := t.dedup.Clear(ctx, event); clearErr != nil {
			t.log.WithFields(logrus.Fields{
				"signature": signature,
				"error":     clearErr,
			}).Warn("Failed to clear dedup marker")
		}
		return err
	}
	return nil
}

func (t *Tracker) handle(ctx context.Context, m Marketplace, signature string) error {
	tx, err := t.ledger.GetParsedTransaction(ctx, signature)
	if err != nil {
		return fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil {
		return fmt.Errorf("fetch transaction: %w", solana.ErrNotFound)
	}

	event, ok := m.Parse(tx)
	if !ok {
		return nil
	}

	ours, err := t.tickets.CheckTokenExists(ctx, event.TokenID)
	if err != nil {
		return fmt.Errorf("check token %s: %w", event.TokenID, err)
	}
	if !ours {
		return nil
	}

	ticket, err := t.tickets.GetTicketByToken(ctx, event.TokenID)
	if err != nil {
		return fmt.Errorf("get ticket for %s: %w", event.TokenID, err)
	}

	activity := &models.MarketplaceActivity{
		TokenID:              event.TokenID,
		Marketplace:          m.Name,
		ActivityType:         event.Type,
		Price:                event.Price,
		Seller:               event.Seller,
		Buyer:                event.Buyer,
		TransactionSignature: signature,
		BlockTime:            tx.BlockTimeUTC(),
	}
	if ticket != nil {
		activity.TicketID = &ticket.ID
	}

	inserted, err := t.store.InsertActivity(ctx, activity)
	if err != nil {
		return err
	}

	entry := t.log.WithFields(logrus.Fields{
		"marketplace": m.Name,
		"signature":   signature,
		"token_id":    event.TokenID,
		"activity":    event.Type,
	})
	if inserted {
		metrics.MarketplaceEvents.WithLabelValues(m.Name, string(event.Type)).Inc()
		entry.Info("Marketplace activity recorded")
	}

	if ticket == nil {
		return nil
	}
	// l'update è idempotente: una riconsegna della stessa firma lo ripete anche
	// se la riga esiste già
	if err := t.tickets.UpdateMarketplaceStatus(ctx, models.MarketplaceStatusUpdate{
		TokenID:     event.TokenID,
		TicketID:    ticket.ID,
		Marketplace: m.Name,
		Activity:    event.Type,
		Price:       event.Price,
		Seller:      event.Seller,
		Buyer:       event.Buyer,
		Signature:   signature,
	}); err != nil {
		return fmt.Errorf("update marketplace status for %s: %w", event.TokenID, err)
	}
	return nil
}

// Resolve maps configured names to known marketplaces.
func Resolve(names []string) ([]Marketplace, error) {
	out := make([]Marketplace, 0, len(names))
	for _, name := range names {
		m, ok := Known[name]
		if !ok {
			return nil, fmt.Errorf("unknown marketplace %q", name)
		}
		out = append(out, m)
	}
	return out, nil
}
