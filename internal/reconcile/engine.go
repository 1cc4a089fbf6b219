// Package reconcile compares the ticket service's view of each token with the
// ledger and records the differences.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/models"
	"ledgerindexer/internal/solana"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Ledger interface {
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]solana.TokenAccountBalance, error)
	GetParsedAccountInfo(ctx context.Context, pubkey string) (*solana.ParsedTokenAccount, error)
}

type Tickets interface {
	GetTicketsForReconciliation(ctx context.Context, filter models.ReconciliationFilter) ([]models.Ticket, error)
	UpdateBlockchainSync(ctx context.Context, ticketID string, patch models.SyncPatch) error
	UpdateBlockchainSyncByToken(ctx context.Context, tokenID string, patch models.SyncPatch) error
}

type Store interface {
	InsertDiscrepancy(ctx context.Context, d *models.OwnershipDiscrepancy) error
	RecentActivity(ctx context.Context, activityType models.ActivityType, since time.Time) ([]models.MarketplaceActivity, error)
	CreateRun(ctx context.Context, run *models.ReconciliationRun) error
	FinishRun(ctx context.Context, run *models.ReconciliationRun) error
	InsertReconciliationLogs(ctx context.Context, logs []models.ReconciliationLog) error
}

type Config struct {
	SampleSize        int
	BurnScanLimit     int
	MarketplaceWindow time.Duration
}

type Engine struct {
	cfg     Config
	ledger  Ledger
	tickets Tickets
	store   Store
	now     func() time.Time
	log     *logrus.Logger
}

func NewEngine(cfg Config, ledger Ledger, tickets Tickets, store Store, log *logrus.Logger) *Engine {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if cfg.BurnScanLimit <= 0 {
		cfg.BurnScanLimit = 50
	}
	if cfg.MarketplaceWindow <= 0 {
		cfg.MarketplaceWindow = time.Hour
	}
	return &Engine{
		cfg:     cfg,
		ledger:  ledger,
		tickets: tickets,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// TokenState is the ledger truth for one token.
type TokenState struct {
	Exists  bool
	Burned  bool
	Owner   string
	Account string
}

// TokenState reads the holder of mint. A mint with no positive balance is
// reported as burned.
func (e *Engine) TokenState(ctx context.Context, mint string) (TokenState, error) {
	accounts, err := e.ledger.GetTokenLargestAccounts(ctx, mint)
	if errors.Is(err, solana.ErrNotFound) {
		return TokenState{}, nil
	}
	if err != nil {
		return TokenState{}, fmt.Errorf("largest accounts of %s: %w", mint, err)
	}

	holder := ""
	for _, acc := range accounts {
		if acc.Amount != "" && acc.Amount != "0" {
			holder = acc.Address
			break
		}
	}
	if holder == "" {
		return TokenState{Exists: true, Burned: true}, nil
	}

	info, err := e.ledger.GetParsedAccountInfo(ctx, holder)
	if err != nil {
		return TokenState{}, fmt.Errorf("account %s of %s: %w", holder, mint, err)
	}
	// un account non parsato non dice chi è il proprietario
	if info.Owner == "" {
		return TokenState{}, fmt.Errorf("account %s of %s is not a parsed token account", holder, mint)
	}
	return TokenState{Exists: true, Owner: info.Owner, Account: holder}, nil
}

func settled(status string) bool {
	return status == models.TicketStatusBurned || status == models.TicketStatusCancelled
}

// compare applies the decision table of a single ticket check.
func compare(ticket models.Ticket, state TokenState) []models.Discrepancy {
	var found []models.Discrepancy

	switch {
	case !state.Exists:
		if ticket.IsMinted {
			found = append(found, models.Discrepancy{
				Type:       models.DiscrepancyTokenNotFound,
				DBValue:    "minted",
				ChainValue: "not_found",
			})
		}
		if !settled(ticket.Status) {
			found = append(found, models.Discrepancy{
				Type:       models.DiscrepancyTokenBurned,
				DBValue:    ticket.Status,
				ChainValue: "not_found",
			})
		}
	case state.Burned:
		if ticket.Status != models.TicketStatusBurned {
			found = append(found, models.Discrepancy{
				Type:       models.DiscrepancyBurnNotRecorded,
				DBValue:    ticket.Status,
				ChainValue: "burned",
			})
		}
	case state.Owner != ticket.WalletAddress:
		found = append(found, models.Discrepancy{
			Type:       models.DiscrepancyOwnershipMismatch,
			DBValue:    ticket.WalletAddress,
			ChainValue: state.Owner,
		})
	}

	return found
}

// CheckTicket compares one ticket with the ledger and records every
// discrepancy. A clean ticket is marked SYNCED; any failure marks it ERROR.
func (e *Engine) CheckTicket(ctx context.Context, ticket models.Ticket) ([]models.Discrepancy, error) {
	found, err := e.checkTicket(ctx, ticket)
	if err != nil {
		if markErr := e.tickets.UpdateBlockchainSync(ctx, ticket.ID, models.SyncPatch{
			SyncStatus: models.SyncStatusPtr(models.SyncError),
		}); markErr != nil {
			e.log.WithFields(logrus.Fields{
				"ticket_id": ticket.ID,
				"error":     markErr,
			}).Error("Failed to flag ticket sync error")
		}
		return nil, err
	}
	return found, nil
}

func (e *Engine) checkTicket(ctx context.Context, ticket models.Ticket) ([]models.Discrepancy, error) {
	state, err := e.TokenState(ctx, ticket.TokenID)
	if err != nil {
		return nil, err
	}

	found := compare(ticket, state)
	now := e.now()

	for _, d := range found {
		if err := e.store.InsertDiscrepancy(ctx, &models.OwnershipDiscrepancy{
			TicketID:        ticket.ID,
			DiscrepancyType: d.Type,
			DatabaseValue:   d.DBValue,
			BlockchainValue: d.ChainValue,
			DetectedAt:      now,
		}); err != nil {
			return nil, err
		}
		metrics.Discrepancies.WithLabelValues(string(d.Type)).Inc()

		e.log.WithFields(logrus.Fields{
			"ticket_id":   ticket.ID,
			"token_id":    ticket.TokenID,
			"type":        d.Type,
			"db_value":    d.DBValue,
			"chain_value": d.ChainValue,
		}).Warn("Discrepancy detected")
	}

	if len(found) > 0 {
		return found, nil
	}

	if err := e.tickets.UpdateBlockchainSync(ctx, ticket.ID, models.SyncPatch{
		SyncStatus:       models.SyncStatusPtr(models.SyncSynced),
		LastReconciledAt: &now,
	}); err != nil {
		return nil, fmt.Errorf("mark ticket %s synced: %w", ticket.ID, err)
	}
	return nil, nil
}

// RunReconciliation checks a sample of minted tickets, least recently
// reconciled first, and persists the run with one log entry per ticket.
func (e *Engine) RunReconciliation(ctx context.Context) (*models.ReconciliationRun, error) {
	run := &models.ReconciliationRun{
		ID:        uuid.New().String(),
		StartedAt: e.now(),
		Status:    models.RunRunning,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	entry := e.log.WithField("run_id", run.ID)

	tickets, err := e.tickets.GetTicketsForReconciliation(ctx, models.ReconciliationFilter{
		MintedOnly:         true,
		Limit:              e.cfg.SampleSize,
		OldestCheckedFirst: true,
	})
	if err != nil {
		e.finish(ctx, run, models.RunFailed)
		return run, fmt.Errorf("load tickets: %w", err)
	}

	logs := make([]models.ReconciliationLog, 0, len(tickets))
	for _, ticket := range tickets {
		if ctx.Err() != nil {
			break
		}
		run.TicketsChecked++

		record := models.ReconciliationLog{
			RunID:    run.ID,
			TicketID: ticket.ID,
			TokenID:  ticket.TokenID,
		}

		found, err := e.CheckTicket(ctx, ticket)
		switch {
		case err != nil:
			run.Errors++
			record.Action = "error"
			record.Detail = err.Error()
			entry.WithFields(logrus.Fields{
				"ticket_id": ticket.ID,
				"error":     err,
			}).Error("Ticket check failed")
		case len(found) > 0:
			run.DiscrepanciesFound += len(found)
			record.Action = "discrepancy"
			record.Detail = describe(found)
		default:
			record.Action = "synced"
		}
		logs = append(logs, record)
	}

	if err := e.store.InsertReconciliationLogs(ctx, logs); err != nil {
		entry.WithField("error", err).Error("Failed to write reconciliation log")
	}

	status := models.RunCompleted
	if ctx.Err() != nil {
		status = models.RunFailed
	}
	e.finish(ctx, run, status)

	entry.WithFields(logrus.Fields{
		"checked":       run.TicketsChecked,
		"discrepancies": run.DiscrepanciesFound,
		"errors":        run.Errors,
	}).Info("Reconciliation run finished")

	return run, ctx.Err()
}

func (e *Engine) finish(ctx context.Context, run *models.ReconciliationRun, status models.RunStatus) {
	finished := e.now()
	run.FinishedAt = &finished
	run.Status = status
	// il run va chiuso anche se il contesto è scaduto
	if err := e.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		e.log.WithFields(logrus.Fields{
			"run_id": run.ID,
			"error":  err,
		}).Error("Failed to finish reconciliation run")
	}
}

func describe(found []models.Discrepancy) string {
	parts := make([]string, len(found))
	for i, d := range found {
		parts[i] = fmt.Sprintf("%s: db=%s chain=%s", d.Type, d.DBValue, d.ChainValue)
	}
	return strings.Join(parts, "; ")
}
