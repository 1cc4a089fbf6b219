package reconcile

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/models"

	"github.com/sirupsen/logrus"
)

type MarketplaceCheck struct {
	Checked    int `json:"checked"`
	Mismatches int `json:"mismatches"`
	Corrected  int `json:"corrected"`
	Errors     int `json:"errors"`
}

// VerifyMarketplaceActivity checks that the buyer of each recent sale still
// holds the token. Only the latest sale of a token is checked.
func (e *Engine) VerifyMarketplaceActivity(ctx context.Context) (MarketplaceCheck, error) {
	var check MarketplaceCheck

	sales, err := e.store.RecentActivity(ctx, models.ActivitySale, e.now().Add(-e.cfg.MarketplaceWindow))
	if err != nil {
		return check, err
	}

	// vince la vendita più recente sul ledger, non l'ultima indicizzata
	latest := make(map[string]models.MarketplaceActivity, len(sales))
	order := make([]string, 0, len(sales))
	for _, sale := range sales {
		current, seen := latest[sale.TokenID]
		if !seen {
			order = append(order, sale.TokenID)
		}
		if !seen || !happenedAt(sale).Before(happenedAt(current)) {
			latest[sale.TokenID] = sale
		}
	}

	for _, tokenID := range order {
		if ctx.Err() != nil {
			return check, ctx.Err()
		}
		sale := latest[tokenID]
		check.Checked++

		entry := e.log.WithFields(logrus.Fields{
			"token_id":    tokenID,
			"marketplace": sale.Marketplace,
			"signature":   sale.TransactionSignature,
		})

		state, err := e.TokenState(ctx, tokenID)
		if err != nil {
			check.Errors++
			entry.WithField("error", err).Warn("Marketplace verification failed")
			continue
		}
		// i token bruciati li gestisce la scansione dei burn
		if !state.Exists || state.Burned || state.Owner == sale.Buyer {
			continue
		}

		check.Mismatches++
		entry.WithFields(logrus.Fields{
			"buyer": sale.Buyer,
			"owner": state.Owner,
		}).Warn("Marketplace buyer does not hold the token")

		ticketID := tokenID
		if sale.TicketID != nil {
			ticketID = *sale.TicketID
		}
		now := e.now()
		if err := e.store.InsertDiscrepancy(ctx, &models.OwnershipDiscrepancy{
			TicketID:        ticketID,
			DiscrepancyType: models.DiscrepancyMarketplaceMismatch,
			DatabaseValue:   sale.Buyer,
			BlockchainValue: state.Owner,
			DetectedAt:      now,
		}); err != nil {
			check.Errors++
			entry.WithField("error", err).Error("Failed to record marketplace mismatch")
			continue
		}
		metrics.Discrepancies.WithLabelValues(string(models.DiscrepancyMarketplaceMismatch)).Inc()

		if state.Owner == "" {
			continue
		}
		if err := e.tickets.UpdateBlockchainSyncByToken(ctx, tokenID, models.SyncPatch{
			WalletAddress:    models.StringPtr(state.Owner),
			LastReconciledAt: &now,
		}); err != nil {
			check.Errors++
			entry.WithField("error", fmt.Errorf("push owner correction: %w", err)).Error("Owner correction failed")
			continue
		}
		check.Corrected++
	}

	return check, nil
}

// happenedAt is the ledger time of an activity, or its insertion time when the
// block time is unknown.
func happenedAt(a models.MarketplaceActivity) time.Time {
	if a.BlockTime != nil {
		return *a.BlockTime
	}
	return a.CreatedAt
}
