package reconcile

import (
	"context"
	"fmt"

	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/models"

	"github.com/sirupsen/logrus"
)

type BurnScan struct {
	Checked  int `json:"checked"`
	Detected int `json:"detected"`
	Errors   int `json:"errors"`
}

// DetectBurns looks for minted tickets whose token has been burned on the
// ledger. A failed lookup is counted and the scan moves on.
func (e *Engine) DetectBurns(ctx context.Context) (BurnScan, error) {
	var scan BurnScan

	tickets, err := e.tickets.GetTicketsForReconciliation(ctx, models.ReconciliationFilter{
		MintedOnly:         true,
		ExcludeStatuses:    []string{models.TicketStatusBurned},
		Limit:              e.cfg.BurnScanLimit,
		OldestCheckedFirst: true,
	})
	if err != nil {
		return scan, fmt.Errorf("load tickets: %w", err)
	}

	for _, ticket := range tickets {
		if ctx.Err() != nil {
			return scan, ctx.Err()
		}
		scan.Checked++

		entry := e.log.WithFields(logrus.Fields{
			"ticket_id": ticket.ID,
			"token_id":  ticket.TokenID,
		})

		state, err := e.TokenState(ctx, ticket.TokenID)
		if err != nil {
			scan.Errors++
			entry.WithField("error", err).Warn("Burn check failed")
			continue
		}
		if !state.Exists || !state.Burned {
			continue
		}

		now := e.now()
		if err := e.tickets.UpdateBlockchainSync(ctx, ticket.ID, models.SyncPatch{
			Status:           models.StringPtr(models.TicketStatusBurned),
			SyncStatus:       models.SyncStatusPtr(models.SyncSynced),
			LastReconciledAt: &now,
		}); err != nil {
			scan.Errors++
			entry.WithField("error", err).Error("Failed to record burn")
			continue
		}

		// voce di log: la discrepanza nasce già risolta
		if err := e.store.InsertDiscrepancy(ctx, &models.OwnershipDiscrepancy{
			TicketID:        ticket.ID,
			DiscrepancyType: models.DiscrepancyBurnDetected,
			DatabaseValue:   ticket.Status,
			BlockchainValue: "burned",
			Resolved:        true,
			DetectedAt:      now,
			ResolvedAt:      &now,
		}); err != nil {
			scan.Errors++
			entry.WithField("error", err).Error("Failed to log burn detection")
			continue
		}

		scan.Detected++
		metrics.Discrepancies.WithLabelValues(string(models.DiscrepancyBurnDetected)).Inc()
		entry.Info("Burn detected")
	}

	e.log.WithFields(logrus.Fields{
		"checked":  scan.Checked,
		"detected": scan.Detected,
		"errors":   scan.Errors,
	}).Info("Burn scan finished")

	return scan, nil
}
