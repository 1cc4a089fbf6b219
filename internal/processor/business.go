package processor

import (
	"context"
	"errors"
	"time"

	"ledgerindexer/internal/metrics"
	"ledgerindexer/internal/mirror"
	"ledgerindexer/internal/models"
	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
)

// applyBusinessUpdate pushes the effect of the transaction to the ticket
// service. Failures are logged and swallowed: the transaction is still
// recorded and reconciliation repairs the drift.
func (p *Processor) applyBusinessUpdate(ctx context.Context, entry *logrus.Entry, tx *solana.SolanaTransaction,
	instructionType models.InstructionType, signature string, slot uint64, blockTime *time.Time) {
	if instructionType == models.InstructionUnknown {
		return
	}

	for _, move := range tokenMovements(tx) {
		ticket, err := p.tickets.GetTicketByToken(ctx, move.Mint)
		if err != nil {
			p.businessFailure(entry, instructionType, move.Mint, err)
			continue
		}
		if ticket == nil {
			// token non della piattaforma
			continue
		}

		switch instructionType {
		case models.InstructionMint:
			err = p.applyMint(ctx, ticket, move, signature, blockTime)
		case models.InstructionTransfer:
			err = p.applyTransfer(ctx, ticket, move, signature, slot, blockTime)
		case models.InstructionBurn:
			err = p.applyBurn(ctx, ticket, move, signature, blockTime)
		}
		if err != nil {
			p.businessFailure(entry, instructionType, move.Mint, err)
		}
	}
}

func (p *Processor) businessFailure(entry *logrus.Entry, instructionType models.InstructionType, tokenID string, err error) {
	metrics.BusinessUpdateFailures.WithLabelValues(string(instructionType)).Inc()
	entry.WithFields(logrus.Fields{
		"token_id": tokenID,
		"error":    err,
	}).Error("Ticket update failed, leaving it to reconciliation")
}

func (p *Processor) applyMint(ctx context.Context, ticket *models.Ticket, move tokenMovement, signature string, blockTime *time.Time) error {
	if move.To == "" {
		return nil
	}
	err := p.tickets.UpdateBlockchainSyncByToken(ctx, move.Mint, models.SyncPatch{
		IsMinted:        models.BoolPtr(true),
		MintTransaction: models.StringPtr(signature),
		WalletAddress:   models.StringPtr(move.To),
		SyncStatus:      models.SyncStatusPtr(models.SyncSynced),
	})
	if err != nil {
		return err
	}
	p.appendActivity(ctx, mirror.WalletActivity{
		WalletAddress: move.To,
		ActivityType:  mirror.ActivityMint,
		TokenID:       move.Mint,
		TicketID:      ticket.ID,
		Signature:     signature,
		Timestamp:     activityTime(blockTime),
	})
	return nil
}

func (p *Processor) applyTransfer(ctx context.Context, ticket *models.Ticket, move tokenMovement, signature string, slot uint64, blockTime *time.Time) error {
	if move.To == "" {
		return nil
	}
	from := move.From
	if from == "" {
		from = ticket.WalletAddress
	}

	err := p.tickets.UpdateBlockchainSyncByToken(ctx, move.Mint, models.SyncPatch{
		WalletAddress: models.StringPtr(move.To),
		SyncStatus:    models.SyncStatusPtr(models.SyncSynced),
	})
	if err != nil {
		return err
	}
	if err := p.tickets.RecordBlockchainTransfer(ctx, models.TransferRecord{
		TicketID:  ticket.ID,
		TokenID:   move.Mint,
		From:      from,
		To:        move.To,
		Signature: signature,
		Slot:      slot,
		BlockTime: blockTime,
	}); err != nil {
		return err
	}

	at := activityTime(blockTime)
	p.appendActivity(ctx, mirror.WalletActivity{
		WalletAddress: from,
		ActivityType:  mirror.ActivityTransferOut,
		TokenID:       move.Mint,
		TicketID:      ticket.ID,
		Signature:     signature,
		Counterparty:  move.To,
		Timestamp:     at,
	})
	p.appendActivity(ctx, mirror.WalletActivity{
		WalletAddress: move.To,
		ActivityType:  mirror.ActivityTransferIn,
		TokenID:       move.Mint,
		TicketID:      ticket.ID,
		Signature:     signature,
		Counterparty:  from,
		Timestamp:     at,
	})
	return nil
}

func (p *Processor) applyBurn(ctx context.Context, ticket *models.Ticket, move tokenMovement, signature string, blockTime *time.Time) error {
	err := p.tickets.UpdateBlockchainSyncByToken(ctx, move.Mint, models.SyncPatch{
		Status:     models.StringPtr(models.TicketStatusBurned),
		SyncStatus: models.SyncStatusPtr(models.SyncSynced),
	})
	if err != nil {
		return err
	}

	owner := move.From
	if owner == "" {
		owner = ticket.WalletAddress
	}
	p.appendActivity(ctx, mirror.WalletActivity{
		WalletAddress: owner,
		ActivityType:  mirror.ActivityBurn,
		TokenID:       move.Mint,
		TicketID:      ticket.ID,
		Signature:     signature,
		Timestamp:     activityTime(blockTime),
	})
	return nil
}

func (p *Processor) appendActivity(ctx context.Context, activity mirror.WalletActivity) {
	if activity.WalletAddress == "" {
		return
	}
	err := p.mirror.InsertWalletActivity(ctx, activity)
	if err == nil || errors.Is(err, mirror.ErrDuplicate) {
		return
	}
	p.log.WithFields(logrus.Fields{
		"signature": activity.Signature,
		"wallet":    activity.WalletAddress,
		"error":     err,
	}).Warn("Wallet activity mirror write failed")
}

func activityTime(blockTime *time.Time) time.Time {
	if blockTime != nil {
		return *blockTime
	}
	return time.Now().UTC()
}
