package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerindexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const checkpointID = 1

func (db *Database) IsProcessed(ctx context.Context, signature string) (bool, error) {
	var count int64
	err := db.db.WithContext(ctx).
		Model(&models.IndexedTransaction{}).
		Where("signature = ?", signature).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check indexed transaction: %w", err)
	}
	return count > 0, nil
}

// RecordTransaction inserts the row or does nothing if the signature is known.
func (db *Database) RecordTransaction(ctx context.Context, tx *models.IndexedTransaction) (bool, error) {
	result := db.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "signature"}}, DoNothing: true}).
		Create(tx)
	if result.Error != nil {
		return false, fmt.Errorf("insert indexed transaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecordFailedMirrorWrite inserts a dead-letter row or bumps retry_count on
// an existing one. A row previously handed to repair is reopened.
func (db *Database) RecordFailedMirrorWrite(ctx context.Context, failed *models.FailedMirrorWrite) error {
	if failed.RetryCount == 0 {
		failed.RetryCount = 1
	}

	err := db.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signature"}},
			DoUpdates: clause.Assignments(map[string]any{
				"retry_count":   gorm.Expr("failed_mongodb_writes.retry_count + 1"),
				"error_message": failed.ErrorMessage,
				"error_code":    failed.ErrorCode,
				"updated_at":    time.Now().UTC(),
				"resolution_status": gorm.Expr(
					"CASE WHEN failed_mongodb_writes.resolution_status = ? THEN ? ELSE failed_mongodb_writes.resolution_status END",
					models.ResolutionRetried, models.ResolutionOpen,
				),
			}),
		}).
		Create(failed).Error
	if err != nil {
		return fmt.Errorf("upsert failed mirror write: %w", err)
	}
	return nil
}

func (db *Database) OpenFailedWrites(ctx context.Context, limit int) ([]models.FailedMirrorWrite, error) {
	var rows []models.FailedMirrorWrite
	err := db.db.WithContext(ctx).
		Where("resolution_status = ?", models.ResolutionOpen).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list open failed writes: %w", err)
	}
	return rows, nil
}

func (db *Database) ListFailedWrites(ctx context.Context, status *models.ResolutionStatus, limit int) ([]models.FailedMirrorWrite, error) {
	query := db.db.WithContext(ctx).Order("updated_at DESC").Limit(limit)
	if status != nil {
		query = query.Where("resolution_status = ?", *status)
	}

	var rows []models.FailedMirrorWrite
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list failed writes: %w", err)
	}
	return rows, nil
}

func (db *Database) MarkFailedWrite(ctx context.Context, id uint, status models.ResolutionStatus) error {
	now := time.Now().UTC()
	err := db.db.WithContext(ctx).
		Model(&models.FailedMirrorWrite{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"resolution_status": status,
			"resolved_at":       &now,
			"updated_at":        now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark failed write %d: %w", id, err)
	}
	return nil
}

// GetCheckpoint returns false when no backfill has ever been checkpointed.
func (db *Database) GetCheckpoint(ctx context.Context) (uint64, bool, error) {
	var state models.IndexerState
	err := db.db.WithContext(ctx).First(&state, checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return state.LastProcessedSlot, true, nil
}

func (db *Database) SaveCheckpoint(ctx context.Context, slot uint64) error {
	state := models.IndexerState{
		ID:                checkpointID,
		LastProcessedSlot: slot,
		UpdatedAt:         time.Now().UTC(),
	}
	err := db.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_processed_slot", "updated_at"}),
		}).
		Create(&state).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (db *Database) GetIndexerState(ctx context.Context) (*models.IndexerState, error) {
	var state models.IndexerState
	err := db.db.WithContext(ctx).First(&state, checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read indexer state: %w", err)
	}
	return &state, nil
}
