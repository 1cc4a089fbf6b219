package relational

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/internal/models"
)

func (db *Database) InsertDiscrepancy(ctx context.Context, d *models.OwnershipDiscrepancy) error {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now().UTC()
	}
	if err := db.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("insert discrepancy: %w", err)
	}
	return nil
}

func (db *Database) ListDiscrepancies(ctx context.Context, resolved *bool, limit int) ([]models.OwnershipDiscrepancy, error) {
	query := db.db.WithContext(ctx).Order("detected_at DESC").Limit(limit)
	if resolved != nil {
		query = query.Where("resolved = ?", *resolved)
	}

	var rows []models.OwnershipDiscrepancy
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list discrepancies: %w", err)
	}
	return rows, nil
}

func (db *Database) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	if err := db.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create reconciliation run: %w", err)
	}
	return nil
}

func (db *Database) FinishRun(ctx context.Context, run *models.ReconciliationRun) error {
	err := db.db.WithContext(ctx).
		Model(&models.ReconciliationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"finished_at":         run.FinishedAt,
			"tickets_checked":     run.TicketsChecked,
			"discrepancies_found": run.DiscrepanciesFound,
			"errors":              run.Errors,
			"status":              run.Status,
		}).Error
	if err != nil {
		return fmt.Errorf("finish reconciliation run %s: %w", run.ID, err)
	}
	return nil
}

func (db *Database) InsertReconciliationLogs(ctx context.Context, logs []models.ReconciliationLog) error {
	if len(logs) == 0 {
		return nil
	}
	if err := db.db.WithContext(ctx).CreateInBatches(logs, 100).Error; err != nil {
		return fmt.Errorf("insert reconciliation log: %w", err)
	}
	return nil
}

func (db *Database) ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error) {
	var runs []models.ReconciliationRun
	if err := db.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list reconciliation runs: %w", err)
	}
	return runs, nil
}
