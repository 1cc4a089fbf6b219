package relational

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/internal/models"

	"gorm.io/gorm/clause"
)

// InsertActivity returns false when the signature was already recorded.
func (db *Database) InsertActivity(ctx context.Context, activity *models.MarketplaceActivity) (bool, error) {
	result := db.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "transaction_signature"}}, DoNothing: true}).
		Create(activity)
	if result.Error != nil {
		return false, fmt.Errorf("insert marketplace activity: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecentActivity returns the activity of one type that happened on the ledger
// since the given time, oldest first. Rows without a block time fall back to
// their insertion time.
func (db *Database) RecentActivity(ctx context.Context, activityType models.ActivityType, since time.Time) ([]models.MarketplaceActivity, error) {
	var rows []models.MarketplaceActivity
	err := db.db.WithContext(ctx).
		Where("activity_type = ? AND COALESCE(block_time, created_at) >= ?", activityType, since.UTC()).
		Order("COALESCE(block_time, created_at) ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recent %s activity: %w", activityType, err)
	}
	return rows, nil
}
