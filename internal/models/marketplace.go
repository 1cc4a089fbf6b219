package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActivityType string

const (
	ActivityList   ActivityType = "LIST"
	ActivityDelist ActivityType = "DELIST"
	ActivitySale   ActivityType = "SALE"
	ActivityBid    ActivityType = "BID"
)

type MarketplaceActivity struct {
	ID                   uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenID              string          `gorm:"type:varchar(64);not null;index" json:"token_id"`
	TicketID             *string         `gorm:"type:varchar(64)" json:"ticket_id,omitempty"`
	Marketplace          string          `gorm:"type:varchar(32);not null" json:"marketplace"`
	ActivityType         ActivityType    `gorm:"type:varchar(16);not null;index" json:"activity_type"`
	Price                decimal.Decimal `gorm:"type:decimal(20,9)" json:"price"`
	Seller               string          `gorm:"type:varchar(64)" json:"seller"`
	Buyer                string          `gorm:"type:varchar(64)" json:"buyer"`
	TransactionSignature string          `gorm:"type:varchar(128);not null;uniqueIndex" json:"transaction_signature"`
	BlockTime            *time.Time      `gorm:"index" json:"block_time,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

func (MarketplaceActivity) TableName() string { return "marketplace_activity" }
