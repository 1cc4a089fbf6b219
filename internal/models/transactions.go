package models

import "time"

type InstructionType string

const (
	InstructionMint     InstructionType = "MINT"
	InstructionTransfer InstructionType = "TRANSFER"
	InstructionBurn     InstructionType = "BURN"
	InstructionUnknown  InstructionType = "UNKNOWN"
)

// IndexedTransaction is the idempotency anchor: one row per signature ever processed.
type IndexedTransaction struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Signature       string          `gorm:"type:varchar(128);not null;uniqueIndex" json:"signature"`
	Slot            uint64          `gorm:"not null;index" json:"slot"`
	BlockTime       *time.Time      `json:"block_time,omitempty"`
	InstructionType InstructionType `gorm:"type:varchar(16);not null" json:"instruction_type"`
	ProcessedAt     time.Time       `gorm:"not null" json:"processed_at"`
}

func (IndexedTransaction) TableName() string { return "indexed_transactions" }

type ResolutionStatus string

const (
	ResolutionOpen    ResolutionStatus = ""
	ResolutionRetried ResolutionStatus = "retried"
	ResolutionManual  ResolutionStatus = "manual"
	ResolutionSkipped ResolutionStatus = "skipped"
)

// FailedMirrorWrite is the dead-letter row for a mirror write that exhausted its retries.
type FailedMirrorWrite struct {
	ID               uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	Signature        string           `gorm:"type:varchar(128);not null;uniqueIndex" json:"signature"`
	Slot             uint64           `gorm:"not null" json:"slot"`
	ErrorMessage     string           `gorm:"type:text" json:"error_message"`
	ErrorCode        string           `gorm:"type:varchar(64)" json:"error_code"`
	RetryCount       int              `gorm:"not null;default:1" json:"retry_count"`
	ResolutionStatus ResolutionStatus `gorm:"type:varchar(16);not null;default:'';index" json:"resolution_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

func (FailedMirrorWrite) TableName() string { return "failed_mongodb_writes" }

// IndexerState is a singleton row holding the backfill checkpoint.
type IndexerState struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	LastProcessedSlot uint64    `gorm:"not null" json:"last_processed_slot"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (IndexerState) TableName() string { return "indexer_state" }

// SignatureMessage is the payload of the signature feed queue.
type SignatureMessage struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"block_time,omitempty"`
	Attempt   int    `json:"attempt"`
}
