package models

import "time"

type DiscrepancyType string

const (
	DiscrepancyOwnershipMismatch   DiscrepancyType = "OWNERSHIP_MISMATCH"
	DiscrepancyTokenNotFound       DiscrepancyType = "TOKEN_NOT_FOUND"
	DiscrepancyTokenBurned         DiscrepancyType = "TOKEN_BURNED"
	DiscrepancyBurnNotRecorded     DiscrepancyType = "BURN_NOT_RECORDED"
	DiscrepancyBurnDetected        DiscrepancyType = "BURN_DETECTED"
	DiscrepancyMarketplaceMismatch DiscrepancyType = "MARKETPLACE_OWNER_MISMATCH"
)

// Discrepancy is one finding of a ticket check, before it is persisted.
type Discrepancy struct {
	Type       DiscrepancyType `json:"type"`
	DBValue    string          `json:"db_value"`
	ChainValue string          `json:"chain_value"`
}

type OwnershipDiscrepancy struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	TicketID        string          `gorm:"type:varchar(64);not null;index" json:"ticket_id"`
	DiscrepancyType DiscrepancyType `gorm:"type:varchar(32);not null" json:"discrepancy_type"`
	DatabaseValue   string          `gorm:"type:text" json:"database_value"`
	BlockchainValue string          `gorm:"type:text" json:"blockchain_value"`
	Resolved        bool            `gorm:"not null;default:false;index" json:"resolved"`
	DetectedAt      time.Time       `gorm:"not null" json:"detected_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

func (OwnershipDiscrepancy) TableName() string { return "ownership_discrepancies" }

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

type ReconciliationRun struct {
	ID                 string     `gorm:"type:char(36);primaryKey" json:"id"`
	StartedAt          time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	TicketsChecked     int        `json:"tickets_checked"`
	DiscrepanciesFound int        `json:"discrepancies_found"`
	Errors             int        `json:"errors"`
	Status             RunStatus  `gorm:"type:varchar(16);not null" json:"status"`
}

func (ReconciliationRun) TableName() string { return "reconciliation_runs" }

type ReconciliationLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string    `gorm:"type:char(36);index" json:"run_id"`
	TicketID  string    `gorm:"type:varchar(64)" json:"ticket_id"`
	TokenID   string    `gorm:"type:varchar(64)" json:"token_id"`
	Action    string    `gorm:"type:varchar(32);not null" json:"action"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (ReconciliationLog) TableName() string { return "reconciliation_log" }
