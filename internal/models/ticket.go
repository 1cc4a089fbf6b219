package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is the ticket service's view of a tokenised ticket. Rows are owned by
// the ticket service; this module only reads them and requests changes.
type Ticket struct {
	ID               string     `json:"id"`
	TokenID          string     `json:"token_id"`
	WalletAddress    string     `json:"wallet_address"`
	Status           string     `json:"status"`
	IsMinted         bool       `json:"is_minted"`
	SyncStatus       SyncStatus `json:"sync_status"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
}

const (
	TicketStatusSold      = "SOLD"
	TicketStatusBurned    = "BURNED"
	TicketStatusCancelled = "CANCELLED"
)

type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncError   SyncStatus = "ERROR"
)

// SyncPatch is a partial update of the blockchain fields of a ticket. Nil
// fields are left untouched.
type SyncPatch struct {
	IsMinted         *bool       `json:"is_minted,omitempty"`
	MintTransaction  *string     `json:"mint_transaction,omitempty"`
	WalletAddress    *string     `json:"wallet_address,omitempty"`
	Status           *string     `json:"status,omitempty"`
	SyncStatus       *SyncStatus `json:"sync_status,omitempty"`
	LastReconciledAt *time.Time  `json:"last_reconciled_at,omitempty"`
}

type TransferRecord struct {
	TicketID  string     `json:"ticket_id"`
	TokenID   string     `json:"token_id"`
	From      string     `json:"from_wallet"`
	To        string     `json:"to_wallet"`
	Signature string     `json:"transaction_signature"`
	Slot      uint64     `json:"slot"`
	BlockTime *time.Time `json:"block_time,omitempty"`
}

type MarketplaceStatusUpdate struct {
	TokenID     string          `json:"token_id"`
	TicketID    string          `json:"ticket_id"`
	Marketplace string          `json:"marketplace"`
	Activity    ActivityType    `json:"activity_type"`
	Price       decimal.Decimal `json:"price"`
	Seller      string          `json:"seller,omitempty"`
	Buyer       string          `json:"buyer,omitempty"`
	Signature   string          `json:"transaction_signature"`
}

type ReconciliationFilter struct {
	MintedOnly      bool     `json:"minted_only"`
	ExcludeStatuses []string `json:"exclude_statuses,omitempty"`
	Limit           int      `json:"limit"`
	// OldestCheckedFirst orders by last_reconciled_at ascending, nulls first.
	OldestCheckedFirst bool `json:"oldest_checked_first"`
}

func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }

func SyncStatusPtr(s SyncStatus) *SyncStatus { return &s }
