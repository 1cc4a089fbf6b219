package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned by a Store when a document with the same key
// already exists. Callers treat it as success.
var ErrDuplicate = errors.New("mirror: duplicate document")

// Store is the secondary document mirror. It is best-effort: the relational
// store stays authoritative.
type Store interface {
	InsertTransaction(ctx context.Context, record TransactionRecord) error
	InsertWalletActivity(ctx context.Context, activity WalletActivity) error
	Close(ctx context.Context) error
}

type WalletActivityType string

const (
	ActivityMint        WalletActivityType = "mint"
	ActivityTransferIn  WalletActivityType = "transfer_in"
	ActivityTransferOut WalletActivityType = "transfer_out"
	ActivityBurn        WalletActivityType = "burn"
)

// WalletActivity is one entry of a wallet's history as seen by the indexer.
type WalletActivity struct {
	WalletAddress string             `json:"wallet_address" bson:"wallet_address"`
	ActivityType  WalletActivityType `json:"activity_type" bson:"activity_type"`
	TokenID       string             `json:"token_id" bson:"token_id"`
	TicketID      string             `json:"ticket_id" bson:"ticket_id"`
	Signature     string             `json:"signature" bson:"signature"`
	Counterparty  string             `json:"counterparty,omitempty" bson:"counterparty,omitempty"`
	Timestamp     time.Time          `json:"timestamp" bson:"timestamp"`
}

// TokenBalance rappresenta il bilancio di un token per un account
type TokenBalance struct {
	Mint           string          `json:"mint" bson:"mint"`
	Owner          string          `json:"owner" bson:"owner"`
	TokenProgramID string          `json:"token_program_id" bson:"token_program_id"`
	Decimals       int64           `json:"decimals" bson:"decimals"`
	PreAmount      decimal.Decimal `json:"pre_amount" bson:"pre_amount"`
	PostAmount     decimal.Decimal `json:"post_amount" bson:"post_amount"`
	ChangeAmount   decimal.Decimal `json:"change_amount" bson:"change_amount"`
}

// Account rappresenta un account con i suoi bilanci
type Account struct {
	Pubkey         string         `json:"pubkey" bson:"pubkey"`
	Signer         bool           `json:"signer" bson:"signer"`
	Writable       bool           `json:"writable" bson:"writable"`
	PreSolBalance  uint64         `json:"pre_sol_balance" bson:"pre_sol_balance"`
	PostSolBalance uint64         `json:"post_sol_balance" bson:"post_sol_balance"`
	SolChange      int64          `json:"sol_change" bson:"sol_change"`
	TokenBalances  []TokenBalance `json:"token_balances" bson:"token_balances"`
}

// InstructionDetail rappresenta un'istruzione con le sue inner instructions
type InstructionDetail struct {
	Accounts          []string            `json:"accounts" bson:"accounts"`
	Data              string              `json:"data" bson:"data"`
	ProgramID         string              `json:"program_id" bson:"program_id"`
	Program           string              `json:"program" bson:"program"`
	ParsedType        string              `json:"parsed_type,omitempty" bson:"parsed_type,omitempty"`
	ParsedAmount      string              `json:"parsed_amount,omitempty" bson:"parsed_amount,omitempty"`
	ParsedAuthority   string              `json:"parsed_authority,omitempty" bson:"parsed_authority,omitempty"`
	ParsedDestination string              `json:"parsed_destination,omitempty" bson:"parsed_destination,omitempty"`
	ParsedSource      string              `json:"parsed_source,omitempty" bson:"parsed_source,omitempty"`
	ParsedMint        string              `json:"parsed_mint,omitempty" bson:"parsed_mint,omitempty"`
	StackHeight       uint64              `json:"stack_height" bson:"stack_height"`
	InnerInstructions []InstructionDetail `json:"inner_instructions,omitempty" bson:"inner_instructions,omitempty"`
}

// TransactionRecord is the mirror document of a ledger transaction, keyed by signature.
type TransactionRecord struct {
	Signature            string              `json:"signature" bson:"signature"`
	Slot                 uint64              `json:"slot" bson:"slot"`
	BlockTime            *time.Time          `json:"block_time,omitempty" bson:"block_time,omitempty"`
	InstructionType      string              `json:"instruction_type" bson:"instruction_type"`
	Success              bool                `json:"success" bson:"success"`
	Err                  string              `json:"err,omitempty" bson:"err,omitempty"`
	Fee                  uint64              `json:"fee" bson:"fee"`
	ComputeUnitsConsumed uint64              `json:"compute_units_consumed" bson:"compute_units_consumed"`
	Accounts             []Account           `json:"accounts" bson:"accounts"`
	Instructions         []InstructionDetail `json:"instructions" bson:"instructions"`
	LogMessages          []string            `json:"log_messages" bson:"log_messages"`
	Version              uint64              `json:"version" bson:"version"`
	IndexedAt            time.Time           `json:"indexed_at" bson:"indexed_at"`
}
