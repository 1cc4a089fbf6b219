package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"ledgerindexer/internal/mirror"
)

var _ mirror.Store = (*Database)(nil)

// ReplacingMergeTree collassa i duplicati in merge; il controllo in
// InsertTransaction copre il caso comune della riconsegna.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions_mirror (
		signature String,
		slot UInt64,
		block_time Nullable(DateTime),
		instruction_type LowCardinality(String),
		success Bool,
		err String,
		fee UInt64,
		compute_units_consumed UInt64,
		accounts String,
		instructions String,
		log_messages Array(String),
		version UInt64,
		indexed_at DateTime
	) ENGINE = ReplacingMergeTree(indexed_at)
	ORDER BY signature`,
	`CREATE TABLE IF NOT EXISTS wallet_activity (
		wallet_address String,
		activity_type LowCardinality(String),
		token_id String,
		ticket_id String,
		signature String,
		counterparty String,
		timestamp DateTime
	) ENGINE = ReplacingMergeTree(timestamp)
	ORDER BY (wallet_address, signature, activity_type)`,
}

func (db *Database) ensureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := db.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create mirror table: %w", err)
		}
	}
	return nil
}

func (db *Database) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count uint64
	if err := db.conn.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check existing row: %w", err)
	}
	return count > 0, nil
}

func (db *Database) InsertTransaction(ctx context.Context, record mirror.TransactionRecord) error {
	found, err := db.exists(ctx, `SELECT count() FROM transactions_mirror WHERE signature = ?`, record.Signature)
	if err != nil {
		return err
	}
	if found {
		return mirror.ErrDuplicate
	}

	accounts, err := json.Marshal(record.Accounts)
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	instructions, err := json.Marshal(record.Instructions)
	if err != nil {
		return fmt.Errorf("marshal instructions: %w", err)
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO transactions_mirror`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch statement: %w", err)
	}

	logs := record.LogMessages
	if logs == nil {
		logs = []string{}
	}

	err = batch.Append(
		record.Signature,
		record.Slot,
		record.BlockTime,
		record.InstructionType,
		record.Success,
		record.Err,
		record.Fee,
		record.ComputeUnitsConsumed,
		string(accounts),
		string(instructions),
		logs,
		record.Version,
		record.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append values to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (db *Database) InsertWalletActivity(ctx context.Context, activity mirror.WalletActivity) error {
	found, err := db.exists(ctx,
		`SELECT count() FROM wallet_activity WHERE wallet_address = ? AND signature = ? AND activity_type = ?`,
		activity.WalletAddress, activity.Signature, string(activity.ActivityType))
	if err != nil {
		return err
	}
	if found {
		return mirror.ErrDuplicate
	}

	err = db.conn.Exec(ctx,
		`INSERT INTO wallet_activity (wallet_address, activity_type, token_id, ticket_id, signature, counterparty, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		activity.WalletAddress,
		string(activity.ActivityType),
		activity.TokenID,
		activity.TicketID,
		activity.Signature,
		activity.Counterparty,
		activity.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert wallet activity: %w", err)
	}
	return nil
}
