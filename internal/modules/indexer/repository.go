package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stkpulse/stackwatch/internal/modules/pnl"
)

// Repository persists classified transactions in the ledger database.
// Rows are insert-only and idempotent on (tx_id, address); re-indexing a
// wallet never duplicates history.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new transaction repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "indexer").Logger(),
	}
}

// InsertTx records a transaction. Returns false when the (tx_id, address)
// pair was already indexed.
func (r *Repository) InsertTx(ctx context.Context, rec TxRecord) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		   (tx_id, address, block_height, block_time, tx_type, contract_id,
		    token_symbol, amount, price_usd_at_tx, value_usd, direction,
		    counterparty, memo, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tx_id, address) DO NOTHING`,
		rec.TxID, rec.Address, rec.BlockHeight, rec.BlockTime.Unix(),
		string(rec.Type), rec.ContractID, rec.TokenSymbol,
		rec.Amount.String(), rec.PriceUSDAtTx.String(), rec.ValueUSD.String(),
		rec.Direction, rec.Counterparty, rec.Memo, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction %s: %w", rec.TxID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// Transactions lists a wallet's history, newest first, with optional
// type and contract filters.
func (r *Repository) Transactions(ctx context.Context, address string, filter TxFilter) ([]TxRecord, error) {
	query := `SELECT tx_id, address, block_height, block_time, tx_type, contract_id,
	                 token_symbol, amount, price_usd_at_tx, value_usd, direction,
	                 COALESCE(counterparty, ''), COALESCE(memo, '')
	          FROM transactions
	          WHERE address = ?`
	args := []interface{}{address}

	if filter.Type != "" {
		query += " AND tx_type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.ContractID != "" {
		query += " AND contract_id = ?"
		args = append(args, filter.ContractID)
	}

	query += " ORDER BY block_time DESC, tx_id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s: %w", address, err)
	}
	defer rows.Close()

	var records []TxRecord
	for rows.Next() {
		rec, err := scanTxRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountTransactions returns the total row count behind a filtered listing,
// for pagination metadata.
func (r *Repository) CountTransactions(ctx context.Context, address string, filter TxFilter) (int, error) {
	query := "SELECT COUNT(*) FROM transactions WHERE address = ?"
	args := []interface{}{address}

	if filter.Type != "" {
		query += " AND tx_type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.ContractID != "" {
		query += " AND contract_id = ?"
		args = append(args, filter.ContractID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count transactions for %s: %w", address, err)
	}
	return total, nil
}

// AssetActivity sums a wallet's in and out flow for one asset and picks
// its display symbol from the most recent row. Sums run in Go so decimal
// strings never hit SQL arithmetic.
func (r *Repository) AssetActivity(ctx context.Context, address, contractID string) (pnl.ActivityStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT amount, direction, token_symbol
		 FROM transactions
		 WHERE address = ? AND contract_id = ?
		 ORDER BY block_time DESC`,
		address, contractID,
	)
	if err != nil {
		return pnl.ActivityStats{}, fmt.Errorf("failed to query activity for %s: %w", contractID, err)
	}
	defer rows.Close()

	stats := pnl.ActivityStats{
		TotalBought: decimal.Zero,
		TotalSold:   decimal.Zero,
	}
	for rows.Next() {
		var amountStr, direction, symbol string
		if err := rows.Scan(&amountStr, &direction, &symbol); err != nil {
			return pnl.ActivityStats{}, fmt.Errorf("failed to scan activity row: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return pnl.ActivityStats{}, fmt.Errorf("corrupt amount for %s: %w", contractID, err)
		}
		if stats.Symbol == "" && symbol != "" {
			stats.Symbol = symbol
		}
		switch direction {
		case "in":
			stats.TotalBought = stats.TotalBought.Add(amount)
		case "out":
			stats.TotalSold = stats.TotalSold.Add(amount)
		}
	}
	return stats, rows.Err()
}

func scanTxRecord(rows *sql.Rows) (TxRecord, error) {
	var (
		rec                      TxRecord
		blockTime                int64
		txType                   string
		amount, price, value     string
	)
	if err := rows.Scan(
		&rec.TxID, &rec.Address, &rec.BlockHeight, &blockTime, &txType,
		&rec.ContractID, &rec.TokenSymbol, &amount, &price, &value,
		&rec.Direction, &rec.Counterparty, &rec.Memo,
	); err != nil {
		return TxRecord{}, fmt.Errorf("failed to scan transaction: %w", err)
	}

	rec.BlockTime = time.Unix(blockTime, 0).UTC()
	rec.Type = TxType(txType)

	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return TxRecord{}, fmt.Errorf("corrupt amount in %s: %w", rec.TxID, err)
	}
	if rec.PriceUSDAtTx, err = decimal.NewFromString(price); err != nil {
		return TxRecord{}, fmt.Errorf("corrupt price in %s: %w", rec.TxID, err)
	}
	if rec.ValueUSD, err = decimal.NewFromString(value); err != nil {
		return TxRecord{}, fmt.Errorf("corrupt value in %s: %w", rec.TxID, err)
	}
	return rec, nil
}

// WalletRepository tracks watched wallets and their sync lifecycle in the
// portfolio database.
type WalletRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWalletRepository creates a new wallet repository.
func NewWalletRepository(db *sql.DB, log zerolog.Logger) *WalletRepository {
	return &WalletRepository{
		db:  db,
		log: log.With().Str("repo", "wallets").Logger(),
	}
}

// MarkSyncing registers the wallet if needed and flips it to syncing.
func (r *WalletRepository) MarkSyncing(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (address, sync_status, created_at) VALUES (?, 'syncing', ?)
		 ON CONFLICT (address) DO UPDATE SET sync_status = 'syncing'`,
		address, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark wallet syncing: %w", err)
	}
	return nil
}

// MarkDone records a successful sync.
func (r *WalletRepository) MarkDone(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE wallets SET sync_status = 'done', last_synced_at = ? WHERE address = ?",
		time.Now().Unix(), address,
	)
	if err != nil {
		return fmt.Errorf("failed to mark wallet done: %w", err)
	}
	return nil
}

// MarkError records a failed sync.
func (r *WalletRepository) MarkError(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE wallets SET sync_status = 'error' WHERE address = ?",
		address,
	)
	if err != nil {
		return fmt.Errorf("failed to mark wallet errored: %w", err)
	}
	return nil
}

// Get returns a wallet's sync state, or nil when it is not tracked.
func (r *WalletRepository) Get(ctx context.Context, address string) (*Wallet, error) {
	var (
		w            Wallet
		lastSyncedAt sql.NullInt64
		createdAt    int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT address, sync_status, last_synced_at, created_at FROM wallets WHERE address = ?",
		address,
	).Scan(&w.Address, &w.SyncStatus, &lastSyncedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet %s: %w", address, err)
	}

	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastSyncedAt.Valid {
		at := time.Unix(lastSyncedAt.Int64, 0).UTC()
		w.LastSyncedAt = &at
	}
	return &w, nil
}

// List returns all tracked wallets, oldest first.
func (r *WalletRepository) List(ctx context.Context) ([]Wallet, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT address, sync_status, last_synced_at, created_at FROM wallets ORDER BY created_at ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var (
			w            Wallet
			lastSyncedAt sql.NullInt64
			createdAt    int64
		)
		if err := rows.Scan(&w.Address, &w.SyncStatus, &lastSyncedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		w.CreatedAt = time.Unix(createdAt, 0).UTC()
		if lastSyncedAt.Valid {
			at := time.Unix(lastSyncedAt.Int64, 0).UTC()
			w.LastSyncedAt = &at
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
