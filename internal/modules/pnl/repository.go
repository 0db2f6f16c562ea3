package pnl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository is the lot ledger: it persists FIFO lots and realized events
// in ledger.db and is the single source of truth the aggregator reads.
// Lots are created exactly once per acquisition (idempotent on
// address/contract/tx identity) and never deleted; realized events are
// created exactly once per (disposal, lot) pairing and never mutated.
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new lot ledger repository backed by ledger.db.
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "pnl").Logger(),
	}
}

// DB exposes the underlying connection for the engine's transactions.
func (r *Repository) DB() *sql.DB {
	return r.ledgerDB
}

// RecordAcquisition inserts a new lot with remaining = amount.
// Replaying the same acquisition (same address, contract and tx id) is a
// no-op, which gives exactly-once semantics for at-least-once ingestion.
func (r *Repository) RecordAcquisition(ctx context.Context, acq Acquisition) error {
	if acq.Address == "" || acq.ContractID == "" || acq.TxID == "" {
		return invalidInputf("acquisition identity must be non-empty")
	}
	if !acq.Amount.IsPositive() {
		return invalidInputf("acquisition amount must be positive, got %s", acq.Amount)
	}
	if acq.CostBasisUSD.IsNegative() {
		return invalidInputf("cost basis must be non-negative, got %s", acq.CostBasisUSD)
	}

	res, err := r.ledgerDB.ExecContext(ctx, `
		INSERT INTO fifo_lots
			(address, contract_id, tx_id, acquired_at, amount, cost_basis_usd, remaining_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, contract_id, tx_id) DO NOTHING`,
		acq.Address, acq.ContractID, acq.TxID, acq.AcquiredAt.UTC().Unix(),
		acq.Amount.String(), acq.CostBasisUSD.String(), acq.Amount.String(),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Debug().
			Str("address", acq.Address).
			Str("contract", acq.ContractID).
			Str("tx", acq.TxID).
			Msg("Duplicate acquisition ignored")
	}

	return nil
}

// OpenLots returns all lots for (address, contract) that still have
// remaining units, oldest-first. Ties on the acquisition timestamp break
// on the source tx id so iteration order is deterministic.
func (r *Repository) OpenLots(ctx context.Context, address, contractID string) ([]Lot, error) {
	return r.openLots(ctx, r.ledgerDB, address, contractID)
}

// queryer abstracts *sql.DB and *sql.Tx so lot reads can run inside the
// consumption transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *Repository) openLots(ctx context.Context, q queryer, address, contractID string) ([]Lot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, address, contract_id, tx_id, acquired_at, amount, cost_basis_usd, remaining_amount
		FROM fifo_lots
		WHERE address = ? AND contract_id = ? AND remaining_amount <> '0'
		ORDER BY acquired_at ASC, tx_id ASC`,
		address, contractID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open lots: %w", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		// Guard against non-canonical zero strings like "0.00".
		if !lot.Remaining.IsPositive() {
			continue
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// AllLots returns every lot for (address, contract) including fully
// consumed ones, oldest-first. Used for audit views and tests.
func (r *Repository) AllLots(ctx context.Context, address, contractID string) ([]Lot, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT id, address, contract_id, tx_id, acquired_at, amount, cost_basis_usd, remaining_amount
		FROM fifo_lots
		WHERE address = ? AND contract_id = ?
		ORDER BY acquired_at ASC, tx_id ASC`,
		address, contractID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func scanLot(rows *sql.Rows) (Lot, error) {
	var lot Lot
	var acquiredAt int64
	var amount, cost, remaining string

	if err := rows.Scan(&lot.ID, &lot.Address, &lot.ContractID, &lot.TxID,
		&acquiredAt, &amount, &cost, &remaining); err != nil {
		return Lot{}, fmt.Errorf("failed to scan lot row: %w", err)
	}

	var err error
	if lot.Amount, err = decimal.NewFromString(amount); err != nil {
		return Lot{}, fmt.Errorf("corrupt lot amount %q: %w", amount, err)
	}
	if lot.CostBasisUSD, err = decimal.NewFromString(cost); err != nil {
		return Lot{}, fmt.Errorf("corrupt lot cost basis %q: %w", cost, err)
	}
	if lot.Remaining, err = decimal.NewFromString(remaining); err != nil {
		return Lot{}, fmt.Errorf("corrupt lot remaining %q: %w", remaining, err)
	}
	lot.AcquiredAt = time.Unix(acquiredAt, 0).UTC()
	return lot, nil
}

// decrementLot writes the lot's new remaining amount inside the
// consumption transaction. The new value is computed in Go with decimal
// arithmetic; zero is always stored canonically as "0" so the open-lot
// filter stays exact.
func (r *Repository) decrementLot(tx *sql.Tx, lotID int64, newRemaining decimal.Decimal) error {
	stored := newRemaining.String()
	if newRemaining.IsZero() {
		stored = "0"
	}
	if _, err := tx.Exec(`UPDATE fifo_lots SET remaining_amount = ? WHERE id = ?`, stored, lotID); err != nil {
		return fmt.Errorf("failed to decrement lot %d: %w", lotID, err)
	}
	return nil
}

// insertRealized records one realized event inside the consumption
// transaction. Returns false when the event identity already exists.
func (r *Repository) insertRealized(tx *sql.Tx, ev RealizedEvent) (bool, error) {
	res, err := tx.Exec(`
		INSERT INTO realized_events
			(address, contract_id, dispose_tx_id, acquire_tx_id, disposed_at,
			 amount, cost_basis_usd, sale_price_usd, pnl_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dispose_tx_id, acquire_tx_id, address, contract_id) DO NOTHING`,
		ev.Address, ev.ContractID, ev.DisposeTxID, ev.AcquireTxID, ev.DisposedAt.UTC().Unix(),
		ev.Amount.String(), ev.CostBasisUSD.String(), ev.SalePriceUSD.String(), ev.PnLUSD.String(),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert realized event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// eventsForDisposal returns the realized events already recorded for a
// disposal tx, inside the consumption transaction. Used to make replayed
// disposals exact no-ops.
func (r *Repository) eventsForDisposal(ctx context.Context, tx *sql.Tx, address, contractID, disposeTxID string) ([]RealizedEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, address, contract_id, dispose_tx_id, acquire_tx_id, disposed_at,
		       amount, cost_basis_usd, sale_price_usd, pnl_usd
		FROM realized_events
		WHERE address = ? AND contract_id = ? AND dispose_tx_id = ?
		ORDER BY id ASC`,
		address, contractID, disposeTxID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query disposal events: %w", err)
	}
	defer rows.Close()
	return scanRealizedEvents(rows)
}

// RealizedEvents returns the full realized history for (address, contract),
// oldest-first.
func (r *Repository) RealizedEvents(ctx context.Context, address, contractID string) ([]RealizedEvent, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT id, address, contract_id, dispose_tx_id, acquire_tx_id, disposed_at,
		       amount, cost_basis_usd, sale_price_usd, pnl_usd
		FROM realized_events
		WHERE address = ? AND contract_id = ?
		ORDER BY disposed_at ASC, id ASC`,
		address, contractID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized events: %w", err)
	}
	defer rows.Close()
	return scanRealizedEvents(rows)
}

func scanRealizedEvents(rows *sql.Rows) ([]RealizedEvent, error) {
	var events []RealizedEvent
	for rows.Next() {
		var ev RealizedEvent
		var disposedAt int64
		var amount, cost, sale, pnl string

		if err := rows.Scan(&ev.ID, &ev.Address, &ev.ContractID, &ev.DisposeTxID, &ev.AcquireTxID,
			&disposedAt, &amount, &cost, &sale, &pnl); err != nil {
			return nil, fmt.Errorf("failed to scan realized event: %w", err)
		}

		var err error
		if ev.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt event amount %q: %w", amount, err)
		}
		if ev.CostBasisUSD, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("corrupt event cost basis %q: %w", cost, err)
		}
		if ev.SalePriceUSD, err = decimal.NewFromString(sale); err != nil {
			return nil, fmt.Errorf("corrupt event sale price %q: %w", sale, err)
		}
		if ev.PnLUSD, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("corrupt event pnl %q: %w", pnl, err)
		}
		ev.DisposedAt = time.Unix(disposedAt, 0).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RealizedTotal sums realized PnL for (address, contract). The sum runs
// in Go over decimal strings rather than in SQL so it stays exact.
func (r *Repository) RealizedTotal(ctx context.Context, address, contractID string) (decimal.Decimal, error) {
	rows, err := r.ledgerDB.QueryContext(ctx,
		`SELECT pnl_usd FROM realized_events WHERE address = ? AND contract_id = ?`,
		address, contractID,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query realized totals: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pnl string
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan pnl row: %w", err)
		}
		d, err := decimal.NewFromString(pnl)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt pnl value %q: %w", pnl, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// Assets returns every contract id the holder has lots or realized
// events for. This is the asset universe the portfolio aggregation
// enumerates.
func (r *Repository) Assets(ctx context.Context, address string) ([]string, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT contract_id FROM fifo_lots WHERE address = ?
		UNION
		SELECT contract_id FROM realized_events WHERE address = ?
		ORDER BY contract_id ASC`,
		address, address,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query holder assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		assets = append(assets, id)
	}
	return assets, rows.Err()
}
