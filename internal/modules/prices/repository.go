package prices

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Tick is a single recorded price observation.
type Tick struct {
	ContractID string          `json:"contractId"`
	PriceUSD   decimal.Decimal `json:"priceUsd"`
	Source     string          `json:"source"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Repository persists price ticks to the token_prices series table.
// The series feeds the widget charts and portfolio history views.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price tick repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
	}
}

// RecordTick appends a price observation to the series.
func (r *Repository) RecordTick(tick Tick) error {
	_, err := r.db.Exec(
		"INSERT INTO token_prices (contract_id, price_usd, source, recorded_at) VALUES (?, ?, ?, ?)",
		tick.ContractID, tick.PriceUSD.String(), tick.Source, tick.RecordedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record tick for %s: %w", tick.ContractID, err)
	}
	return nil
}

// Series returns the price observations for a contract since the given time,
// oldest first.
func (r *Repository) Series(contractID string, since time.Time) ([]Tick, error) {
	rows, err := r.db.Query(
		`SELECT contract_id, price_usd, source, recorded_at
		 FROM token_prices
		 WHERE contract_id = ? AND recorded_at >= ?
		 ORDER BY recorded_at ASC`,
		contractID, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query price series for %s: %w", contractID, err)
	}
	defer rows.Close()

	var ticks []Tick
	for rows.Next() {
		var (
			tick       Tick
			priceStr   string
			recordedAt int64
		)
		if err := rows.Scan(&tick.ContractID, &priceStr, &tick.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		tick.PriceUSD, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt price for %s: %w", tick.ContractID, err)
		}
		tick.RecordedAt = time.Unix(recordedAt, 0).UTC()
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}

// DeleteOlderThan trims the series, keeping it bounded.
// Returns the number of rows deleted.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM token_prices WHERE recorded_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to trim price series: %w", err)
	}
	return result.RowsAffected()
}
