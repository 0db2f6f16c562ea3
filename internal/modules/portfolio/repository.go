package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository persists portfolio value snapshots.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// SaveSnapshot records a valuation sample. A second sample in the same
// second replaces the first.
func (r *Repository) SaveSnapshot(ctx context.Context, address string, at time.Time, value decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO portfolio_snapshots (address, snapped_at, value_usd) VALUES (?, ?, ?)",
		address, at.Unix(), value.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", address, err)
	}
	return nil
}

// History returns valuation samples since the given time, oldest first.
func (r *Repository) History(ctx context.Context, address string, since time.Time) ([]HistoryPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT snapped_at, value_usd
		 FROM portfolio_snapshots
		 WHERE address = ? AND snapped_at >= ?
		 ORDER BY snapped_at ASC`,
		address, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", address, err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var (
			at       int64
			valueStr string
		)
		if err := rows.Scan(&at, &valueStr); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		value, err := decimal.NewFromString(valueStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot value for %s: %w", address, err)
		}
		points = append(points, HistoryPoint{
			Timestamp: time.Unix(at, 0).UTC(),
			ValueUSD:  value,
		})
	}
	return points, rows.Err()
}

// DeleteOlderThan trims old snapshots. Returns the number of rows deleted.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM portfolio_snapshots WHERE snapped_at < ?", cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to trim snapshots: %w", err)
	}
	return result.RowsAffected()
}
