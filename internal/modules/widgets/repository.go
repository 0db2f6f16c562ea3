package widgets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository reads widget series from the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new widget repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "widgets").Logger(),
	}
}

// CallVolume returns hourly contract-call counts for a contract since the
// given time, oldest first.
func (r *Repository) CallVolume(ctx context.Context, contractID string, since time.Time) ([]CallBucket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT (block_time / 3600) * 3600 AS bucket, COUNT(*)
		 FROM transactions
		 WHERE contract_id = ? AND tx_type = 'contract_call' AND block_time >= ?
		 GROUP BY bucket
		 ORDER BY bucket ASC`,
		contractID, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query call volume for %s: %w", contractID, err)
	}
	defer rows.Close()

	var buckets []CallBucket
	for rows.Next() {
		var b CallBucket
		if err := rows.Scan(&b.Timestamp, &b.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan call bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
