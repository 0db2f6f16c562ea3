package pnl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stkpulse/stackwatch/internal/database"
)

const (
	testAddr  = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	testAsset = "SP3K8BC0PPEVCV7NZ6QSRWPQ2JE9E5B6N3PA0KBR9.token-abtc"
)

// newTestLedger opens a fresh ledger database in a temp directory and
// applies the schema.
func newTestLedger(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestEngine(t *testing.T) (*Engine, *Repository) {
	t.Helper()
	log := zerolog.Nop()
	repo := NewRepository(newTestLedger(t).Conn(), log)
	return NewEngine(repo, log), repo
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// day returns a deterministic timestamp n days after a fixed epoch.
func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func acquire(t *testing.T, e *Engine, txID string, at time.Time, amount, cost string) {
	t.Helper()
	require.NoError(t, e.RecordAcquisition(context.Background(), Acquisition{
		Address:      testAddr,
		ContractID:   testAsset,
		TxID:         txID,
		AcquiredAt:   at,
		Amount:       dec(t, amount),
		CostBasisUSD: dec(t, cost),
	}))
}
