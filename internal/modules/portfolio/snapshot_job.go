package portfolio

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/modules/indexer"
)

const snapshotTimeout = 2 * time.Minute

// snapshotRetention bounds the stored history; the longest chart window
// is 365 days.
const snapshotRetention = 400 * 24 * time.Hour

// walletLister is the slice of the wallet repository the job needs.
type walletLister interface {
	List(ctx context.Context) ([]indexer.Wallet, error)
}

// SnapshotJob values every tracked wallet on a schedule so the history
// chart has a steady series, and trims samples past the retention bound.
type SnapshotJob struct {
	service *Service
	wallets walletLister
	log     zerolog.Logger
}

// NewSnapshotJob creates a snapshot job.
func NewSnapshotJob(service *Service, wallets walletLister, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		service: service,
		wallets: wallets,
		log:     log.With().Str("job", "portfolio_snapshot").Logger(),
	}
}

// Name implements scheduler.Job
func (j *SnapshotJob) Name() string {
	return "portfolio_snapshot"
}

// Run implements scheduler.Job
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	wallets, err := j.wallets.List(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, wallet := range wallets {
		if _, err := j.service.Snapshot(ctx, wallet.Address); err != nil {
			j.log.Warn().Err(err).Str("address", wallet.Address).Msg("Snapshot failed")
			failed++
		}
	}

	trimmed, err := j.service.repo.DeleteOlderThan(ctx, time.Now().Add(-snapshotRetention))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to trim old snapshots")
	}

	j.log.Info().
		Int("wallets", len(wallets)).
		Int("failed", failed).
		Int64("trimmed", trimmed).
		Msg("Snapshot run complete")

	return nil
}
