package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const cleanupTimeout = time.Minute

// CleanupJob trims alert history past the retention window and prunes
// stale webhook queue rows. Scheduled daily.
type CleanupJob struct {
	repo          *Repository
	webhook       *WebhookService
	retentionDays int
	log           zerolog.Logger
}

// NewCleanupJob creates a history cleanup job.
func NewCleanupJob(repo *Repository, webhook *WebhookService, retentionDays int, log zerolog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupJob{
		repo:          repo,
		webhook:       webhook,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "alert_cleanup").Logger(),
	}
}

// Name implements scheduler.Job
func (j *CleanupJob) Name() string {
	return "alert_cleanup"
}

// Run implements scheduler.Job
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	removed, err := j.repo.DeleteHistoryOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	var pruned int64
	if j.webhook != nil {
		pruned, err = j.webhook.PruneQueue(ctx)
		if err != nil {
			j.log.Warn().Err(err).Msg("Failed to prune webhook queue")
		}
	}

	j.log.Info().
		Int64("history_removed", removed).
		Int64("queue_pruned", pruned).
		Msg("Alert history cleanup complete")

	return nil
}
