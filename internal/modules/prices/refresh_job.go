package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const refreshTimeout = 30 * time.Second

// RefreshJob warms the price cache for all tracked assets and prunes
// expired cache entries. Scheduled slightly shorter than the cache TTL so
// interactive lookups stay on the hit path.
type RefreshJob struct {
	service *Service
	log     zerolog.Logger
}

// NewRefreshJob creates a price refresh job.
func NewRefreshJob(service *Service, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		service: service,
		log:     log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name implements scheduler.Job
func (j *RefreshJob) Name() string {
	return "price_refresh"
}

// Run implements scheduler.Job
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	assets := TrackedAssets()
	prices, err := j.service.GetBulk(ctx, assets)
	if err != nil {
		return fmt.Errorf("price refresh failed: %w", err)
	}

	pruned, err := j.service.cache.DeleteExpired()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to prune expired price cache entries")
	}

	j.log.Info().
		Int("tracked", len(assets)).
		Int("resolved", len(prices)).
		Int64("pruned", pruned).
		Msg("Price cache refreshed")

	return nil
}
