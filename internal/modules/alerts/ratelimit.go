package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter caps alert triggers per user over a rolling 24h window.
// Triggers past the cap are suppressed, not queued.
type RateLimiter struct {
	repo  *Repository
	limit int
	log   zerolog.Logger
}

// NewRateLimiter creates a rate limiter with the given daily cap.
func NewRateLimiter(repo *Repository, limit int, log zerolog.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	return &RateLimiter{
		repo:  repo,
		limit: limit,
		log:   log.With().Str("component", "alert_ratelimit").Logger(),
	}
}

// Allow reports whether the user may trigger another alert, and how many
// triggers remain in the window.
func (rl *RateLimiter) Allow(ctx context.Context, userID string) (bool, int, error) {
	count, err := rl.repo.TriggerCountSince(ctx, userID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return false, 0, err
	}

	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count < rl.limit, remaining, nil
}
