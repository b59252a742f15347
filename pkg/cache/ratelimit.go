package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
)

// Limit is a fixed-window budget: at most Requests admissions per Window
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter enforces per-provider fixed-window budgets on shared
// redis counters, so multiple gateway processes consume one budget.
type RateLimiter struct {
	cache  *Cache
	logger zerolog.Logger
}

// NewRateLimiter creates a limiter over the shared cache
func NewRateLimiter(c *Cache) *RateLimiter {
	return &RateLimiter{
		cache:  c,
		logger: log.WithComponent("ratelimit"),
	}
}

// Admit consumes one unit of the budget named by provider and clientID.
// When denied, retryAfter is the remaining window. When redis is
// unreachable the limiter fails open: ok=true with the error returned
// for logging; the circuit breaker still guards the upstream.
func (rl *RateLimiter) Admit(ctx context.Context, provider, clientID string, limit Limit) (ok bool, retryAfter time.Duration, err error) {
	key := fmt.Sprintf("%s:%s:%s", NSRateLimit, provider, clientID)

	// First request in a window must create the counter and its TTL
	// atomically; losers of the race fall through to INCR.
	created, err := rl.cache.client.SetNX(ctx, key, 1, limit.Window).Result()
	if err != nil {
		rl.logger.Warn().Err(err).Str("provider", provider).Msg("rate limiter unavailable, failing open")
		return true, 0, err
	}
	if created {
		return true, 0, nil
	}

	count, err := rl.cache.Incr(ctx, key)
	if err != nil {
		rl.logger.Warn().Err(err).Str("provider", provider).Msg("rate limiter unavailable, failing open")
		return true, 0, err
	}
	if count == 1 {
		// The window expired between SETNX and INCR; restore the TTL
		_ = rl.cache.client.Expire(ctx, key, limit.Window).Err()
	}
	if count <= int64(limit.Requests) {
		return true, 0, nil
	}

	remaining, err := rl.cache.TTL(ctx, key)
	if err != nil || remaining < 0 {
		remaining = limit.Window
	}
	metrics.RateLimitDenialsTotal.WithLabelValues(provider).Inc()
	rl.logger.Debug().
		Str("provider", provider).
		Int64("count", count).
		Dur("retry_after", remaining).
		Msg("rate limit exceeded")
	return false, remaining, nil
}
