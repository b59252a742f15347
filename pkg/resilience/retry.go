package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/log"
)

const (
	defaultRetryAttempts = 3
	defaultRetryInitial  = 1 * time.Second
	defaultRetryMax      = 30 * time.Second
)

// RetryConfig tunes the retry loop for one provider.
type RetryConfig struct {
	// Attempts is the total number of tries including the first.
	Attempts int
	// Initial is the first backoff interval.
	Initial time.Duration
	// Max caps the backoff interval growth.
	Max time.Duration
}

// Retry runs op with exponential backoff until it succeeds, exhausts
// its attempts, hits a terminal error, or ctx is cancelled. Terminal
// errors (4xx, validation, auth configuration) are returned without
// further attempts. An upstream rate-limit denial whose Retry-After
// exceeds the backoff ceiling is also terminal: waiting would outlive
// the request.
func Retry(ctx context.Context, provider string, cfg RetryConfig, op func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultRetryAttempts
	}
	if cfg.Initial <= 0 {
		cfg.Initial = defaultRetryInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultRetryMax
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.MaxInterval = cfg.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // bounded by attempts, not wall time

	logger := log.WithProvider(provider)

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !guicherr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if ra := guicherr.RetryAfterOf(err); ra > cfg.Max {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Debug().
			Err(err).
			Dur("next_attempt_in", next).
			Msg("Retrying provider call")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.Attempts-1)), ctx)
	return backoff.RetryNotify(wrapped, policy, notify)
}
