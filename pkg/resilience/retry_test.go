package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/guicherr"
)

var fastRetry = RetryConfig{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "sirene", fastRetry, func() error {
		calls++
		if calls < 3 {
			return guicherr.Upstream("sirene", 503, "maintenance")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	calls := 0
	terminal := guicherr.Upstream("sirene", 400, "malformed query")

	err := Retry(context.Background(), "sirene", fastRetry, func() error {
		calls++
		return terminal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "terminal errors must not be retried")
	var e *guicherr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 400, e.Status)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "rne", fastRetry, func() error {
		calls++
		return guicherr.Upstream("rne", 502, "bad gateway")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "three attempts total, then surface the last error")
	assert.Equal(t, guicherr.KindUpstream, guicherr.KindOf(err))
}

func TestRetryDefaultsAttempts(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), "rne", RetryConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond}, func() error {
		calls++
		return guicherr.Upstream("rne", 503, "down")
	})

	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, "bodacc", RetryConfig{Attempts: 5, Initial: 50 * time.Millisecond, Max: time.Second}, func() error {
		calls++
		cancel()
		return guicherr.Upstream("bodacc", 500, "boom")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff must stop the loop")
}

func TestRetryTreatsLongRetryAfterAsTerminal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "sirene", fastRetry, func() error {
		calls++
		return guicherr.RateLimited("sirene", time.Minute)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a 60s Retry-After cannot fit a 5ms backoff ceiling")
	assert.Equal(t, guicherr.KindRateLimited, guicherr.KindOf(err))
	assert.Equal(t, time.Minute, guicherr.RetryAfterOf(err))
}

func TestRetryNoErrorSingleCall(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "rge", fastRetry, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
