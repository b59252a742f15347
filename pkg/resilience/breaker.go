package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerRecovery  = 60 * time.Second

	// Probes allowed through a half-open circuit before it decides.
	halfOpenProbes = 3
)

// BreakerConfig tunes one provider's circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive counted failures that
	// opens the circuit.
	Threshold int
	// Recovery is how long the circuit stays open before allowing
	// half-open probes.
	Recovery time.Duration
}

// Breaker protects one upstream provider with a three-state circuit.
// Calls through an open circuit fail fast with KindCircuitOpen instead
// of consuming the provider's rate budget.
type Breaker struct {
	provider string
	cb       *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// NewBreaker creates a circuit breaker for a provider. Zero config
// fields fall back to the defaults (threshold 5, recovery 60s).
func NewBreaker(provider string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultBreakerThreshold
	}
	if cfg.Recovery <= 0 {
		cfg.Recovery = defaultBreakerRecovery
	}

	logger := log.WithProvider(provider)

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: halfOpenProbes,
		Timeout:     cfg.Recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Threshold)
		},
		// Only infrastructure failures count toward opening. Client
		// errors such as 404 prove the provider is answering.
		IsSuccessful: func(err error) bool {
			return !CountsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			// gobreaker's state iota matches the gauge convention:
			// 0 closed, 1 half-open, 2 open.
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	metrics.BreakerState.WithLabelValues(provider).Set(float64(gobreaker.StateClosed))

	return &Breaker{
		provider: provider,
		cb:       gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
	}
}

// CountsAsFailure reports whether an error should push the circuit
// toward opening. Network failures, 5xx responses, and upstream rate
// limiting signal provider trouble; everything else does not.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *guicherr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case guicherr.KindUpstream:
			return e.Status == 0 || e.Status >= 500
		case guicherr.KindRateLimited:
			return true
		default:
			return false
		}
	}
	// Bare errors from the transport are connection failures.
	return true
}

// Execute runs fn through the circuit. When the circuit is open, or a
// half-open probe budget is exhausted, it fails fast with a
// KindCircuitOpen error carrying the provider name.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, guicherr.Wrap(guicherr.KindCircuitOpen, b.provider, err)
	}
	return result, err
}

// State returns the current circuit state as "closed", "half-open", or
// "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// BreakerSet lazily creates one breaker per provider, applying
// per-provider overrides where configured.
type BreakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	defaults  BreakerConfig
	overrides map[string]BreakerConfig
}

// NewBreakerSet creates a registry of per-provider breakers.
func NewBreakerSet(defaults BreakerConfig, overrides map[string]BreakerConfig) *BreakerSet {
	return &BreakerSet{
		breakers:  make(map[string]*Breaker),
		defaults:  defaults,
		overrides: overrides,
	}
}

// For returns the breaker guarding a provider, creating it on first
// use.
func (s *BreakerSet) For(provider string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[provider]; ok {
		return b
	}
	cfg := s.defaults
	if override, ok := s.overrides[provider]; ok {
		if override.Threshold > 0 {
			cfg.Threshold = override.Threshold
		}
		if override.Recovery > 0 {
			cfg.Recovery = override.Recovery
		}
	}
	b := NewBreaker(provider, cfg)
	s.breakers[provider] = b
	return b
}

// States reports the current circuit state of every provider seen so
// far, for readiness and status endpoints.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]string, len(s.breakers))
	for provider, b := range s.breakers {
		states[provider] = b.State()
	}
	return states
}
