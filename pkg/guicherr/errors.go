package guicherr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies gateway errors independently of their provider or cause
type Kind string

const (
	// KindUpstream covers transport failures and upstream HTTP errors
	KindUpstream Kind = "upstream"
	// KindAuthExpired marks a 401 whose credentials were just invalidated
	KindAuthExpired Kind = "auth_expired"
	// KindAuthUnavailable marks an unreachable token endpoint (retryable)
	KindAuthUnavailable Kind = "auth_unavailable"
	// KindAuthConfig marks rejected credentials (fatal for the provider)
	KindAuthConfig Kind = "auth_config"
	// KindRateLimited marks limiter denials and upstream 429s
	KindRateLimited Kind = "rate_limited"
	// KindNotFound marks a 404 from a resource endpoint
	KindNotFound Kind = "not_found"
	// KindCircuitOpen marks calls rejected by an open circuit breaker
	KindCircuitOpen Kind = "circuit_open"
	// KindValidation marks invalid tool input
	KindValidation Kind = "validation"
	// KindPrivacyDenied marks operations refused by the privacy layer
	KindPrivacyDenied Kind = "privacy_denied"
)

// Error is the gateway error type carried across component boundaries
type Error struct {
	Kind       Kind
	Provider   string
	Status     int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Upstream creates an upstream error carrying the HTTP status
func Upstream(provider string, status int, message string) *Error {
	return &Error{Kind: KindUpstream, Provider: provider, Status: status, Message: message}
}

// RateLimited creates a rate-limit denial with its retry-after hint
func RateLimited(provider string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Provider: provider, Status: 429, RetryAfter: retryAfter}
}

// NotFound creates a not-found error for a resource endpoint
func NotFound(provider, message string) *Error {
	return &Error{Kind: KindNotFound, Provider: provider, Status: 404, Message: message}
}

// KindOf extracts the kind from any error; unknown non-nil errors are
// treated as upstream failures
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// RetryAfterOf extracts the retry-after hint, zero when absent
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// RetryableStatus reports whether an HTTP status is worth retrying
func RetryableStatus(status int) bool {
	switch status {
	case 500, 502, 503, 504, 429:
		return true
	}
	return false
}

// IsRetryable reports whether a failed call may be retried. Transport
// errors without a status are retryable; terminal kinds are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindUpstream:
			return e.Status == 0 || RetryableStatus(e.Status)
		case KindRateLimited, KindAuthUnavailable:
			return true
		default:
			return false
		}
	}
	// Bare errors reaching here are connection or timeout failures
	return true
}
