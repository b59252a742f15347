package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential service names. Providers declare which service signs
// their requests; several providers may share one service.
const (
	ServiceINSEE      = "insee"
	ServiceDGFIP      = "dgfip"
	ServiceINPI       = "inpi"
	ServiceEntreprise = "entreprise"
)

// DefaultSkew is how long before its expiry a token is treated as
// expired, so refreshes happen before upstreams start rejecting it.
const DefaultSkew = 300 * time.Second

// Token is a bearer credential with its renewal material.
type Token struct {
	Value        string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the token needs renewal at the given instant,
// applying the skew window. Tokens without an expiry never expire on
// their own; they are only dropped by explicit invalidation.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	if t.Value == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-skew))
}

// jwtExpiry extracts the exp claim from a JWT without verifying its
// signature. The gateway is the token's consumer, not its verifier;
// the expiry only schedules renewal. Returns zero time when the value
// is not a JWT or carries no exp claim.
func jwtExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
