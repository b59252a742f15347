package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Cache namespaces. Keys are "<namespace>:<hash>"; entity-scoped
// namespaces append the business key ("profile:123456789:<hash>") so
// invalidation can match by pattern.
const (
	NSSearch    = "search"
	NSProfile   = "profile"
	NSDocument  = "doc"
	NSAnnounce  = "announce"
	NSCert      = "cert"
	NSAssoc     = "assoc"
	NSRateLimit = "rl"
)

// CanonicalJSON renders v with object keys sorted lexicographically.
// Identical inputs produce identical bytes across processes, which is
// what makes cache keys stable.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache input: %w", err)
	}
	// Round-trip through a generic value; encoding/json emits map
	// keys in sorted order.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to canonicalize cache input: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize cache input: %w", err)
	}
	return canonical, nil
}

// Key derives "<ns>:<hex(md5(canonicalJSON(input)))>" for any
// structured input
func Key(ns string, input any) (string, error) {
	canonical, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canonical)
	return ns + ":" + hex.EncodeToString(sum[:]), nil
}

// Namespace returns the first segment of a cache key, e.g. "profile"
// for "profile:123456789:9f86d08...".
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
