package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/events"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
)

// TTLPolicy holds the expiry applied to each cache namespace. Zero
// values fall back to the defaults from DefaultTTLPolicy.
type TTLPolicy struct {
	Search   time.Duration
	Profile  time.Duration
	Document time.Duration
	Announce time.Duration
	Cert     time.Duration
	Assoc    time.Duration
}

// DefaultTTLPolicy returns the stock expiry policy: volatile search
// results expire quickly, assembled profiles hold for an hour, and
// document metadata holds for a day.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Search:   5 * time.Minute,
		Profile:  1 * time.Hour,
		Document: 24 * time.Hour,
		Announce: 5 * time.Minute,
		Cert:     1 * time.Hour,
		Assoc:    5 * time.Minute,
	}
}

// tableFlushPatterns maps a bulk table name to the cache key patterns
// whose entries derive from it. Loading a fresh entities snapshot
// invalidates every cached search result.
var tableFlushPatterns = map[string][]string{
	"entities":  {NSSearch + ":*"},
	"events":    {NSAnnounce + ":*"},
	"contracts": nil,
}

// Manager applies namespace TTL policy on top of the raw cache and
// keeps cached entries coherent with the bulk tables behind them.
type Manager struct {
	cache  *Cache
	ttl    TTLPolicy
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewManager creates a cache manager over c with the given TTL policy.
func NewManager(c *Cache, ttl TTLPolicy) *Manager {
	def := DefaultTTLPolicy()
	if ttl.Search <= 0 {
		ttl.Search = def.Search
	}
	if ttl.Profile <= 0 {
		ttl.Profile = def.Profile
	}
	if ttl.Document <= 0 {
		ttl.Document = def.Document
	}
	if ttl.Announce <= 0 {
		ttl.Announce = def.Announce
	}
	if ttl.Cert <= 0 {
		ttl.Cert = def.Cert
	}
	if ttl.Assoc <= 0 {
		ttl.Assoc = def.Assoc
	}

	return &Manager{
		cache:  c,
		ttl:    ttl,
		logger: log.WithComponent("cache-manager"),
		stopCh: make(chan struct{}),
	}
}

// TTLFor returns the expiry for a key based on its namespace segment.
func (m *Manager) TTLFor(key string) time.Duration {
	switch Namespace(key) {
	case NSSearch:
		return m.ttl.Search
	case NSProfile:
		return m.ttl.Profile
	case NSDocument:
		return m.ttl.Document
	case NSAnnounce:
		return m.ttl.Announce
	case NSCert:
		return m.ttl.Cert
	case NSAssoc:
		return m.ttl.Assoc
	default:
		return m.ttl.Search
	}
}

// Lookup reads a cached JSON value into dst, recording a hit or miss
// for the key's namespace. Cache backend errors count as misses so a
// degraded cache never blocks a request.
func (m *Manager) Lookup(ctx context.Context, key string, dst interface{}) bool {
	ns := Namespace(key)
	found, err := m.cache.GetJSON(ctx, key, dst)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed, treating as miss")
		metrics.CacheMissesTotal.WithLabelValues(ns).Inc()
		return false
	}
	if !found {
		metrics.CacheMissesTotal.WithLabelValues(ns).Inc()
		return false
	}
	metrics.CacheHitsTotal.WithLabelValues(ns).Inc()
	return true
}

// Store caches v under key with the namespace TTL. Failures are logged
// and swallowed: a write-through miss costs a future upstream call, not
// the current response.
func (m *Manager) Store(ctx context.Context, key string, v interface{}) {
	if err := m.cache.SetJSON(ctx, key, v, m.TTLFor(key)); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache store failed")
	}
}

// InvalidateEntity removes every cached entry scoped to one business
// key: its assembled profile and its document listings. Search entries
// are not keyed per entity and age out via TTL instead.
func (m *Manager) InvalidateEntity(ctx context.Context, businessKey string) (int, error) {
	total := 0
	for _, pattern := range []string{
		NSProfile + ":" + businessKey + ":*",
		NSDocument + ":" + businessKey + ":*",
	} {
		n, err := m.cache.Flush(ctx, pattern)
		total += int(n)
		if err != nil {
			return total, err
		}
	}
	m.logger.Debug().Str("business_key", businessKey).Int("removed", total).Msg("Invalidated entity cache entries")
	return total, nil
}

// HandleTableLoaded flushes the cache namespaces derived from a bulk
// table after the ingestion pipeline swaps in a fresh snapshot.
func (m *Manager) HandleTableLoaded(ctx context.Context, table string) {
	patterns, ok := tableFlushPatterns[table]
	if !ok {
		m.logger.Debug().Str("table", table).Msg("No cache namespaces derive from table")
		return
	}
	for _, pattern := range patterns {
		n, err := m.cache.Flush(ctx, pattern)
		if err != nil {
			m.logger.Warn().Err(err).Str("pattern", pattern).Msg("Cache flush after table load failed")
			continue
		}
		m.logger.Info().Str("table", table).Str("pattern", pattern).Int64("removed", n).Msg("Flushed cache entries after table load")
	}
}

// Watch subscribes to the event broker and flushes derived cache
// entries whenever a bulk table is reloaded. It returns immediately;
// call Stop to end the subscription loop.
func (m *Manager) Watch(broker *events.Broker) {
	sub := broker.Subscribe()

	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				if event.Type != events.EventTableLoaded {
					continue
				}
				m.HandleTableLoaded(context.Background(), event.Table())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends the event subscription loop started by Watch.
func (m *Manager) Stop() {
	close(m.stopCh)
}
