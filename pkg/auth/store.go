package auth

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/events"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
)

// The refresh path gets its own HTTP client so credential renewal
// never depends on a provider's connection pool.
const authClientTimeout = 15 * time.Second

// Store owns every provider credential. It caches tokens per service,
// refreshes them ahead of expiry, and serializes refreshes so ten
// concurrent callers against an expired token trigger one exchange.
//
// Token values never appear in logs or events; only the service name
// and expiry do.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]Token

	group  singleflight.Group
	auths  map[string]Authenticator
	skew   time.Duration
	broker *events.Broker
	logger zerolog.Logger

	recipientID      string
	recipientObject  string
	recipientContext string
}

// NewStore builds a credential store from configuration, creating one
// authenticator per service with configured credentials. The broker is
// optional; when set, refreshes and invalidations are published.
func NewStore(creds config.CredentialsConfig, broker *events.Broker) *Store {
	client := &http.Client{Timeout: authClientTimeout}

	var auths []Authenticator
	if creds.INSEE.ClientID != "" {
		auths = append(auths, NewClientCredentials(ServiceINSEE, creds.INSEE, client))
	}
	if creds.DGFIP.ClientID != "" {
		auths = append(auths, NewClientCredentials(ServiceDGFIP, creds.DGFIP, client))
	}
	if creds.INPI.Username != "" {
		auths = append(auths, NewPasswordLogin(ServiceINPI, creds.INPI, client))
	}
	if creds.Entreprise.Token != "" {
		auths = append(auths, NewStaticBearer(ServiceEntreprise, creds.Entreprise.Token))
	}

	s := NewStoreWith(auths, broker)
	s.recipientID = creds.Entreprise.RecipientID
	s.recipientObject = creds.Entreprise.Object
	s.recipientContext = creds.Entreprise.Context
	return s
}

// NewStoreWith builds a store over explicit authenticators.
func NewStoreWith(auths []Authenticator, broker *events.Broker) *Store {
	s := &Store{
		tokens: make(map[string]Token),
		auths:  make(map[string]Authenticator, len(auths)),
		skew:   DefaultSkew,
		broker: broker,
		logger: log.WithComponent("auth"),
	}
	for _, a := range auths {
		s.auths[a.Service()] = a
	}
	return s
}

// HeadersFor returns the headers that authenticate a request to the
// given credential service. An empty service name means the provider
// is anonymous and gets an empty map. Expired tokens are renewed
// before returning.
func (s *Store) HeadersFor(ctx context.Context, service string) (map[string]string, error) {
	if service == "" {
		return map[string]string{}, nil
	}

	tok, err := s.token(ctx, service)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Authorization": "Bearer " + tok.Value,
	}
	if service == ServiceEntreprise {
		if s.recipientID != "" {
			headers["Recipient"] = s.recipientID
		}
		if s.recipientObject != "" {
			headers["Object"] = s.recipientObject
		}
		if s.recipientContext != "" {
			headers["Context"] = s.recipientContext
		}
	}
	return headers, nil
}

// Invalidate drops the cached token for a service. The next
// HeadersFor call re-authenticates. Called by the HTTP layer after a
// provider rejects the credential with a 401.
func (s *Store) Invalidate(service string) {
	s.mu.Lock()
	_, had := s.tokens[service]
	delete(s.tokens, service)
	s.mu.Unlock()

	if !had {
		return
	}
	s.logger.Info().Str("service", service).Msg("Credential invalidated")
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventTokenInvalidated,
			Message:  "credential invalidated for " + service,
			Metadata: map[string]string{"service": service},
		})
	}
}

// Prime authenticates the given services eagerly. Used at boot so a
// misconfigured required credential fails the process instead of the
// first request.
func (s *Store) Prime(ctx context.Context, services ...string) error {
	for _, service := range services {
		if _, err := s.token(ctx, service); err != nil {
			return err
		}
	}
	return nil
}

// Services lists the credential services with configured
// authenticators, sorted.
func (s *Store) Services() []string {
	services := make([]string, 0, len(s.auths))
	for service := range s.auths {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}

// token returns a fresh token for the service, refreshing through a
// per-service single flight when the cached one is expired or absent.
func (s *Store) token(ctx context.Context, service string) (Token, error) {
	s.mu.RLock()
	tok, ok := s.tokens[service]
	s.mu.RUnlock()
	if ok && !tok.Expired(time.Now(), s.skew) {
		return tok, nil
	}

	v, err, _ := s.group.Do(service, func() (interface{}, error) {
		// A concurrent flight may have refreshed while this caller
		// waited for the flight slot.
		s.mu.RLock()
		current, ok := s.tokens[service]
		s.mu.RUnlock()
		if ok && !current.Expired(time.Now(), s.skew) {
			return current, nil
		}

		fresh, err := s.refresh(ctx, service, current)
		if err != nil {
			return Token{}, err
		}
		s.mu.Lock()
		s.tokens[service] = fresh
		s.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

func (s *Store) refresh(ctx context.Context, service string, current Token) (Token, error) {
	authenticator, ok := s.auths[service]
	if !ok {
		return Token{}, guicherr.New(guicherr.KindAuthConfig, service, "no credentials configured for service")
	}

	var tok Token
	var err error
	if current.Value == "" {
		tok, err = authenticator.Authenticate(ctx)
	} else {
		tok, err = authenticator.Refresh(ctx, current)
	}
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(service, "failure").Inc()
		s.logger.Warn().Str("service", service).Str("kind", string(guicherr.KindOf(err))).Msg("Credential refresh failed")
		return Token{}, err
	}

	metrics.TokenRefreshesTotal.WithLabelValues(service, "success").Inc()
	s.logger.Info().Str("service", service).Time("expires_at", tok.ExpiresAt).Msg("Credential refreshed")
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventTokenRefreshed,
			Message: "credential refreshed for " + service,
			Metadata: map[string]string{
				"service":    service,
				"expires_at": tok.ExpiresAt.Format(time.RFC3339),
			},
		})
	}
	return tok, nil
}
