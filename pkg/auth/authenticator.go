package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/guicherr"
)

// Authenticator obtains and renews credentials for one service.
type Authenticator interface {
	// Service returns the credential service name.
	Service() string
	// Authenticate performs a full credential exchange.
	Authenticate(ctx context.Context) (Token, error)
	// Refresh renews a token, preferring the cheap path when the
	// scheme has one, falling back to full authentication.
	Refresh(ctx context.Context, current Token) (Token, error)
}

const (
	// Password logins whose tokens carry no expiry are renewed daily.
	defaultLoginTTL = 24 * time.Hour
	// Static bearers without a readable expiry are assumed valid for
	// six months, matching their issuance policy.
	defaultStaticTTL = 180 * 24 * time.Hour

	maxTokenBodySize = 1 << 20
)

// classifyTokenError maps a token endpoint failure to its error kind:
// a 4xx means the credentials are wrong (fatal until reconfigured), a
// 5xx or a network failure means the endpoint is down (retryable).
func classifyTokenError(service string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		if rErr.Response.StatusCode >= 400 && rErr.Response.StatusCode < 500 {
			return guicherr.Wrap(guicherr.KindAuthConfig, service, err)
		}
	}
	return guicherr.Wrap(guicherr.KindAuthUnavailable, service, err)
}

// ClientCredentialsAuthenticator implements the OAuth2
// client-credentials exchange used by INSEE and DGFIP.
type ClientCredentialsAuthenticator struct {
	service string
	conf    *clientcredentials.Config
	client  *http.Client
}

// NewClientCredentials creates an authenticator doing the OAuth2
// client-credentials grant against a token endpoint.
func NewClientCredentials(service string, creds config.ClientCredentials, client *http.Client) *ClientCredentialsAuthenticator {
	var scopes []string
	if creds.Scope != "" {
		scopes = strings.Fields(creds.Scope)
	}
	return &ClientCredentialsAuthenticator{
		service: service,
		conf: &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       scopes,
		},
		client: client,
	}
}

func (a *ClientCredentialsAuthenticator) Service() string {
	return a.service
}

func (a *ClientCredentialsAuthenticator) Authenticate(ctx context.Context) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := a.conf.Token(ctx)
	if err != nil {
		return Token{}, classifyTokenError(a.service, err)
	}
	return Token{
		Value:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Refresh uses the refresh_token grant when the endpoint issued one,
// and falls back to a full client-credentials exchange otherwise.
func (a *ClientCredentialsAuthenticator) Refresh(ctx context.Context, current Token) (Token, error) {
	if current.RefreshToken != "" {
		octx := context.WithValue(ctx, oauth2.HTTPClient, a.client)
		conf := &oauth2.Config{
			ClientID:     a.conf.ClientID,
			ClientSecret: a.conf.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: a.conf.TokenURL},
		}
		src := conf.TokenSource(octx, &oauth2.Token{RefreshToken: current.RefreshToken})
		if tok, err := src.Token(); err == nil {
			refreshToken := tok.RefreshToken
			if refreshToken == "" {
				refreshToken = current.RefreshToken
			}
			return Token{
				Value:        tok.AccessToken,
				RefreshToken: refreshToken,
				ExpiresAt:    tok.Expiry,
			}, nil
		}
	}
	return a.Authenticate(ctx)
}

// PasswordLoginAuthenticator implements the JSON username/password
// login used by INPI. The login response yields a bearer token whose
// expiry is read from its exp claim when it is a JWT.
type PasswordLoginAuthenticator struct {
	service  string
	username string
	password string
	loginURL string
	client   *http.Client
	ttl      time.Duration
}

// NewPasswordLogin creates an authenticator performing a JSON login.
func NewPasswordLogin(service string, creds config.LoginCredentials, client *http.Client) *PasswordLoginAuthenticator {
	return &PasswordLoginAuthenticator{
		service:  service,
		username: creds.Username,
		password: creds.Password,
		loginURL: creds.LoginURL,
		client:   client,
		ttl:      defaultLoginTTL,
	}
}

func (a *PasswordLoginAuthenticator) Service() string {
	return a.service
}

func (a *PasswordLoginAuthenticator) Authenticate(ctx context.Context) (Token, error) {
	body, err := json.Marshal(map[string]string{
		"username": a.username,
		"password": a.password,
	})
	if err != nil {
		return Token{}, fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Token{}, guicherr.Wrap(guicherr.KindAuthUnavailable, a.service, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return Token{}, guicherr.Wrap(guicherr.KindAuthUnavailable, a.service, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return Token{}, guicherr.New(guicherr.KindAuthUnavailable, a.service,
			fmt.Sprintf("login endpoint returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return Token{}, guicherr.New(guicherr.KindAuthConfig, a.service,
			fmt.Sprintf("login rejected with %d", resp.StatusCode))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return Token{}, guicherr.Wrap(guicherr.KindAuthUnavailable, a.service, err)
	}
	if out.Token == "" {
		return Token{}, guicherr.New(guicherr.KindAuthConfig, a.service, "login response carried no token")
	}

	expiresAt := jwtExpiry(out.Token)
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(a.ttl)
	}
	return Token{Value: out.Token, ExpiresAt: expiresAt}, nil
}

// Refresh re-runs the login; the scheme has no cheaper renewal.
func (a *PasswordLoginAuthenticator) Refresh(ctx context.Context, _ Token) (Token, error) {
	return a.Authenticate(ctx)
}

// StaticBearerAuthenticator wraps the long-lived bearer issued out of
// band for API Entreprise. There is nothing to exchange; the token's
// own expiry bounds its use.
type StaticBearerAuthenticator struct {
	service string
	token   string
}

// NewStaticBearer creates an authenticator around a pre-issued bearer.
func NewStaticBearer(service, token string) *StaticBearerAuthenticator {
	return &StaticBearerAuthenticator{service: service, token: token}
}

func (a *StaticBearerAuthenticator) Service() string {
	return a.service
}

func (a *StaticBearerAuthenticator) Authenticate(_ context.Context) (Token, error) {
	if a.token == "" {
		return Token{}, guicherr.New(guicherr.KindAuthConfig, a.service, "no bearer token configured")
	}
	expiresAt := jwtExpiry(a.token)
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultStaticTTL)
	}
	if !expiresAt.After(time.Now()) {
		return Token{}, guicherr.New(guicherr.KindAuthConfig, a.service, "configured bearer token is expired")
	}
	return Token{Value: a.token, ExpiresAt: expiresAt}, nil
}

// Refresh cannot renew a static bearer; it re-validates the configured
// one so an expired token surfaces as a configuration error.
func (a *StaticBearerAuthenticator) Refresh(ctx context.Context, _ Token) (Token, error) {
	return a.Authenticate(ctx)
}
