package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/guicherr"
)

func signedJWT(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": jwt.NewNumericDate(expiresAt),
		"sub": "test",
	})
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestClientCredentialsAuthenticate(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	a := NewClientCredentials(ServiceINSEE, config.ClientCredentials{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	}, server.Client())

	tok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-token", tok.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
	assert.Equal(t, 1, hits)
}

func TestClientCredentialsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	a := NewClientCredentials(ServiceINSEE, config.ClientCredentials{
		ClientID:     "client",
		ClientSecret: "wrong",
		TokenURL:     server.URL,
	}, server.Client())

	_, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, guicherr.KindAuthConfig, guicherr.KindOf(err))
}

func TestClientCredentialsEndpointDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := server.Client()
	server.Close()

	a := NewClientCredentials(ServiceDGFIP, config.ClientCredentials{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	}, client)

	_, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, guicherr.KindAuthUnavailable, guicherr.KindOf(err))
}

func TestPasswordLoginParsesJWTExpiry(t *testing.T) {
	expiresAt := time.Now().Add(90 * time.Minute).Truncate(time.Second)
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": signedJWT(t, expiresAt)})
	}))
	defer server.Close()

	a := NewPasswordLogin(ServiceINPI, config.LoginCredentials{
		Username: "user@example.test",
		Password: "pass",
		LoginURL: server.URL,
	}, server.Client())

	tok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user@example.test", gotBody["username"])
	assert.Equal(t, "pass", gotBody["password"])
	assert.WithinDuration(t, expiresAt, tok.ExpiresAt, time.Second)
}

func TestPasswordLoginOpaqueTokenDefaultsExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "opaque-bearer"})
	}))
	defer server.Close()

	a := NewPasswordLogin(ServiceINPI, config.LoginCredentials{
		Username: "user",
		Password: "pass",
		LoginURL: server.URL,
	}, server.Client())

	tok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-bearer", tok.Value)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), tok.ExpiresAt, time.Minute)
}

func TestPasswordLoginRejected(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind guicherr.Kind
	}{
		{"bad credentials", http.StatusForbidden, guicherr.KindAuthConfig},
		{"endpoint down", http.StatusServiceUnavailable, guicherr.KindAuthUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			a := NewPasswordLogin(ServiceINPI, config.LoginCredentials{
				Username: "user",
				Password: "pass",
				LoginURL: server.URL,
			}, server.Client())

			_, err := a.Authenticate(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, guicherr.KindOf(err))
		})
	}
}

func TestPasswordLoginEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	a := NewPasswordLogin(ServiceINPI, config.LoginCredentials{
		Username: "user",
		Password: "pass",
		LoginURL: server.URL,
	}, server.Client())

	_, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, guicherr.KindAuthConfig, guicherr.KindOf(err))
}

func TestStaticBearerReadsJWTExpiry(t *testing.T) {
	expiresAt := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	a := NewStaticBearer(ServiceEntreprise, signedJWT(t, expiresAt))

	tok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, expiresAt, tok.ExpiresAt, time.Second)
}

func TestStaticBearerOpaqueDefaultsSixMonths(t *testing.T) {
	a := NewStaticBearer(ServiceEntreprise, "opaque-static-bearer")

	tok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(180*24*time.Hour), tok.ExpiresAt, time.Minute)
}

func TestStaticBearerExpired(t *testing.T) {
	a := NewStaticBearer(ServiceEntreprise, signedJWT(t, time.Now().Add(-time.Hour)))

	_, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, guicherr.KindAuthConfig, guicherr.KindOf(err))
}

func TestStaticBearerMissing(t *testing.T) {
	a := NewStaticBearer(ServiceEntreprise, "")

	_, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, guicherr.KindAuthConfig, guicherr.KindOf(err))
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	skew := 300 * time.Second

	tests := []struct {
		name string
		tok  Token
		want bool
	}{
		{"empty token", Token{}, true},
		{"no expiry never expires", Token{Value: "v"}, false},
		{"fresh", Token{Value: "v", ExpiresAt: now.Add(time.Hour)}, false},
		{"inside skew window", Token{Value: "v", ExpiresAt: now.Add(200 * time.Second)}, true},
		{"exactly at skew boundary", Token{Value: "v", ExpiresAt: now.Add(skew)}, true},
		{"just outside skew", Token{Value: "v", ExpiresAt: now.Add(skew + time.Second)}, false},
		{"already expired", Token{Value: "v", ExpiresAt: now.Add(-time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tok.Expired(now, skew))
		})
	}
}
