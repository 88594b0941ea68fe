// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockIssuer is a minimal OIDC issuer: discovery, JWKS, and a token
// endpoint that returns a pre-built ID token.
type mockIssuer struct {
	server  *httptest.Server
	key     *rsa.PrivateKey
	idToken string
}

func newMockIssuer(t *testing.T) *mockIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	m := &mockIssuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 m.server.URL,
			"authorization_endpoint": m.server.URL + "/auth",
			"token_endpoint":         m.server.URL + "/token",
			"userinfo_endpoint":      m.server.URL + "/userinfo",
			"jwks_uri":               m.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "test-key",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-access-token",
			"token_type":   "bearer",
			"id_token":     m.idToken,
		})
	})

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// signIDToken builds an ID token for the mock issuer.
func (m *mockIssuer) signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	claims["iss"] = m.server.URL
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(m.key)
	require.NoError(t, err)
	return signed
}

func newTestProvider(t *testing.T, issuer *mockIssuer) *OIDCProvider {
	t.Helper()
	provider, err := NewOIDCProvider(context.Background(), &Config{
		IssuerURL:    issuer.server.URL,
		ClientID:     "ace-server",
		ClientSecret: "ace-secret",
		RedirectURL:  "https://auth.example.com/callback",
	})
	require.NoError(t, err)
	return provider
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	valid := Config{
		IssuerURL:   "https://issuer.example.com",
		ClientID:    "id",
		RedirectURL: "https://auth.example.com/callback",
	}
	require.NoError(t, valid.Validate())

	missingIssuer := valid
	missingIssuer.IssuerURL = ""
	assert.Error(t, missingIssuer.Validate())

	missingClient := valid
	missingClient.ClientID = ""
	assert.Error(t, missingClient.Validate())

	missingRedirect := valid
	missingRedirect.RedirectURL = ""
	assert.Error(t, missingRedirect.Validate())
}

func TestAuthorizationURL(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	raw := provider.AuthorizationURL("signed-state", "nonce-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/auth", u.Path)
	q := u.Query()
	assert.Equal(t, "signed-state", q.Get("state"))
	assert.Equal(t, "nonce-123", q.Get("nonce"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "ace-server", q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "openid")
	assert.Equal(t, "https://auth.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "force", q.Get("approval_prompt"))
}

func TestExchangeVerifiesIDToken(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	issuer.idToken = issuer.signIDToken(t, jwt.MapClaims{
		"sub":   "github|42",
		"aud":   "ace-server",
		"nonce": "nonce-123",
		"email": "dev@example.com",
	})

	identity, err := provider.Exchange(context.Background(), "upstream-code", "nonce-123")
	require.NoError(t, err)
	assert.Equal(t, "github|42", identity.Subject)
	assert.Equal(t, "dev@example.com", identity.Email)
}

func TestExchangeRejectsNonceMismatch(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	issuer.idToken = issuer.signIDToken(t, jwt.MapClaims{
		"sub":   "github|42",
		"aud":   "ace-server",
		"nonce": "someone-elses-nonce",
	})

	_, err := provider.Exchange(context.Background(), "upstream-code", "nonce-123")
	assert.ErrorIs(t, err, ErrNonceMismatch)
}

func TestExchangeRejectsMissingNonce(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	issuer.idToken = issuer.signIDToken(t, jwt.MapClaims{
		"sub": "github|42",
		"aud": "ace-server",
	})

	_, err := provider.Exchange(context.Background(), "upstream-code", "nonce-123")
	assert.ErrorIs(t, err, ErrNonceMissing)
}

func TestExchangeRejectsWrongAudience(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	issuer.idToken = issuer.signIDToken(t, jwt.MapClaims{
		"sub":   "github|42",
		"aud":   "some-other-client",
		"nonce": "nonce-123",
	})

	_, err := provider.Exchange(context.Background(), "upstream-code", "nonce-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to verify upstream ID token")
}

func TestExchangeRejectsExpiredIDToken(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	issuer.idToken = issuer.signIDToken(t, jwt.MapClaims{
		"sub":   "github|42",
		"aud":   "ace-server",
		"nonce": "nonce-123",
		"exp":   time.Now().Add(-time.Hour).Unix(),
		"iat":   time.Now().Add(-2 * time.Hour).Unix(),
	})

	_, err := provider.Exchange(context.Background(), "upstream-code", "nonce-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to verify upstream ID token")
}

func TestExchangeFailsWhenTokenEndpointErrors(t *testing.T) {
	t.Parallel()
	issuer := newMockIssuer(t)
	provider := newTestProvider(t, issuer)

	// Swap in a failing token endpoint after discovery succeeded.
	issuer.server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	_, err := provider.Exchange(context.Background(), "bad-code", "nonce-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream code exchange failed")
}
