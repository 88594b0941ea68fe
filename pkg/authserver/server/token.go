// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/stacklok/ace/pkg/authserver/crypto"
	"github.com/stacklok/ace/pkg/authserver/registry"
	"github.com/stacklok/ace/pkg/authserver/signing"
	"github.com/stacklok/ace/pkg/authserver/storage"
	"github.com/stacklok/ace/pkg/logger"
)

// refreshTokenBytes is the entropy of a minted refresh token.
const refreshTokenBytes = 32

// Supported grant types.
const (
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
)

// tokenResponse is the success body of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// handleToken exchanges an authorization code or a refresh token for
// fresh tokens. The caller is always authenticated as a known client
// first; only then is the grant type dispatched.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	clientID := r.PostFormValue("client_id")
	client, err := h.registry.Authenticate(r.Context(), clientID, r.PostFormValue("client_secret"))
	if err != nil {
		if errors.Is(err, registry.ErrInvalidClient) {
			logger.Warnw("token request failed client authentication", "client_id", clientID)
			writeTokenError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
			return
		}
		logger.Errorw("client authentication errored", "error", err)
		writeTokenError(w, http.StatusInternalServerError, errServerError, "failed to process request")
		return
	}

	switch grantType := r.PostFormValue("grant_type"); grantType {
	case grantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r, client)
	case grantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r, client)
	default:
		writeTokenError(w, http.StatusBadRequest, errUnsupportedGrantType,
			"grant_type must be authorization_code or refresh_token")
	}
}

// handleAuthorizationCodeGrant redeems a single-use authorization code.
// The code is consumed atomically before any further validation, so a
// code presented with the wrong client, redirect_uri, or verifier is
// burned: under concurrent redemption exactly one request can ever
// succeed.
func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, client *storage.Client) {
	code := r.PostFormValue("code")
	if code == "" {
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest, "code is required")
		return
	}
	verifier := r.PostFormValue("code_verifier")
	if verifier == "" {
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest, "code_verifier is required")
		return
	}

	rec, err := h.store.ConsumeAuthorizationCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeTokenError(w, http.StatusBadRequest, errInvalidGrant,
				"authorization code is invalid, expired, or already used")
			return
		}
		logger.Errorw("failed to consume authorization code", "error", err)
		writeTokenError(w, http.StatusInternalServerError, errServerError, "failed to process request")
		return
	}

	if rec.ClientID != client.ID || rec.RedirectURI != r.PostFormValue("redirect_uri") {
		logger.Warnw("authorization code presented with mismatched binding", "client_id", client.ID)
		writeTokenError(w, http.StatusBadRequest, errInvalidGrant,
			"authorization code was not issued to this client and redirect_uri")
		return
	}

	switch rec.CodeChallengeMethod {
	case crypto.PKCEMethodS256, crypto.PKCEMethodPlain:
	default:
		// Unreachable for codes we minted; registration never stores other
		// methods.
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest,
			"stored code_challenge_method is not supported")
		return
	}
	if !crypto.VerifyPKCE(rec.CodeChallengeMethod, rec.CodeChallenge, verifier) {
		logger.Warnw("PKCE verification failed", "client_id", client.ID)
		writeTokenError(w, http.StatusBadRequest, errInvalidGrant, "code_verifier does not match")
		return
	}

	h.issueTokens(w, r, rec.TenantID, client.ID)
}

// handleRefreshTokenGrant rotates a refresh token. The old record is
// consumed atomically before the replacement is stored; a replayed or
// raced token finds nothing and fails with invalid_grant.
func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, client *storage.Client) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	rec, err := h.store.ConsumeRefreshToken(r.Context(), crypto.HashSecret(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeTokenError(w, http.StatusBadRequest, errInvalidGrant,
				"refresh token is invalid, expired, or already rotated")
			return
		}
		logger.Errorw("failed to consume refresh token", "error", err)
		writeTokenError(w, http.StatusInternalServerError, errServerError, "failed to process request")
		return
	}

	if rec.ClientID != client.ID {
		logger.Warnw("refresh token presented by a different client", "client_id", client.ID)
		writeTokenError(w, http.StatusBadRequest, errInvalidGrant,
			"refresh token was not issued to this client")
		return
	}

	h.issueTokens(w, r, rec.TenantID, client.ID)
}

// issueTokens mints a self-contained access token and a fresh refresh
// token for the tenant and writes the token response.
func (h *Handler) issueTokens(w http.ResponseWriter, r *http.Request, tenantID, clientID string) {
	now := time.Now()

	var email string
	if tenant, err := h.store.GetTenant(r.Context(), tenantID); err == nil {
		email = tenant.Email
	}

	registered := signing.NewRegisteredClaims(now, h.config.AccessTokenLifespan)
	registered.Issuer = h.config.Issuer
	registered.Subject = tenantID
	accessToken, err := h.codec.SignAccess(&signing.AccessClaims{
		Scope:            h.config.Scope,
		Email:            email,
		RegisteredClaims: registered,
	})
	if err != nil {
		logger.Errorw("failed to sign access token", "error", err)
		writeTokenError(w, http.StatusInternalServerError, errServerError, "failed to issue tokens")
		return
	}

	refreshToken, err := crypto.GenerateToken(refreshTokenBytes)
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, errServerError, "failed to issue tokens")
		return
	}
	err = h.store.StoreRefreshToken(r.Context(), crypto.HashSecret(refreshToken), &storage.RefreshToken{
		TenantID:  tenantID,
		ClientID:  clientID,
		ExpiresAt: now.Add(h.config.RefreshTokenLifespan),
	})
	if err != nil {
		logger.Errorw("failed to store refresh token", "error", err)
		writeTokenError(w, http.StatusInternalServerError, errServerError, "failed to issue tokens")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.config.AccessTokenLifespan.Seconds()),
		RefreshToken: refreshToken,
		Scope:        h.config.Scope,
	})
}
