// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/ace/pkg/authserver/crypto"
	"github.com/stacklok/ace/pkg/authserver/storage"
	"github.com/stacklok/ace/pkg/logger"
)

// authCodeBytes is the entropy of a minted authorization code.
const authCodeBytes = 32

// handleCallback receives the upstream provider's response, recovers the
// original authorization request from the signed state, exchanges the
// provider code for a verified identity, provisions the tenant, mints a
// one-time authorization code, and redirects back to the client.
//
// Failures here are terminal 400s in plaintext. There is no client
// redirect_uri to send errors to until the state is verified, and after a
// failed upstream exchange the user must restart the flow anyway.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	stateParam := q.Get("state")
	if code == "" || stateParam == "" {
		http.Error(w, "missing code or state parameter", http.StatusBadRequest)
		return
	}

	state, err := h.codec.VerifyState(stateParam)
	if err != nil {
		// Signature, structure, and expiry failures are deliberately not
		// distinguished for the caller.
		logger.Warnw("callback with invalid state token", "error", err)
		http.Error(w, "invalid or expired state", http.StatusBadRequest)
		return
	}

	if h.upstream == nil {
		logger.Error("callback received but no upstream identity provider is configured")
		http.Error(w, "identity provider is not configured", http.StatusInternalServerError)
		return
	}

	identity, err := h.upstream.Exchange(r.Context(), code, state.Nonce)
	if err != nil {
		// No retry. A transient upstream failure still means the user
		// restarts the authorization flow.
		logger.Warnw("upstream identity exchange failed", "error", err)
		http.Error(w, "failed to verify identity with the upstream provider", http.StatusBadRequest)
		return
	}

	tenant, err := h.store.UpsertTenant(r.Context(), &storage.Tenant{
		ID:        identity.Subject,
		Email:     identity.Email,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Errorw("failed to provision tenant", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	authCode, err := crypto.GenerateToken(authCodeBytes)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	err = h.store.StoreAuthorizationCode(r.Context(), authCode, &storage.AuthorizationCode{
		ClientID:            state.ClientID,
		RedirectURI:         state.RedirectURI,
		TenantID:            tenant.ID,
		CodeChallenge:       state.CodeChallenge,
		CodeChallengeMethod: state.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(h.config.AuthCodeLifespan),
	})
	if err != nil {
		logger.Errorw("failed to store authorization code", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.Infow("issued authorization code", "client_id", state.ClientID, "tenant_id", tenant.ID)
	http.Redirect(w, r, buildClientRedirect(state.RedirectURI, authCode, state.ClientState), http.StatusFound)
}

// buildClientRedirect appends code and the client's original state to the
// validated redirect URI, preserving any query parameters it already has.
func buildClientRedirect(redirectURI, code, clientState string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The URI was validated at authorize time and is signature-protected
		// in transit, so this cannot happen for tokens we issued.
		return redirectURI
	}
	q := u.Query()
	q.Set("code", code)
	if clientState != "" {
		q.Set("state", clientState)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
