// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"github.com/stacklok/ace/pkg/authserver/crypto"
	"github.com/stacklok/ace/pkg/authserver/signing"
	"github.com/stacklok/ace/pkg/logger"
)

// nonceBytes is the entropy of the nonce forwarded to the upstream
// provider.
const nonceBytes = 16

// handleAuthorize validates an authorization request, packages it into a
// signed state token, and redirects the user agent to the upstream
// identity provider.
//
// Every rejection is a direct JSON error. In particular a bad
// redirect_uri must never cause a redirect: sending the user agent to an
// unverified URI would leak the flow to an attacker.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if rt := q.Get("response_type"); rt != "code" {
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedResponseType,
			"only response_type=code is supported")
		return
	}

	clientID := q.Get("client_id")
	client, err := h.registry.Lookup(r.Context(), clientID)
	if err != nil {
		logger.Warnw("authorize request for unknown client", "client_id", clientID)
		writeOAuthError(w, http.StatusBadRequest, errInvalidClient, "unknown client")
		return
	}

	redirectURI := q.Get("redirect_uri")
	if !client.HasRedirectURI(redirectURI) {
		logger.Warnw("authorize request with unregistered redirect_uri",
			"client_id", clientID, "redirect_uri", redirectURI)
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"redirect_uri is not registered for this client")
		return
	}

	codeChallenge := q.Get("code_challenge")
	if codeChallenge == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "code_challenge is required")
		return
	}

	method := q.Get("code_challenge_method")
	if method == "" {
		method = crypto.PKCEMethodS256
	}
	if method != crypto.PKCEMethodS256 && method != crypto.PKCEMethodPlain {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"code_challenge_method must be S256 or plain")
		return
	}

	if h.upstream == nil {
		// Fail closed. There is no unauthenticated fallback.
		logger.Error("authorize request received but no upstream identity provider is configured")
		writeOAuthError(w, http.StatusInternalServerError, errServerError,
			"identity provider is not configured")
		return
	}

	nonce, err := crypto.GenerateToken(nonceBytes)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "failed to process request")
		return
	}

	state, err := h.codec.SignState(&signing.StateClaims{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: method,
		ClientState:         q.Get("state"),
		Nonce:               nonce,
		RegisteredClaims:    signing.NewRegisteredClaims(time.Now(), h.config.StateLifespan),
	})
	if err != nil {
		logger.Errorw("failed to sign state token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "failed to process request")
		return
	}

	http.Redirect(w, r, h.upstream.AuthorizationURL(state, nonce), http.StatusFound)
}
