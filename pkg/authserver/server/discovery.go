// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/stacklok/ace/pkg/authserver/crypto"
)

// handleAuthServerMetadata serves RFC 8414 authorization server metadata
// so clients can discover the endpoints and supported PKCE methods.
func (h *Handler) handleAuthServerMetadata(w http.ResponseWriter, _ *http.Request) {
	issuer := h.config.Issuer
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"registration_endpoint":                 issuer + "/oauth/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{grantTypeAuthorizationCode, grantTypeRefreshToken},
		"code_challenge_methods_supported":      []string{crypto.PKCEMethodS256, crypto.PKCEMethodPlain},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
		"scopes_supported":                      []string{h.config.Scope},
	})
}

// handleProtectedResourceMetadata serves RFC 9728 protected resource
// metadata pointing resource clients at this authorization server.
func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, _ *http.Request) {
	issuer := h.config.Issuer
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 issuer,
		"authorization_servers":    []string{issuer},
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         []string{h.config.Scope},
	})
}
