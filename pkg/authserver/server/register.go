// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stacklok/ace/pkg/authserver/registry"
	"github.com/stacklok/ace/pkg/logger"
)

// registrationRequest is the RFC 7591 dynamic registration request body,
// reduced to the metadata this server honors.
type registrationRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
}

// registrationResponse is the registration success body. ClientSecret is
// the plaintext secret, returned exactly once.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// handleRegister registers a new OAuth client.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed JSON body")
		return
	}

	registration, err := h.registry.Register(r.Context(), req.ClientName, req.RedirectURIs)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidMetadata) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata, err.Error())
			return
		}
		logger.Errorw("client registration failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "failed to register client")
		return
	}

	logger.Infow("registered client", "client_id", registration.Client.ID, "client_name", req.ClientName)
	writeJSON(w, http.StatusOK, registrationResponse{
		ClientID:                registration.Client.ID,
		ClientSecret:            registration.Secret,
		ClientIDIssuedAt:        registration.Client.CreatedAt.Unix(),
		RedirectURIs:            registration.Client.RedirectURIs,
		ClientName:              registration.Client.Name,
		TokenEndpointAuthMethod: "client_secret_post",
		GrantTypes:              []string{grantTypeAuthorizationCode, grantTypeRefreshToken},
		ResponseTypes:           []string{"code"},
	})
}
