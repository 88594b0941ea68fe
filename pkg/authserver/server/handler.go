// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server implements the HTTP surface of the authorization server:
// the authorize, callback, token, and registration endpoints plus the
// discovery metadata documents.
package server

import (
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/ace/pkg/authserver"
	"github.com/stacklok/ace/pkg/authserver/crypto"
	"github.com/stacklok/ace/pkg/authserver/idp"
	"github.com/stacklok/ace/pkg/authserver/registry"
	"github.com/stacklok/ace/pkg/authserver/signing"
	"github.com/stacklok/ace/pkg/authserver/storage"
)

// Handler carries the immutable dependencies shared by all endpoint
// handlers. One instance serves all requests concurrently.
type Handler struct {
	config   *authserver.Config
	codec    *signing.Codec
	registry *registry.Registry
	store    storage.Store
	upstream idp.Provider
}

// New validates the configuration and builds the Handler. upstream may be
// nil; the authorize endpoint then fails closed with server_error.
func New(cfg *authserver.Config, store storage.Store, upstream idp.Provider) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authserver config: %w", err)
	}
	codec, err := signing.NewCodec(cfg.SigningSecret)
	if err != nil {
		return nil, err
	}

	var trusted *registry.TrustedClient
	if cfg.TrustedClient != nil {
		trusted = &registry.TrustedClient{
			ID:           cfg.TrustedClient.ID,
			SecretHash:   crypto.HashSecret(cfg.TrustedClient.Secret),
			RedirectURIs: cfg.TrustedClient.RedirectURIs,
		}
	}

	return &Handler{
		config:   cfg,
		codec:    codec,
		registry: registry.New(store, trusted),
		store:    store,
		upstream: upstream,
	}, nil
}

// Routes returns the router for all OAuth endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/oauth/authorize", h.handleAuthorize)
	r.Get("/oauth/callback", h.handleCallback)
	r.Post("/oauth/token", h.handleToken)
	r.Post("/oauth/register", h.handleRegister)
	r.Get("/.well-known/oauth-authorization-server", h.handleAuthServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", h.handleProtectedResourceMetadata)

	return r
}
