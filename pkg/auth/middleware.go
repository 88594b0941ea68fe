// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/ace/pkg/authserver/signing"
	"github.com/stacklok/ace/pkg/logger"
)

// Authenticator verifies bearer tokens on inbound resource requests.
type Authenticator struct {
	codec *signing.Codec
	// anonymousTenantID, when set, is the fallback identity for requests
	// without a valid token.
	anonymousTenantID string
	// resourceMetadataURL is advertised in WWW-Authenticate challenges so
	// clients can discover the authorization server.
	resourceMetadataURL string
}

// NewAuthenticator creates an Authenticator. issuer is this server's
// externally visible base URL; anonymousTenantID may be empty.
func NewAuthenticator(codec *signing.Codec, issuer, anonymousTenantID string) *Authenticator {
	return &Authenticator{
		codec:               codec,
		anonymousTenantID:   anonymousTenantID,
		resourceMetadataURL: issuer + "/.well-known/oauth-protected-resource",
	}
}

// Middleware extracts and verifies the bearer token and attaches the
// identity to the request context. An expired or invalid token is treated
// identically to an absent one: the request continues unauthenticated
// (or as the anonymous tenant) and enforcement happens downstream.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := a.identify(r); id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) identify(r *http.Request) *Identity {
	token := bearerToken(r)
	if token != "" {
		claims, err := a.codec.VerifyAccess(token)
		if err == nil {
			return &Identity{TenantID: claims.Subject, Email: claims.Email}
		}
		// Reason is logged but never surfaced; invalid means absent here.
		logger.Debugw("rejected bearer token", "error", err)
	}
	if a.anonymousTenantID != "" {
		return &Identity{TenantID: a.anonymousTenantID}
	}
	return nil
}

// RequireAuth rejects requests that carry no identity with a 401 and a
// WWW-Authenticate challenge pointing at the discovery document.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Bearer realm="ace", resource_metadata=%q`, a.resourceMetadataURL))
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header, or
// returns an empty string.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
