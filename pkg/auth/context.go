// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth authenticates inbound resource requests: it parses the
// bearer token, verifies it, and attaches the resulting principal to the
// request context. Enforcement (require-auth vs. allow-anonymous) is a
// separate, explicitly configured policy.
package auth

import "context"

// Identity is the verified principal of an inbound request.
type Identity struct {
	// TenantID scopes every downstream data operation.
	TenantID string
	// Email is informational and may be empty.
	Email string
}

// identityContextKey is the context key for the request identity.
type identityContextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the identity from the context, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}
