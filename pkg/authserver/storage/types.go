// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the durable-state interfaces and implementations
// for the authorization server: OAuth clients, single-use authorization
// codes, rotating refresh tokens, and tenants.
//
// All handler instances share one store, so correctness under concurrent
// requests depends on the store's atomicity guarantees: consuming an
// authorization code and rotating a refresh token are single atomic
// claim operations. Two concurrent redemptions of the same code or token
// yield exactly one success.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or has
// expired. Expired rows are indistinguishable from absent rows.
var ErrNotFound = errors.New("record not found")

// Client is a registered OAuth client. The plaintext secret is never
// stored; only its digest is kept. Clients are immutable after creation.
type Client struct {
	ID           string    `json:"client_id"`
	SecretHash   string    `json:"secret_hash"`
	RedirectURIs []string  `json:"redirect_uris"`
	Name         string    `json:"client_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRedirectURI reports whether uri is a byte-exact member of the
// client's allow-list. No wildcard or prefix matching.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AuthorizationCode is a single-use code minted at callback time. It is
// redeemable only by the client_id/redirect_uri pair that created it and
// only with a code_verifier matching the recorded PKCE challenge.
type AuthorizationCode struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	TenantID            string    `json:"tenant_id"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// RefreshToken is the stored record for a refresh token. The raw token is
// never stored; records are keyed by the token's digest.
type RefreshToken struct {
	TenantID  string    `json:"tenant_id"`
	ClientID  string    `json:"client_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Tenant is the isolation unit for all downstream data, one per federated
// identity. The ID is derived from the identity provider's subject claim.
type Tenant struct {
	ID        string    `json:"tenant_id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the shared external store used by every handler instance.
type Store interface {
	// CreateClient stores a newly registered client.
	CreateClient(ctx context.Context, client *Client) error

	// GetClient returns a client by id, or ErrNotFound.
	GetClient(ctx context.Context, id string) (*Client, error)

	// StoreAuthorizationCode stores a code record until its expiry.
	StoreAuthorizationCode(ctx context.Context, code string, rec *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically fetches and deletes a code.
	// Absent, expired, and already-consumed codes all return ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// StoreRefreshToken stores a refresh token record keyed by digest.
	StoreRefreshToken(ctx context.Context, tokenHash string, rec *RefreshToken) error

	// ConsumeRefreshToken atomically fetches and deletes a refresh token
	// record by digest. Rotation is this consume followed by a store of
	// the replacement; a replayed token finds nothing and gets ErrNotFound.
	ConsumeRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// UpsertTenant inserts the tenant if absent and returns the current
	// row. A returning federated identity keeps its original tenant row.
	UpsertTenant(ctx context.Context, tenant *Tenant) (*Tenant, error)

	// GetTenant returns a tenant by id, or ErrNotFound.
	GetTenant(ctx context.Context, id string) (*Tenant, error)

	// Close releases the store's resources.
	Close() error
}
