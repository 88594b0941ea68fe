// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry manages OAuth client registration and authentication.
// Clients register dynamically (RFC 7591); an optional statically
// configured trusted client is honored alongside them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/ace/pkg/authserver/crypto"
	"github.com/stacklok/ace/pkg/authserver/storage"
)

// Registration metadata limits.
const (
	// MaxRedirectURIs caps the allow-list size per client.
	MaxRedirectURIs = 10
	// MaxClientNameLength caps the human-readable client name.
	MaxClientNameLength = 256
	// clientSecretBytes is the entropy of a generated client secret.
	clientSecretBytes = 32
)

// ErrInvalidClient is returned when authentication fails. It carries no
// detail on purpose: unknown id and wrong secret are indistinguishable.
var ErrInvalidClient = errors.New("invalid client credentials")

// ErrInvalidMetadata is wrapped around all registration validation
// failures so handlers can map them to invalid_client_metadata.
var ErrInvalidMetadata = errors.New("invalid client metadata")

// TrustedClient is a statically configured client. Its secret is held
// only as a digest, same as registered clients.
type TrustedClient struct {
	ID           string
	SecretHash   string
	RedirectURIs []string
}

// Registry validates, stores, and authenticates OAuth clients.
type Registry struct {
	store   storage.Store
	trusted *TrustedClient
}

// New creates a Registry. trusted may be nil.
func New(store storage.Store, trusted *TrustedClient) *Registry {
	return &Registry{store: store, trusted: trusted}
}

// Registration is the result of a successful dynamic registration. Secret
// is the plaintext client secret, returned exactly once; only its digest
// is stored.
type Registration struct {
	Client *storage.Client
	Secret string
}

// Register validates the metadata, mints credentials, and stores the
// client.
func (r *Registry) Register(ctx context.Context, name string, redirectURIs []string) (*Registration, error) {
	if err := validateMetadata(name, redirectURIs); err != nil {
		return nil, err
	}

	secret, err := crypto.GenerateToken(clientSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	client := &storage.Client{
		ID:           uuid.NewString(),
		SecretHash:   crypto.HashSecret(secret),
		RedirectURIs: redirectURIs,
		Name:         name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}
	return &Registration{Client: client, Secret: secret}, nil
}

func validateMetadata(name string, redirectURIs []string) error {
	if len(redirectURIs) == 0 {
		return fmt.Errorf("%w: redirect_uris is required", ErrInvalidMetadata)
	}
	if len(redirectURIs) > MaxRedirectURIs {
		return fmt.Errorf("%w: at most %d redirect_uris are allowed", ErrInvalidMetadata, MaxRedirectURIs)
	}
	for _, raw := range redirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("%w: redirect URI %q is not an absolute URL", ErrInvalidMetadata, raw)
		}
	}
	if len(name) > MaxClientNameLength {
		return fmt.Errorf("%w: client_name exceeds %d characters", ErrInvalidMetadata, MaxClientNameLength)
	}
	return nil
}

// Lookup returns the client by id, checking the trusted client first.
func (r *Registry) Lookup(ctx context.Context, clientID string) (*storage.Client, error) {
	if r.trusted != nil && clientID == r.trusted.ID {
		return r.trustedAsClient(), nil
	}
	return r.store.GetClient(ctx, clientID)
}

// Authenticate verifies client credentials. The presented secret is
// digested and compared in constant time against the stored digest, for
// the trusted client and registered clients alike. Any failure returns
// ErrInvalidClient with no further detail.
func (r *Registry) Authenticate(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	presentedHash := crypto.HashSecret(clientSecret)

	if r.trusted != nil && clientID == r.trusted.ID {
		if crypto.ConstantTimeEquals(presentedHash, r.trusted.SecretHash) {
			return r.trustedAsClient(), nil
		}
		return nil, ErrInvalidClient
	}

	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}
	if !crypto.ConstantTimeEquals(presentedHash, client.SecretHash) {
		return nil, ErrInvalidClient
	}
	return client, nil
}

func (r *Registry) trustedAsClient() *storage.Client {
	return &storage.Client{
		ID:           r.trusted.ID,
		SecretHash:   r.trusted.SecretHash,
		RedirectURIs: r.trusted.RedirectURIs,
	}
}
