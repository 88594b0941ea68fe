// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the embedded OAuth 2.0 authorization
// server: dynamic client registration, the authorization code flow with
// PKCE bridged through an upstream identity provider, and token issuance
// with refresh rotation.
package authserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/ace/pkg/authserver/idp"
	"github.com/stacklok/ace/pkg/authserver/signing"
)

// Default token lifetimes. State and authorization codes are one-shot
// artifacts of a single login; access tokens are short-lived because they
// cannot be revoked; refresh tokens rotate on every use.
const (
	DefaultStateLifespan        = 5 * time.Minute
	DefaultAuthCodeLifespan     = 5 * time.Minute
	DefaultAccessTokenLifespan  = time.Hour
	DefaultRefreshTokenLifespan = 30 * 24 * time.Hour
)

// DefaultScope is the single scope this server issues.
const DefaultScope = "ace"

// TrustedClientConfig is an optional statically configured client that
// bypasses dynamic registration, for first-party tooling.
type TrustedClientConfig struct {
	ID           string
	Secret       string
	RedirectURIs []string
}

// Config holds the authorization server settings. Treated as immutable
// after Validate; handlers share one instance across goroutines.
type Config struct {
	// Issuer is this server's externally visible base URL. It appears in
	// discovery metadata and as the iss claim of every issued token.
	Issuer string

	// SigningSecret keys the HMAC over state and access tokens. All
	// replicas must share it.
	SigningSecret []byte

	StateLifespan        time.Duration
	AuthCodeLifespan     time.Duration
	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration

	// Scope is the scope granted to every issued token.
	Scope string

	// TrustedClient, when set, is honored alongside registered clients.
	TrustedClient *TrustedClientConfig

	// Upstream configures the federated identity provider. When nil the
	// authorize endpoint rejects all requests with server_error.
	Upstream *idp.Config
}

// Validate checks the configuration and fills in defaults. Call once
// before constructing the server.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer URL is required")
	}
	if len(c.SigningSecret) < signing.MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes", signing.MinSecretLength)
	}
	if c.TrustedClient != nil {
		if c.TrustedClient.ID == "" || c.TrustedClient.Secret == "" {
			return errors.New("trusted client requires both id and secret")
		}
		if len(c.TrustedClient.RedirectURIs) == 0 {
			return errors.New("trusted client requires at least one redirect URI")
		}
	}
	if c.Upstream != nil {
		if err := c.Upstream.Validate(); err != nil {
			return fmt.Errorf("invalid upstream config: %w", err)
		}
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.StateLifespan == 0 {
		c.StateLifespan = DefaultStateLifespan
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = DefaultAuthCodeLifespan
	}
	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = DefaultAccessTokenLifespan
	}
	if c.RefreshTokenLifespan == 0 {
		c.RefreshTokenLifespan = DefaultRefreshTokenLifespan
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
}
