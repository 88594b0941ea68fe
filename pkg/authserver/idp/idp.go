// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package idp integrates the upstream identity provider that users
// actually log in with. The authorization server never sees credentials;
// it hands the browser to the upstream provider and receives a verified
// identity back.
package idp

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Nonce validation failures during the upstream exchange.
var (
	ErrNonceMismatch = errors.New("id token nonce does not match expected nonce")
	ErrNonceMissing  = errors.New("id token does not contain a nonce")
)

// Config holds the upstream provider settings.
type Config struct {
	// IssuerURL is the provider's OIDC issuer, used for discovery.
	IssuerURL string
	// ClientID and ClientSecret are this server's credentials at the
	// upstream provider.
	ClientID     string
	ClientSecret string
	// RedirectURL is this server's callback endpoint, registered with the
	// upstream provider.
	RedirectURL string
	// Scopes to request beyond openid. Defaults to profile and email.
	Scopes []string
}

// Validate checks that the required fields are set.
func (c *Config) Validate() error {
	if c.IssuerURL == "" {
		return errors.New("upstream issuer URL is required")
	}
	if c.ClientID == "" {
		return errors.New("upstream client ID is required")
	}
	if c.RedirectURL == "" {
		return errors.New("upstream redirect URL is required")
	}
	return nil
}

// Identity is the verified result of an upstream login.
type Identity struct {
	// Subject is the provider's stable identifier for the user. It becomes
	// the tenant ID verbatim.
	Subject string
	// Email is informational and may be empty.
	Email string
}

// Provider abstracts the upstream identity provider so the HTTP handlers
// can be tested without a live issuer.
type Provider interface {
	// AuthorizationURL builds the upstream login URL carrying the signed
	// state and the nonce to be embedded in the returned ID token.
	AuthorizationURL(state, nonce string) string

	// Exchange redeems the upstream authorization code and returns the
	// verified identity. The nonce must match the one sent at login.
	Exchange(ctx context.Context, code, nonce string) (*Identity, error)
}

// OIDCProvider implements Provider against any OIDC-compliant issuer
// using discovery.
type OIDCProvider struct {
	oauthConfig *oauth2.Config
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer's endpoints and builds a provider.
func NewOIDCProvider(ctx context.Context, cfg *Config) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", cfg.IssuerURL, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"profile", "email"}
	}

	return &OIDCProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       append([]string{oidc.ScopeOpenID}, scopes...),
		},
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthorizationURL builds the upstream login URL, requesting offline
// access and forcing re-consent so the provider always returns a fresh
// grant.
func (p *OIDCProvider) AuthorizationURL(state, nonce string) string {
	return p.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oidc.Nonce(nonce))
}

// Exchange redeems the upstream code, verifies the returned ID token
// (signature, issuer, audience, expiry, nonce) and extracts the identity.
// Providers that return no ID token fall back to the UserInfo endpoint.
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("upstream code exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return p.identityFromUserInfo(ctx, token)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify upstream ID token: %w", err)
	}
	if idToken.Nonce == "" {
		return nil, ErrNonceMissing
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse upstream ID token claims: %w", err)
	}
	return &Identity{Subject: idToken.Subject, Email: claims.Email}, nil
}

func (p *OIDCProvider) identityFromUserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upstream userinfo: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("upstream userinfo has no subject")
	}
	return &Identity{Subject: info.Subject, Email: info.Email}, nil
}
