// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package signing implements the compact signed-token codec used for both
// the short-lived state tokens that carry an authorization request through
// the upstream redirect and the self-contained access tokens.
//
// Tokens have the shape base64url(header).base64url(payload).base64url(hmac)
// and are signed with HMAC-SHA256. Verification fails closed: a bad
// signature, a structurally malformed token, and an expired token are all
// rejected. The three outcomes are distinguishable via errors.Is for
// logging, but callers interested only in validity treat them identically.
package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum length of the signing secret in bytes.
// 32 bytes (256 bits) matches the HMAC-SHA256 block recommendation.
const MinSecretLength = 32

// Verification failures. All three mean "not valid"; none may be exposed
// to clients in a way that distinguishes them.
var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrMalformed        = errors.New("token is malformed")
	ErrExpired          = errors.New("token is expired")
)

// StateClaims is the payload of a signed state token. It carries the
// validated authorization request through the upstream identity provider
// redirect so no server-side session is needed; authenticity and integrity
// are guaranteed by the signature alone.
type StateClaims struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	// ClientState is the client's opaque state value, echoed back unchanged
	// on the final redirect.
	ClientState string `json:"client_state,omitempty"`
	// Nonce is forwarded to the upstream provider and checked against the
	// returned ID token to prevent replay.
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// AccessClaims is the payload of an access token. Validity is proven by
// signature and expiry alone; there is no server-side access-token store.
type AccessClaims struct {
	Scope string `json:"scope"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies compact tokens with a single symmetric secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec. The secret must be at least MinSecretLength
// bytes of cryptographically random material.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	return &Codec{secret: secret}, nil
}

// SignState serializes and signs a state token.
func (c *Codec) SignState(claims *StateClaims) (string, error) {
	return c.sign(claims)
}

// SignAccess serializes and signs an access token.
func (c *Codec) SignAccess(claims *AccessClaims) (string, error) {
	return c.sign(claims)
}

// VerifyState verifies a state token and returns its claims.
func (c *Codec) VerifyState(token string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := c.verify(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAccess verifies an access token and returns its claims.
func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// verify parses and validates a token into claims. The HMAC comparison
// inside the jwt library is constant-time. Signature, structure, and
// expiry failures map to the package sentinels.
func (c *Codec) verify(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(0),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// NewRegisteredClaims builds the iat/exp pair used by every token this
// server issues.
func NewRegisteredClaims(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}
