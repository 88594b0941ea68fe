// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the cryptographic primitives shared by the
// authorization server: constant-time comparison, secret digests, random
// token generation, and PKCE (RFC 7636) helpers.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE challenge methods per RFC 7636 Section 4.2 and 4.3.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// ConstantTimeEquals compares two strings in time independent of where
// they first differ. It returns false immediately when the lengths differ;
// length is not secret, so the early return does not leak.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashSecret returns the base64url-encoded SHA-256 digest of a secret.
// Stored secrets are only ever kept in this form.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateToken returns a cryptographically random, URL-safe string with
// nBytes of entropy. Used for authorization codes, refresh tokens, and
// client secrets.
func GenerateToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GeneratePKCEVerifier generates a random code_verifier per RFC 7636
// Section 4.1, delegating to golang.org/x/oauth2.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes the S256 code_challenge for a verifier:
// BASE64URL(SHA256(code_verifier)), delegating to golang.org/x/oauth2.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a presented code_verifier against the challenge
// recorded at authorization time. Both supported methods compare in
// constant time. An unknown method returns false; callers treat that as a
// hard request error since registration never stores other methods.
func VerifyPKCE(method, challenge, verifier string) bool {
	switch method {
	case PKCEMethodS256:
		return ConstantTimeEquals(ComputePKCEChallenge(verifier), challenge)
	case PKCEMethodPlain:
		return ConstantTimeEquals(verifier, challenge)
	default:
		return false
	}
}
