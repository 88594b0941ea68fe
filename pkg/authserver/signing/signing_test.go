// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T, fill byte) *Codec {
	t.Helper()
	codec, err := NewCodec([]byte(strings.Repeat(string(fill), MinSecretLength)))
	require.NoError(t, err)
	return codec
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	t.Parallel()
	_, err := NewCodec([]byte("too-short"))
	assert.Error(t, err)

	_, err = NewCodec(nil)
	assert.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	codec := newCodec(t, 'a')

	claims := &StateClaims{
		ClientID:            "client-1",
		RedirectURI:         "https://app.example/cb",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ClientState:         "opaque",
		Nonce:               "nonce-1",
		RegisteredClaims:    NewRegisteredClaims(time.Now(), 5*time.Minute),
	}
	token, err := codec.SignState(claims)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")), "compact three-part token")

	got, err := codec.VerifyState(token)
	require.NoError(t, err)
	assert.Equal(t, claims.ClientID, got.ClientID)
	assert.Equal(t, claims.RedirectURI, got.RedirectURI)
	assert.Equal(t, claims.CodeChallenge, got.CodeChallenge)
	assert.Equal(t, claims.ClientState, got.ClientState)
	assert.Equal(t, claims.Nonce, got.Nonce)
}

func TestAccessRoundTrip(t *testing.T) {
	t.Parallel()
	codec := newCodec(t, 'a')

	registered := NewRegisteredClaims(time.Now(), time.Hour)
	registered.Subject = "github|42"
	registered.Issuer = "https://auth.example.com"
	token, err := codec.SignAccess(&AccessClaims{
		Scope:            "ace",
		Email:            "dev@example.com",
		RegisteredClaims: registered,
	})
	require.NoError(t, err)

	got, err := codec.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "github|42", got.Subject)
	assert.Equal(t, "ace", got.Scope)
	assert.Equal(t, "dev@example.com", got.Email)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	signer := newCodec(t, 'a')
	other := newCodec(t, 'b')

	token, err := signer.SignState(&StateClaims{
		ClientID:         "client-1",
		RegisteredClaims: NewRegisteredClaims(time.Now(), time.Minute),
	})
	require.NoError(t, err)

	_, err = other.VerifyState(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	t.Parallel()
	codec := newCodec(t, 'a')

	token, err := codec.SignState(&StateClaims{
		ClientID:         "client-1",
		RegisteredClaims: NewRegisteredClaims(time.Now(), time.Minute),
	})
	require.NoError(t, err)

	// Flip the last signature character.
	last := token[len(token)-1]
	flipped := byte('A')
	if last == 'A' {
		flipped = 'B'
	}
	tampered := token[:len(token)-1] + string(flipped)

	_, err = codec.VerifyState(tampered)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()
	codec := newCodec(t, 'a')

	token, err := codec.SignState(&StateClaims{
		ClientID:         "client-1",
		RegisteredClaims: NewRegisteredClaims(time.Now().Add(-time.Hour), time.Minute),
	})
	require.NoError(t, err)

	_, err = codec.VerifyState(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	t.Parallel()
	codec := newCodec(t, 'a')

	for _, token := range []string{
		"",
		"only-one-part",
		"two.parts",
		"a.b.c.d",
		"!!!.###.$$$",
	} {
		_, err := codec.VerifyState(token)
		assert.ErrorIs(t, err, ErrMalformed, "token %q", token)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	t.Parallel()
	codec := newCodec(t, 'a')

	// alg=none style token: header and payload without a real signature.
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJjbGllbnRfaWQiOiJ4In0."
	_, err := codec.VerifyState(unsigned)
	assert.Error(t, err)
}
