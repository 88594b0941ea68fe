// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes. Every record type gets its own namespace so keys
// can never collide even when codes and token digests share an alphabet.
const (
	redisKeyPrefixClient       = "ace:client:"
	redisKeyPrefixAuthCode     = "ace:authcode:"
	redisKeyPrefixRefreshToken = "ace:refresh:"
	redisKeyPrefixTenant       = "ace:tenant:"
)

// RedisStore is a Store backed by Redis, for multi-replica deployments.
// Authorization codes and refresh tokens are stored with a TTL matching
// their expiry and consumed with GETDEL, so the single-use guarantee
// holds across server instances.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore and verifies connectivity.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// CreateClient stores a newly registered client. Client records have no
// expiry.
func (s *RedisStore) CreateClient(ctx context.Context, client *Client) error {
	return s.setJSON(ctx, redisKeyPrefixClient+client.ID, client, 0)
}

// GetClient returns a client by id, or ErrNotFound.
func (s *RedisStore) GetClient(ctx context.Context, id string) (*Client, error) {
	var client Client
	if err := s.getJSON(ctx, redisKeyPrefixClient+id, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// StoreAuthorizationCode stores a code record with a TTL matching its
// expiry, so Redis evicts stale codes without a sweeper.
func (s *RedisStore) StoreAuthorizationCode(ctx context.Context, code string, rec *AuthorizationCode) error {
	return s.setJSON(ctx, redisKeyPrefixAuthCode+code, rec, time.Until(rec.ExpiresAt))
}

// ConsumeAuthorizationCode atomically fetches and deletes a code via
// GETDEL. Concurrent redemptions across replicas see exactly one success.
func (s *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var rec AuthorizationCode
	if err := s.getDelJSON(ctx, redisKeyPrefixAuthCode+code, &rec); err != nil {
		return nil, err
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// StoreRefreshToken stores a refresh token record keyed by digest, with a
// TTL matching its expiry.
func (s *RedisStore) StoreRefreshToken(ctx context.Context, tokenHash string, rec *RefreshToken) error {
	return s.setJSON(ctx, redisKeyPrefixRefreshToken+tokenHash, rec, time.Until(rec.ExpiresAt))
}

// ConsumeRefreshToken atomically fetches and deletes a refresh token
// record by digest via GETDEL.
func (s *RedisStore) ConsumeRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var rec RefreshToken
	if err := s.getDelJSON(ctx, redisKeyPrefixRefreshToken+tokenHash, &rec); err != nil {
		return nil, err
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// UpsertTenant inserts the tenant if absent (SETNX) and returns the
// current row, so a returning identity keeps its original record even
// when two logins race.
func (s *RedisStore) UpsertTenant(ctx context.Context, tenant *Tenant) (*Tenant, error) {
	key := redisKeyPrefixTenant + tenant.ID
	data, err := json.Marshal(tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tenant: %w", err)
	}
	if err := s.client.SetNX(ctx, key, data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to upsert tenant: %w", err)
	}
	var current Tenant
	if err := s.getJSON(ctx, key, &current); err != nil {
		return nil, err
	}
	return &current, nil
}

// GetTenant returns a tenant by id, or ErrNotFound.
func (s *RedisStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var tenant Tenant
	if err := s.getJSON(ctx, redisKeyPrefixTenant+id, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store record at %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to fetch record at %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record at %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getDelJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to consume record at %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record at %s: %w", key, err)
	}
	return nil
}
