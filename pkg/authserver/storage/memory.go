// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-instance
// deployments. All state is lost on restart and nothing is shared across
// processes, so it must not back a multi-replica deployment.
type MemoryStore struct {
	mu            sync.Mutex
	clients       map[string]*Client
	authCodes     map[string]*AuthorizationCode
	refreshTokens map[string]*RefreshToken
	tenants       map[string]*Tenant
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:       make(map[string]*Client),
		authCodes:     make(map[string]*AuthorizationCode),
		refreshTokens: make(map[string]*RefreshToken),
		tenants:       make(map[string]*Tenant),
	}
}

// CreateClient stores a newly registered client.
func (s *MemoryStore) CreateClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.clients[client.ID] = &cp
	return nil
}

// GetClient returns a client by id, or ErrNotFound.
func (s *MemoryStore) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *client
	return &cp, nil
}

// StoreAuthorizationCode stores a code record until its expiry.
func (s *MemoryStore) StoreAuthorizationCode(_ context.Context, code string, rec *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.authCodes[code] = &cp
	return nil
}

// ConsumeAuthorizationCode atomically fetches and deletes a code. The
// fetch and delete happen under one lock hold, so concurrent redemptions
// of the same code see exactly one success.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.authCodes[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.authCodes, code)
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// StoreRefreshToken stores a refresh token record keyed by digest.
func (s *MemoryStore) StoreRefreshToken(_ context.Context, tokenHash string, rec *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.refreshTokens[tokenHash] = &cp
	return nil
}

// ConsumeRefreshToken atomically fetches and deletes a refresh token
// record by digest.
func (s *MemoryStore) ConsumeRefreshToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.refreshTokens, tokenHash)
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// UpsertTenant inserts the tenant if absent and returns the current row.
func (s *MemoryStore) UpsertTenant(_ context.Context, tenant *Tenant) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tenants[tenant.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	out := cp
	return &out, nil
}

// GetTenant returns a tenant by id, or ErrNotFound.
func (s *MemoryStore) GetTenant(_ context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error {
	return nil
}
