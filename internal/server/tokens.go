// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultTokenTTL matches the access-token lifetime of the production service.
const DefaultTokenTTL = 24 * time.Hour

// TokenStore issues opaque bearer tokens and resolves them to user ids.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
	ttl    time.Duration
	now    func() time.Time
}

type tokenEntry struct {
	userID  int64
	expires time.Time
}

// NewTokenStore creates a store whose tokens live for ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{
		tokens: make(map[string]tokenEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a token for userID.
func (s *TokenStore) Issue(userID int64) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.tokens[token] = tokenEntry{userID: userID, expires: s.now().Add(s.ttl)}
	return token, nil
}

// Lookup returns the user for a live token. Expired tokens are dropped.
func (s *TokenStore) Lookup(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[token]
	if !ok {
		return 0, false
	}
	if !s.now().Before(e.expires) {
		delete(s.tokens, token)
		return 0, false
	}
	return e.userID, true
}

// Revoke invalidates token. Unknown tokens are ignored.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// RevokeUser invalidates every token issued to userID and returns how many.
func (s *TokenStore) RevokeUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.tokens {
		if e.userID == userID {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}

// Len returns the number of live tokens.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.tokens)
}

func (s *TokenStore) pruneLocked() {
	now := s.now()
	for k, e := range s.tokens {
		if !now.Before(e.expires) {
			delete(s.tokens, k)
		}
	}
}
