// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credstore persists the bearer credential across process restarts.
//
// Every backend stores a single opaque token under the fixed key Key. Reads
// fail open: a backend that cannot be read reports "no credential" so the
// session falls back to unauthenticated instead of failing.
package credstore

import (
	"context"
	"errors"
	"io"
)

// Key is the fixed name the token is stored under.
const Key = "token"

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown credential backend")

// Store is the credential persistence contract.
//
// Set and Clear are atomic with respect to Get. Their errors are informational:
// callers log them and carry on.
type Store interface {
	// Get returns the stored token, or false when none is stored or the
	// backend is unavailable.
	Get(ctx context.Context) (string, bool)
	// Set replaces the stored token.
	Set(ctx context.Context, token string) error
	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Backend is a Store that owns resources.
type Backend interface {
	Store
	io.Closer
}
