// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string // file backend
	SQLitePath  string // sqlite backend
	RedisURL    string // redis backend
	RedisPrefix string // redis backend
}

// Open builds the backend named in opts.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Backend, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		path := opts.Path
		if path == "" {
			path = DefaultPath()
		}
		return NewFileStore(path, log), nil
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath, log)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisPrefix, log)
	case BackendMemory:
		return NewMemoryStore(""), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, opts.Backend)
	}
}
