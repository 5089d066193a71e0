// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/sessiongate/internal/logging"
	"github.com/jeranaias/sessiongate/internal/util"
)

// FileStore keeps the token in a single file with owner-only permissions.
// A missing or empty file means "no credential".
type FileStore struct {
	mu   sync.RWMutex
	path string
	log  *slog.Logger
}

// NewFileStore creates a file-backed store at path. The file is not touched
// until the first Set.
func NewFileStore(path string, log *slog.Logger) *FileStore {
	return &FileStore{path: path, log: logging.OrDiscard(log)}
}

// DefaultPath returns ~/.sessiongate/token.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sessiongate", Key)
	}
	return filepath.Join(home, ".sessiongate", Key)
}

// Path returns the token file location.
func (f *FileStore) Path() string {
	return f.path
}

// Get implements Store.
func (f *FileStore) Get(context.Context) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return readTokenFile(f.path, f.log)
}

// Set implements Store.
// RELIABILITY: Atomic write with fsync prevents a torn token on crash
// SECURITY: 0600 file in a 0700 directory
func (f *FileStore) Set(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := util.AtomicWriteFile(f.path, []byte(token), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Clear implements Store.
func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (f *FileStore) Close() error { return nil }

// readTokenFile reads path, failing open on any error other than absence.
func readTokenFile(path string, log *slog.Logger) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("credential file unreadable, treating as signed out", "path", path, "error", err)
		}
		return "", false
	}
	token := strings.TrimSpace(string(data))
	return token, token != ""
}
