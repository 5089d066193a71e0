// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/sessiongate/internal/logging"
)

func slogDiscard() *slog.Logger { return logging.Discard() }

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(StoreConfig{BcryptCost: bcrypt.MinCost}, nil)
	require.NoError(t, err)
	defer s.Close()

	u, err := s.CreateUser(ctx, "User@Example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", u.Email)

	_, err = s.CreateUser(ctx, "user@example.com", "another1")
	assert.ErrorIs(t, err, ErrEmailTaken)
	_, err = s.CreateUser(ctx, "short@example.com", "123")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	got, err := s.Authenticate(ctx, "user@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = s.Authenticate(ctx, "user@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	created, err := s.EnsureUser(ctx, "user@example.com", "hunter22")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.UserByID(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, 999), ErrUserNotFound)
}

func TestStore_PasswordsAreHashed(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(StoreConfig{BcryptCost: bcrypt.MinCost}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateUser(ctx, "a@b.com", "plaintext")
	require.NoError(t, err)

	var stored string
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT password FROM users").Scan(&stored))
	assert.NotEqual(t, "plaintext", stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("plaintext")))
}

func TestStore_PersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "authstub.db")

	s, err := OpenStore(StoreConfig{Path: path, BcryptCost: bcrypt.MinCost}, nil)
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenStore(StoreConfig{Path: path, BcryptCost: bcrypt.MinCost}, nil)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Authenticate(ctx, "a@b.com", "secret1")
	assert.NoError(t, err)
}

func TestStore_InsertStudentsReportsFailures(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(StoreConfig{}, nil)
	require.NoError(t, err)
	defer s.Close()

	inserted, failed := s.InsertStudents(ctx, []NewStudent{
		{Row: 2, Name: "Ana", NUE: 1, StartYear: 2020},
		{Row: 3, Name: "Ana", NUE: 2, StartYear: 2020},
	})
	assert.Equal(t, 1, inserted)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Row)

	names, nues, err := s.studentKeys(ctx)
	require.NoError(t, err)
	assert.True(t, names["Ana"])
	assert.True(t, nues[1])
	assert.False(t, nues[2])
}
