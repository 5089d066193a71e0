// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/gateway"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// AuthAPI is the part of the service the session operations call.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*api.LoginResponse, error)
	Me(ctx context.Context) (*api.User, error)
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager runs the session operations (sign-in, re-validate, sign-out) over a
// Machine and the service API.
//
// SignIn and Revalidate are serialized: a later call waits for the earlier
// one to resolve, or for its own context to end. SignOut never waits.
type Manager struct {
	machine *Machine
	api     AuthAPI
	ops     *semaphore.Weighted
	log     *slog.Logger
}

// NewManager creates a manager driving machine through client.
func NewManager(machine *Machine, client AuthAPI, log *slog.Logger) *Manager {
	return &Manager{
		machine: machine,
		api:     client,
		ops:     semaphore.NewWeighted(1),
		log:     logging.OrDiscard(log).With("component", "session"),
	}
}

// Machine returns the underlying state machine.
func (m *Manager) Machine() *Machine {
	return m.machine
}

// State returns the current session snapshot.
func (m *Manager) State() State {
	return m.machine.State()
}

// Subscribe registers fn for state changes. See Machine.Subscribe.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	return m.machine.Subscribe(fn)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SignIn exchanges email and password for a credential.
//
// On success the session is Authenticated and the credential persisted. On
// failure the session is in Error with a human-readable message (the
// server's text when it sent one) and the store is unchanged. The returned
// error wraps ErrInvalidCredentials or ErrNetwork, or ErrCredentialNotSaved
// when the store refused the new token.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if err := m.ops.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("sign-in not started: %w", err)
	}
	defer m.ops.Release(1)

	opID := uuid.NewString()
	log := m.log.With("op", "signIn", "op_id", opID)

	if err := m.machine.BeginSignIn(opID); err != nil {
		return err
	}
	log.Debug("started")

	resp, err := m.api.Login(ctx, email, password)
	if err != nil {
		msg, classified := classifySignIn(err)
		if rerr := m.machine.SignInFailed(opID, msg); rerr != nil {
			log.Debug("resolution dropped", "error", rerr)
		}
		log.Info("sign-in failed", "error", classified)
		return classified
	}

	if err := m.machine.SignInSucceeded(ctx, opID, resp.User, resp.AccessToken); err != nil {
		if errors.Is(err, ErrCredentialNotSaved) {
			log.Warn("sign-in not persisted", "error", err)
		} else {
			log.Info("sign-in superseded", "error", err)
		}
		return err
	}
	log.Info("signed in", "user_id", resp.User.ID)
	return nil
}

// Revalidate confirms the stored credential with the service.
//
// With nothing stored it makes no network call: the session resolves to
// Unauthenticated before Revalidate returns, and the result is
// ErrNoCredential. A 401 yields ErrSessionExpired; the gateway has already
// cleared the store and raised the unauthorized signal. Neither sets
// State.Error.
func (m *Manager) Revalidate(ctx context.Context) error {
	if err := m.ops.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("re-validation not started: %w", err)
	}
	defer m.ops.Release(1)

	opID := uuid.NewString()
	log := m.log.With("op", "revalidate", "op_id", opID)

	if _, err := m.machine.BeginRevalidate(ctx, opID); err != nil {
		if errors.Is(err, ErrNoCredential) {
			log.Debug("no credential stored")
		}
		return err
	}
	log.Debug("started")

	user, err := m.api.Me(ctx)
	if err != nil {
		classified := classifyRevalidate(err)
		if rerr := m.machine.RevalidateFailed(ctx, opID); rerr != nil {
			log.Debug("resolution dropped", "error", rerr)
		}
		log.Info("re-validation failed", "error", classified)
		return classified
	}

	if err := m.machine.RevalidateSucceeded(opID, user); err != nil {
		log.Info("re-validation superseded", "error", err)
		return err
	}
	log.Debug("credential confirmed", "user_id", user.ID)
	return nil
}

// SignOut clears the credential locally. There is no server-side step. It
// always succeeds, is idempotent, and supersedes any in-flight operation.
func (m *Manager) SignOut(ctx context.Context) {
	m.machine.SignedOut(ctx)
	m.log.Info("signed out")
}

// Bootstrap runs the re-validation a stored credential left pending at start-up.
// It is a no-op unless the machine is in Revalidating with no owner.
func (m *Manager) Bootstrap(ctx context.Context) error {
	st := m.machine.State()
	if st.Status != StatusRevalidating {
		return nil
	}
	return m.Revalidate(ctx)
}

// ClearError clears a sign-in error message.
func (m *Manager) ClearError() {
	m.machine.ClearError()
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classifySignIn maps a login failure to the State.Error message and the
// returned error. A 4xx is a rejected sign-in; anything else means the
// exchange could not complete.
func classifySignIn(err error) (string, error) {
	var herr *gateway.HTTPError
	if errors.As(err, &herr) {
		msg := herr.Message
		if msg == "" || msg == http.StatusText(herr.Status) {
			msg = MsgSignInFailed
		}
		if herr.Status >= 400 && herr.Status < 500 {
			return msg, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return msg, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if errors.Is(err, gateway.ErrNetwork) {
		return MsgNetwork, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return MsgSignInFailed, fmt.Errorf("%w: %w", ErrNetwork, err)
}

func classifyRevalidate(err error) error {
	switch {
	case gateway.StatusCode(err) == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	case errors.Is(err, gateway.ErrNetwork):
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	default:
		return fmt.Errorf("re-validation failed: %w", err)
	}
}
