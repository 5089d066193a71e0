// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// Machine is the single source of truth for the session. It is constructed
// explicitly and injected into its consumers.
//
// The machine owns the credential store: every transition that changes the
// credential writes or clears the store inside the same critical section, so
// the two never disagree outside a transition.
//
// Resolution events carry the id of the operation that started them and are
// accepted only while that operation is still in flight. Sign-out, the
// unauthorized signal and an external credential clear supersede the
// in-flight operation; its late resolution then fails with ErrStaleOperation.
type Machine struct {
	mu    sync.Mutex
	store credstore.Store
	log   *slog.Logger

	status     Status
	user       *api.User
	credential string
	errMsg     string
	version    uint64

	// inflight is the id of the operation that owns a loading state.
	inflight string

	observers map[int]func(State)
	nextObs   int
}

// NewMachine creates a machine hydrated from store. A stored credential
// yields StatusRevalidating with no owning operation: protected content stays
// hidden until the credential is confirmed (see Manager.Bootstrap).
func NewMachine(ctx context.Context, store credstore.Store, log *slog.Logger) *Machine {
	m := &Machine{
		store:     store,
		log:       logging.OrDiscard(log).With("component", "session"),
		status:    StatusUnauthenticated,
		observers: make(map[int]func(State)),
	}
	if token, ok := store.Get(ctx); ok {
		m.status = StatusRevalidating
		m.credential = token
	}
	return m
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() State {
	var user *api.User
	if m.user != nil {
		u := *m.user
		user = &u
	}
	return State{
		Status:          m.status,
		User:            user,
		Credential:      m.credential,
		IsAuthenticated: m.status == StatusAuthenticated,
		Loading:         m.status.Loading(),
		Error:           m.errMsg,
		Version:         m.version,
	}
}

// =============================================================================
// OBSERVERS
// =============================================================================

// Subscribe registers fn to receive every snapshot after an accepted
// transition. fn is called outside the machine lock, in the goroutine that
// caused the transition; snapshots from concurrent transitions may arrive out
// of order, so compare Version.
func (m *Machine) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// commitLocked bumps the version and collects what to notify. Callers must
// hold m.mu and call notify after unlocking.
func (m *Machine) commitLocked(event string) (State, []func(State)) {
	m.version++
	snap := m.snapshotLocked()
	fns := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.log.Debug("transition", "event", event, "status", snap.Status.String(), "version", snap.Version)
	return snap, fns
}

func notify(snap State, fns []func(State)) {
	for _, fn := range fns {
		fn(snap)
	}
}

// =============================================================================
// SIGN-IN EVENTS
// =============================================================================

// BeginSignIn applies signIn.start: the machine enters Authenticating and
// clears the error. Rejected while another operation is in flight.
func (m *Machine) BeginSignIn(opID string) error {
	m.mu.Lock()
	if m.inflight != "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: signIn.start while %s", ErrInvalidTransition, m.status)
	}
	m.inflight = opID
	m.status = StatusAuthenticating
	m.errMsg = ""
	snap, fns := m.commitLocked("signIn.start")
	m.mu.Unlock()

	notify(snap, fns)
	return nil
}

// SignInSucceeded applies signIn.success and persists the credential. When
// the store refuses the token the sign-in resolves to Error with MsgStorage,
// no credential is kept, and the result wraps ErrCredentialNotSaved.
func (m *Machine) SignInSucceeded(ctx context.Context, opID string, user *api.User, credential string) error {
	m.mu.Lock()
	if err := m.ownsLocked(opID, StatusAuthenticating, "signIn.success"); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.store.Set(ctx, credential); err != nil {
		if cerr := m.store.Clear(ctx); cerr != nil {
			m.log.Warn("failed to clear credential", "event", "signIn.success", "error", cerr)
		}
		m.user = nil
		m.credential = ""
		m.status = StatusError
		m.errMsg = MsgStorage
		m.inflight = ""
		snap, fns := m.commitLocked("signIn.success(store failed)")
		m.mu.Unlock()

		notify(snap, fns)
		return fmt.Errorf("%w: %w", ErrCredentialNotSaved, err)
	}
	u := *user
	m.user = &u
	m.credential = credential
	m.status = StatusAuthenticated
	m.errMsg = ""
	m.inflight = ""
	snap, fns := m.commitLocked("signIn.success")
	m.mu.Unlock()

	notify(snap, fns)
	return nil
}

// SignInFailed applies signIn.failure. The store is left as it was.
func (m *Machine) SignInFailed(opID, message string) error {
	m.mu.Lock()
	if err := m.ownsLocked(opID, StatusAuthenticating, "signIn.failure"); err != nil {
		m.mu.Unlock()
		return err
	}
	if message == "" {
		message = MsgSignInFailed
	}
	m.status = StatusError
	m.errMsg = message
	m.user = nil
	m.inflight = ""
	snap, fns := m.commitLocked("signIn.failure")
	m.mu.Unlock()

	notify(snap, fns)
	return nil
}

// =============================================================================
// RE-VALIDATION EVENTS
// =============================================================================

// BeginRevalidate applies revalidate.start. It reads the store inside the
// transition: with nothing stored the machine resolves straight to
// Unauthenticated and returns ErrNoCredential, and the caller must not touch
// the network. Otherwise it enters Revalidating and returns the credential.
func (m *Machine) BeginRevalidate(ctx context.Context, opID string) (string, error) {
	m.mu.Lock()
	if m.inflight != "" {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: revalidate.start while %s", ErrInvalidTransition, m.status)
	}

	token, ok := m.store.Get(ctx)
	m.errMsg = ""
	if !ok {
		m.user = nil
		m.credential = ""
		m.status = StatusUnauthenticated
		snap, fns := m.commitLocked("revalidate.start(no credential)")
		m.mu.Unlock()

		notify(snap, fns)
		return "", ErrNoCredential
	}

	m.credential = token
	m.status = StatusRevalidating
	m.inflight = opID
	snap, fns := m.commitLocked("revalidate.start")
	m.mu.Unlock()

	notify(snap, fns)
	return token, nil
}

// RevalidateSucceeded applies revalidate.success. The credential is untouched.
func (m *Machine) RevalidateSucceeded(opID string, user *api.User) error {
	m.mu.Lock()
	if err := m.ownsLocked(opID, StatusRevalidating, "revalidate.success"); err != nil {
		m.mu.Unlock()
		return err
	}
	u := *user
	m.user = &u
	m.status = StatusAuthenticated
	m.inflight = ""
	snap, fns := m.commitLocked("revalidate.success")
	m.mu.Unlock()

	notify(snap, fns)
	return nil
}

// RevalidateFailed applies revalidate.failure: back to the baseline with the
// credential and store cleared.
func (m *Machine) RevalidateFailed(ctx context.Context, opID string) error {
	m.mu.Lock()
	if err := m.ownsLocked(opID, StatusRevalidating, "revalidate.failure"); err != nil {
		m.mu.Unlock()
		return err
	}
	snap, fns := m.resetLocked(ctx, "revalidate.failure")
	m.mu.Unlock()

	notify(snap, fns)
	return nil
}

// =============================================================================
// SUPERSEDING EVENTS
// =============================================================================

// SignedOut applies signOut.success. Always accepted; idempotent in effect.
func (m *Machine) SignedOut(ctx context.Context) {
	m.mu.Lock()
	snap, fns := m.resetLocked(ctx, "signOut.success")
	m.mu.Unlock()

	notify(snap, fns)
}

// Unauthorized applies the gateway's unauthorized signal from any state.
func (m *Machine) Unauthorized(ctx context.Context) {
	m.mu.Lock()
	snap, fns := m.resetLocked(ctx, "unauthorized")
	m.mu.Unlock()

	notify(snap, fns)
}

// CredentialCleared applies credential.cleared: another process removed the
// stored credential. It is accepted only if this machine still holds a
// credential and the store really is empty now, which filters out the
// machine's own writes echoing back through a file watcher. Reports whether
// the event was applied.
func (m *Machine) CredentialCleared(ctx context.Context) bool {
	m.mu.Lock()
	if m.credential == "" {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.store.Get(ctx); ok {
		m.mu.Unlock()
		return false
	}
	snap, fns := m.resetLocked(ctx, "credential.cleared")
	m.mu.Unlock()

	notify(snap, fns)
	return true
}

// ClearError applies clearError. Error becomes Unauthenticated. A no-op when
// there is nothing to clear.
func (m *Machine) ClearError() {
	m.mu.Lock()
	if m.errMsg == "" && m.status != StatusError {
		m.mu.Unlock()
		return
	}
	m.errMsg = ""
	if m.status == StatusError {
		m.status = StatusUnauthenticated
	}
	snap, fns := m.commitLocked("clearError")
	m.mu.Unlock()

	notify(snap, fns)
}

// resetLocked returns the machine to the unauthenticated baseline, clears the
// store, and supersedes any in-flight operation.
func (m *Machine) resetLocked(ctx context.Context, event string) (State, []func(State)) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to clear credential", "event", event, "error", err)
	}
	if m.inflight != "" {
		m.log.Debug("operation superseded", "op_id", m.inflight, "event", event)
	}
	m.user = nil
	m.credential = ""
	m.errMsg = ""
	m.status = StatusUnauthenticated
	m.inflight = ""
	return m.commitLocked(event)
}

// ownsLocked checks that opID is the in-flight operation in the expected state.
func (m *Machine) ownsLocked(opID string, want Status, event string) error {
	if opID == "" || m.inflight != opID || m.status != want {
		return fmt.Errorf("%w: %s for %s", ErrStaleOperation, event, opID)
	}
	return nil
}

// =============================================================================
// BUS INTEGRATION
// =============================================================================

// Attach subscribes the machine to the bus signals it must observe:
// events.Unauthorized and events.CredentialCleared.
func (m *Machine) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(func(e events.Event) {
		ctx := context.Background()
		switch e.(type) {
		case events.Unauthorized:
			m.Unauthorized(ctx)
		case events.CredentialCleared:
			if m.CredentialCleared(ctx) {
				m.log.Info("credential removed by another process")
			}
		}
	})
}
