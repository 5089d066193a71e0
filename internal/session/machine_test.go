// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
)

var testUser = &api.User{ID: 1, Email: "a@b.com"}

func newMachine(t *testing.T, token string) (*Machine, *credstore.MemoryStore) {
	t.Helper()
	store := credstore.NewMemoryStore(token)
	return NewMachine(context.Background(), store, nil), store
}

// =============================================================================
// INITIAL STATE
// =============================================================================

func TestNewMachine(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus Status
		wantLoad   bool
	}{
		{"empty store", "", StatusUnauthenticated, false},
		{"stored credential", "T1", StatusRevalidating, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMachine(t, tt.token)
			st := m.State()
			checkInvariants(t, st)

			if st.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", st.Status, tt.wantStatus)
			}
			if st.Loading != tt.wantLoad {
				t.Errorf("Loading = %v, want %v", st.Loading, tt.wantLoad)
			}
			if st.IsAuthenticated {
				t.Error("IsAuthenticated must start false")
			}
			if st.Credential != tt.token {
				t.Errorf("Credential = %q, want %q", st.Credential, tt.token)
			}
		})
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestMachine_SignInFlow(t *testing.T) {
	m, store := newMachine(t, "")
	ctx := context.Background()

	require.NoError(t, m.BeginSignIn("op1"))
	st := m.State()
	assert.Equal(t, StatusAuthenticating, st.Status)
	assert.True(t, st.Loading)

	require.NoError(t, m.SignInSucceeded(ctx, "op1", testUser, "T1"))
	st = m.State()
	checkInvariants(t, st)
	assert.Equal(t, StatusAuthenticated, st.Status)
	token, _ := store.Get(ctx)
	assert.Equal(t, "T1", token, "credential persisted in the same transition")
}

// readOnlyStore is a store whose writes always fail.
type readOnlyStore struct {
	*credstore.MemoryStore
}

var errReadOnly = errors.New("store is read-only")

func (readOnlyStore) Set(context.Context, string) error { return errReadOnly }

func TestMachine_SignInWithUnwritableStore(t *testing.T) {
	store := readOnlyStore{credstore.NewMemoryStore("")}
	m := NewMachine(context.Background(), store, nil)
	ctx := context.Background()

	require.NoError(t, m.BeginSignIn("op1"))
	err := m.SignInSucceeded(ctx, "op1", testUser, "T1")
	assert.ErrorIs(t, err, ErrCredentialNotSaved)
	assert.ErrorIs(t, err, errReadOnly)

	st := m.State()
	checkInvariants(t, st)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, MsgStorage, st.Error)
	assert.Empty(t, st.Credential, "credential mirrors the store")
	assert.Nil(t, st.User)
	_, ok := store.Get(ctx)
	assert.False(t, ok)

	// The operation is resolved; a new sign-in may start.
	assert.NoError(t, m.BeginSignIn("op2"))
}

func TestMachine_SignInFailureDefaultsMessage(t *testing.T) {
	m, _ := newMachine(t, "")
	require.NoError(t, m.BeginSignIn("op1"))
	require.NoError(t, m.SignInFailed("op1", ""))

	st := m.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, MsgSignInFailed, st.Error)
}

func TestMachine_BeginRejectedWhileInFlight(t *testing.T) {
	m, _ := newMachine(t, "T1")
	ctx := context.Background()

	require.NoError(t, m.BeginSignIn("op1"))
	before := m.State()

	err := m.BeginSignIn("op2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.BeginRevalidate(ctx, "op3")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, before, m.State(), "rejected events leave state unchanged")
}

func TestMachine_ResolutionMustMatchOperation(t *testing.T) {
	m, _ := newMachine(t, "T1")
	ctx := context.Background()

	_, err := m.BeginRevalidate(ctx, "op1")
	require.NoError(t, err)

	assert.ErrorIs(t, m.RevalidateSucceeded("other", testUser), ErrStaleOperation)
	assert.ErrorIs(t, m.SignInSucceeded(ctx, "op1", testUser, "X"), ErrStaleOperation,
		"a sign-in resolution cannot resolve a re-validation")
	assert.Equal(t, StatusRevalidating, m.State().Status)

	require.NoError(t, m.RevalidateSucceeded("op1", testUser))
	assert.ErrorIs(t, m.RevalidateSucceeded("op1", testUser), ErrStaleOperation, "resolves once")
}

func TestMachine_RevalidateFailureClearsStore(t *testing.T) {
	m, store := newMachine(t, "T1")
	ctx := context.Background()

	_, err := m.BeginRevalidate(ctx, "op1")
	require.NoError(t, err)
	require.NoError(t, m.RevalidateFailed(ctx, "op1"))

	st := m.State()
	assert.Equal(t, StatusUnauthenticated, st.Status)
	assert.Empty(t, st.Credential)
	_, ok := store.Get(ctx)
	assert.False(t, ok)
}

func TestMachine_UnauthorizedSupersedes(t *testing.T) {
	for _, begin := range []string{"signIn", "revalidate"} {
		t.Run(begin, func(t *testing.T) {
			m, store := newMachine(t, "T1")
			ctx := context.Background()

			if begin == "signIn" {
				require.NoError(t, m.BeginSignIn("op1"))
			} else {
				_, err := m.BeginRevalidate(ctx, "op1")
				require.NoError(t, err)
			}

			m.Unauthorized(ctx)
			st := m.State()
			checkInvariants(t, st)
			assert.Equal(t, StatusUnauthenticated, st.Status)
			_, ok := store.Get(ctx)
			assert.False(t, ok)

			// The late resolution is dropped and state is untouched.
			var err error
			if begin == "signIn" {
				err = m.SignInSucceeded(ctx, "op1", testUser, "T9")
			} else {
				err = m.RevalidateSucceeded("op1", testUser)
			}
			assert.ErrorIs(t, err, ErrStaleOperation)
			assert.Equal(t, st, m.State())
			_, ok = store.Get(ctx)
			assert.False(t, ok, "a dropped sign-in must not persist its credential")

			// A new operation may start.
			assert.NoError(t, m.BeginSignIn("op2"))
		})
	}
}

func TestMachine_VersionBumpsOnEveryAcceptedTransition(t *testing.T) {
	m, _ := newMachine(t, "")
	ctx := context.Background()

	v0 := m.State().Version
	m.SignedOut(ctx)
	v1 := m.State().Version
	m.SignedOut(ctx)
	v2 := m.State().Version

	assert.Greater(t, v1, v0)
	assert.Greater(t, v2, v1, "self-loops count")

	_ = m.BeginSignIn("op1")
	_ = m.BeginSignIn("op2") // rejected
	assert.Equal(t, v2+1, m.State().Version)
}

func TestMachine_ClearError(t *testing.T) {
	m, _ := newMachine(t, "")
	require.NoError(t, m.BeginSignIn("op1"))
	require.NoError(t, m.SignInFailed("op1", "Credenciales inválidas"))

	m.ClearError()
	st := m.State()
	assert.Equal(t, StatusUnauthenticated, st.Status)
	assert.Empty(t, st.Error)

	v := st.Version
	m.ClearError()
	assert.Equal(t, v, m.State().Version, "nothing to clear is a no-op")
}

// =============================================================================
// EXTERNAL CREDENTIAL CLEAR
// =============================================================================

func TestMachine_CredentialCleared(t *testing.T) {
	ctx := context.Background()

	t.Run("applied when store emptied externally", func(t *testing.T) {
		m, store := newMachine(t, "")
		require.NoError(t, m.BeginSignIn("op1"))
		require.NoError(t, m.SignInSucceeded(ctx, "op1", testUser, "T1"))

		require.NoError(t, store.Clear(ctx))
		assert.True(t, m.CredentialCleared(ctx))
		assert.Equal(t, StatusUnauthenticated, m.State().Status)
	})

	t.Run("ignored while store still holds a credential", func(t *testing.T) {
		m, _ := newMachine(t, "")
		require.NoError(t, m.BeginSignIn("op1"))
		require.NoError(t, m.SignInSucceeded(ctx, "op1", testUser, "T1"))

		assert.False(t, m.CredentialCleared(ctx))
		assert.Equal(t, StatusAuthenticated, m.State().Status)
	})

	t.Run("ignored when machine holds no credential", func(t *testing.T) {
		m, _ := newMachine(t, "")
		v := m.State().Version
		assert.False(t, m.CredentialCleared(ctx))
		assert.Equal(t, v, m.State().Version)
	})
}

// =============================================================================
// OBSERVERS AND BUS
// =============================================================================

func TestMachine_Subscribe(t *testing.T) {
	m, _ := newMachine(t, "")
	ctx := context.Background()

	var seen []State
	unsub := m.Subscribe(func(s State) {
		// Observers run outside the lock and may read state.
		_ = m.State()
		seen = append(seen, s)
	})

	require.NoError(t, m.BeginSignIn("op1"))
	require.NoError(t, m.SignInSucceeded(ctx, "op1", testUser, "T1"))
	unsub()
	unsub()
	m.SignedOut(ctx)

	require.Len(t, seen, 2)
	assert.Equal(t, StatusAuthenticating, seen[0].Status)
	assert.Equal(t, StatusAuthenticated, seen[1].Status)
	assert.Less(t, seen[0].Version, seen[1].Version)
}

func TestMachine_SnapshotIsImmutable(t *testing.T) {
	m, _ := newMachine(t, "")
	ctx := context.Background()
	require.NoError(t, m.BeginSignIn("op1"))
	require.NoError(t, m.SignInSucceeded(ctx, "op1", testUser, "T1"))

	st := m.State()
	st.User.Email = "mutated"
	assert.Equal(t, "a@b.com", m.State().User.Email)
}

func TestMachine_Attach(t *testing.T) {
	m, store := newMachine(t, "T1")
	bus := events.NewBus()
	detach := m.Attach(bus)
	ctx := context.Background()

	bus.Publish(events.Unauthorized{Method: "GET", Path: "/api/auth/me"})
	assert.Equal(t, StatusUnauthenticated, m.State().Status)
	_, ok := store.Get(ctx)
	assert.False(t, ok)

	detach()
	require.NoError(t, m.BeginSignIn("op1"))
	bus.Publish(events.Unauthorized{})
	assert.Equal(t, StatusAuthenticating, m.State().Status, "detached machine ignores the bus")
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusUnauthenticated, "unauthenticated"},
		{StatusAuthenticating, "authenticating"},
		{StatusAuthenticated, "authenticated"},
		{StatusRevalidating, "revalidating"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestErrors_AreDistinct(t *testing.T) {
	all := []error{ErrInvalidCredentials, ErrNetwork, ErrSessionExpired, ErrNoCredential,
		ErrInvalidTransition, ErrStaleOperation, ErrCredentialNotSaved}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}
