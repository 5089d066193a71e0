// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client-side session: whether the user is signed
// in, as whom, and with which credential.
//
// Machine is the state container. It is constructed once at start-up,
// hydrated from the credential store, and injected into its consumers. It
// moves between Unauthenticated, Authenticating, Authenticated, Revalidating
// and Error, and it writes the credential store in the same critical section
// that changes its own credential.
//
// Manager runs the three operations that drive the machine: SignIn,
// Revalidate and SignOut. SignIn and Revalidate are serialized; SignOut and
// the gateway's unauthorized signal supersede whatever is in flight.
//
// # Key Types
//
//   - State: immutable snapshot handed to observers and the UI
//   - Machine: transitions, observers, bus attachment
//   - Manager: operations plus Bubble Tea commands
//   - Watcher: forwards snapshots to a Bubble Tea program as StateMsg
//
// # Usage
//
//	machine := session.NewMachine(ctx, store, log)
//	detach := machine.Attach(bus)
//	defer detach()
//
//	mgr := session.NewManager(machine, api.New(gw), log)
//	if err := mgr.Bootstrap(ctx); errors.Is(err, session.ErrSessionExpired) {
//	    // stored credential was rejected; the session is unauthenticated
//	}
//
//	err := mgr.SignIn(ctx, "a@b.com", "pw")
//	switch {
//	case errors.Is(err, session.ErrInvalidCredentials):
//	    // mgr.State().Error holds the server's message
//	case errors.Is(err, session.ErrNetwork):
//	}
package session
