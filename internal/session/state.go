// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/jeranaias/sessiongate/internal/api"

// =============================================================================
// STATUS
// =============================================================================

// Status is the machine's current state.
type Status int

const (
	// StatusUnauthenticated is the baseline: no user, not loading.
	StatusUnauthenticated Status = iota
	// StatusAuthenticating means a sign-in is in flight.
	StatusAuthenticating
	// StatusAuthenticated means the credential has been accepted.
	StatusAuthenticated
	// StatusRevalidating means a stored credential is being confirmed.
	StatusRevalidating
	// StatusError is a failed sign-in; gates treat it as unauthenticated.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusRevalidating:
		return "revalidating"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets Status render by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Loading reports whether an operation owns the state.
func (s Status) Loading() bool {
	return s == StatusAuthenticating || s == StatusRevalidating
}

// =============================================================================
// STATE SNAPSHOT
// =============================================================================

// State is an immutable snapshot of the session.
//
// IsAuthenticated implies User != nil. Loading is true exactly while Status is
// Authenticating or Revalidating. Version increases on every accepted
// transition, so consumers can tell a fresh snapshot from a stale one.
type State struct {
	Status          Status    `json:"status"`
	User            *api.User `json:"user,omitempty"`
	Credential      string    `json:"-"`
	IsAuthenticated bool      `json:"is_authenticated"`
	Loading         bool      `json:"loading"`
	Error           string    `json:"error,omitempty"`
	Version         uint64    `json:"version"`
}

// HasCredential reports whether the session holds a credential.
func (s State) HasCredential() bool {
	return s.Credential != ""
}
