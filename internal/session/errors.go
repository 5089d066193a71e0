// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

// Error variables for session operations.
var (
	// ErrInvalidCredentials indicates the service rejected the sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNetwork indicates the request could not complete.
	ErrNetwork = errors.New("network error")

	// ErrSessionExpired indicates the stored credential was rejected (HTTP 401).
	ErrSessionExpired = errors.New("session expired")

	// ErrNoCredential indicates re-validation was attempted with nothing stored.
	ErrNoCredential = errors.New("no credential")

	// ErrInvalidTransition indicates an event the current state does not accept.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStaleOperation indicates a resolution for an operation that has been
	// superseded by sign-out, an unauthorized signal, or an external clear.
	ErrStaleOperation = errors.New("stale operation")

	// ErrCredentialNotSaved indicates the service accepted the sign-in but the
	// credential store refused the token.
	ErrCredentialNotSaved = errors.New("credential not saved")
)

// Messages shown in State.Error when the service gives no text.
const (
	MsgSignInFailed = "Sign-in failed"
	MsgNetwork      = "Could not reach the server"
	MsgStorage      = "Could not save the session credential"
)
