// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate decides what a protected view shows for a given session state.
package gate

import "sync"

// =============================================================================
// DECISION
// =============================================================================

// Decision is the stateless outcome for one (isAuthenticated, loading) pair.
type Decision int

const (
	// Wait renders a loading indicator and does nothing else.
	Wait Decision = iota
	// Render shows the protected content.
	Render
	// Revalidate asks for the stored credential to be confirmed.
	Revalidate
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Revalidate:
		return "revalidate"
	default:
		return "unknown"
	}
}

// Decide is the pure gating function.
func Decide(isAuthenticated, loading bool) Decision {
	switch {
	case loading:
		return Wait
	case isAuthenticated:
		return Render
	default:
		return Revalidate
	}
}

// =============================================================================
// PER-MOUNT GATE
// =============================================================================

// Action is what a mounted view should do after an evaluation.
type Action int

const (
	// ActionWait shows the loading indicator.
	ActionWait Action = iota
	// ActionRender shows the protected content.
	ActionRender
	// ActionRevalidate starts a re-validation. Returned at most once per mount.
	ActionRevalidate
	// ActionRedirect sends the user to the sign-in route.
	ActionRedirect
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionRender:
		return "render"
	case ActionRevalidate:
		return "revalidate"
	case ActionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Input is the slice of session state the gate reads.
type Input struct {
	IsAuthenticated bool
	Loading         bool
	// Version is the session state version; it increases on every transition.
	Version uint64
}

// Gate tracks one mount of a protected view. Evaluating the same input any
// number of times yields the same action and never triggers a second
// re-validation; only Reset (a remount) re-arms it.
type Gate struct {
	mu        sync.Mutex
	triggered bool
	// at is the state version observed when re-validation was triggered.
	at uint64
}

// New returns a gate for a fresh mount.
func New() *Gate {
	return &Gate{}
}

// Evaluate returns the action for in.
//
// The first unauthenticated, idle evaluation returns ActionRevalidate and
// records in.Version. Until the session version moves past it the gate
// returns ActionWait, because the re-validation it asked for has not
// resolved yet. Once it has moved and the session is still not
// authenticated, the gate returns ActionRedirect.
func (g *Gate) Evaluate(in Input) Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch Decide(in.IsAuthenticated, in.Loading) {
	case Wait:
		return ActionWait
	case Render:
		return ActionRender
	}

	if !g.triggered {
		g.triggered = true
		g.at = in.Version
		return ActionRevalidate
	}
	if in.Version <= g.at {
		return ActionWait
	}
	return ActionRedirect
}

// Triggered reports whether this mount has already asked for re-validation.
func (g *Gate) Triggered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.triggered
}

// Reset re-arms the gate for a new mount.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggered = false
	g.at = 0
}
