// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// BUBBLE TEA INTEGRATION
// =============================================================================

// SignInResultMsg carries the outcome of SignInCmd.
type SignInResultMsg struct {
	Err error
}

// RevalidateResultMsg carries the outcome of RevalidateCmd.
type RevalidateResultMsg struct {
	Err error
}

// SignedOutMsg is sent once SignOutCmd has cleared the session.
type SignedOutMsg struct{}

// StateMsg delivers a session snapshot to the UI.
type StateMsg struct {
	State State
}

// SignInCmd runs SignIn off the UI goroutine.
func (m *Manager) SignInCmd(ctx context.Context, email, password string) tea.Cmd {
	return func() tea.Msg {
		return SignInResultMsg{Err: m.SignIn(ctx, email, password)}
	}
}

// RevalidateCmd runs Revalidate off the UI goroutine.
func (m *Manager) RevalidateCmd(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		return RevalidateResultMsg{Err: m.Revalidate(ctx)}
	}
}

// SignOutCmd runs SignOut off the UI goroutine.
func (m *Manager) SignOutCmd(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		m.SignOut(ctx)
		return SignedOutMsg{}
	}
}

// Watcher forwards state changes to a Bubble Tea program. It keeps only the
// newest snapshot, so a slow UI never blocks a transition.
type Watcher struct {
	ch          chan State
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

// Watch starts forwarding snapshots from the manager.
func (m *Manager) Watch() *Watcher {
	w := &Watcher{ch: make(chan State, 1), done: make(chan struct{})}
	w.unsubscribe = m.Subscribe(w.offer)
	return w
}

func (w *Watcher) offer(s State) {
	for {
		select {
		case w.ch <- s:
			return
		default:
		}
		// Drop the older pending snapshot unless it is newer than s.
		select {
		case old := <-w.ch:
			if old.Version > s.Version {
				s = old
			}
		default:
		}
	}
}

// Next returns a command that waits for the next snapshot. Re-issue it after
// every StateMsg.
func (w *Watcher) Next() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-w.ch:
			return StateMsg{State: s}
		case <-w.done:
			return nil
		}
	}
}

// Close stops forwarding. A pending Next returns nil.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.unsubscribe()
		close(w.done)
	})
}
