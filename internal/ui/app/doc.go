// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app is the terminal client: a sign-in form, a student dashboard
// and an upload view, routed by nav.Router.
//
// Protected views are guarded by a gate.Gate that is re-armed every time a
// view is mounted. A mount with no confirmed session re-validates once and,
// if that does not confirm a user, redirects to the sign-in form.
//
// Usage:
//
//	m := app.New(ctx, app.Options{Session: mgr, Data: client, Router: router})
//	defer m.Close()
//	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
package app
