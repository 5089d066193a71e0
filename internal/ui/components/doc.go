// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides reusable TUI pieces: the header, the status
// bar, a loading spinner, and width-aware text helpers.
//
// # Key Types
//
//   - Header: title bar with the signed-in user
//   - StatusBar: key hints and transient messages
//   - Spinner: ASCII loading indicator with elapsed time
package components
