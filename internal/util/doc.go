// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the sessiongate packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync and rename
//
// String Utilities:
//   - TruncateWidth, PadWidth: Column-aware truncation for table cells
//   - SingleLine: Flatten multi-line server messages
//
// # Usage
//
//	// Persist a token so a crash never leaves a half-written file
//	err := util.AtomicWriteFile(path, []byte(token), 0600, 0700)
//
//	// Fit a student name into a 24-column cell
//	cell := util.PadWidth(name, 24)
package util
