// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides typed calls for the student-records service endpoints
// (auth, dashboard, upload) on top of the gateway.
package api
