// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements authstub, a local stand-in for the remote
// authentication and student service that sessiongate talks to.
//
// # Endpoints
//
//   - POST /api/auth/login          - exchange email/password for a bearer token
//   - POST /api/auth/register       - create a user
//   - GET  /api/auth/me             - the token's user
//   - GET  /api/dashboard/statistics
//   - GET  /api/dashboard/students
//   - POST /api/students/upload     - multipart CSV import
//   - GET  /health, GET /metrics
//
// Every protected route answers 401 with {"error": ...} when the bearer
// token is missing, unknown or expired.
//
// # Key Types
//
//   - Server: chi router plus the middleware chain
//   - Store: SQLite-backed users (bcrypt hashes) and students
//   - TokenStore: opaque random tokens with a TTL
//   - RowValidator: upload row validation
//
// # Usage
//
//	store, _ := server.OpenStore(server.StoreConfig{}, log)
//	store.EnsureUser(ctx, "admin@test.com", "admin123")
//	srv := server.New(server.Config{}, store, server.NewTokenStore(0), nil, log)
//	go srv.Start()
package server
