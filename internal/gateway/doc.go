// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway is the single outbound HTTP channel to the student-records
// service.
//
// Every request passes through Transport, which attaches the stored bearer
// credential and watches responses for HTTP 401. A 401 clears the credential
// store and publishes events.Unauthorized on the bus synchronously, so the
// session machine has already dropped to unauthenticated by the time the
// caller sees the response.
//
// # Key Types
//
//   - Client: JSON and multipart helpers over the intercepting transport
//   - Transport: the outbound/inbound interceptor pair
//   - HTTPError: a non-2xx response with the server's error text
//   - Metrics: Prometheus collectors for requests and 401s
//
// # Usage
//
//	client := gateway.New(cfg.API.BaseURL, store, bus,
//	    gateway.WithRateLimit(cfg.API.RequestsPerSecond, cfg.API.Burst),
//	    gateway.WithLogger(log))
//
//	var me api.User
//	err := client.GetJSON(ctx, "/auth/me", &me)
//	if errors.Is(err, gateway.ErrUnauthorized) {
//	    // the store is already empty
//	}
package gateway
