// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
)

// =============================================================================
// INTERCEPTING TRANSPORT
// =============================================================================

// Transport is an http.RoundTripper that wraps every outbound request with the
// session interceptors:
//
//   - outbound: attach "Authorization: Bearer <token>" when the store holds a
//     credential, plus X-Request-ID and User-Agent, after waiting on the
//     optional rate limiter
//   - inbound: on 401 clear the store and publish events.Unauthorized before
//     handing the response back unchanged
//
// Requests whose context is marked with Anonymous skip both the bearer header
// and the unauthorized signal.
type Transport struct {
	next      http.RoundTripper
	store     credstore.Store
	bus       *events.Bus
	limiter   *rate.Limiter
	userAgent string
	metrics   *Metrics
	log       *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(ctx)
	if out.Header.Get("X-Request-ID") == "" {
		out.Header.Set("X-Request-ID", uuid.NewString())
	}
	if t.userAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", t.userAgent)
	}

	anonymous := IsAnonymous(ctx)
	if !anonymous {
		// A missing credential never blocks the request; the server decides.
		if token, ok := t.store.Get(ctx); ok {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// CLOUD: Secure logging - method and path only, never headers or bodies
	t.log.Debug("request", "method", out.Method, "path", out.URL.Path,
		"request_id", out.Header.Get("X-Request-ID"))

	start := time.Now()
	resp, err := t.next.RoundTrip(out)
	elapsed := time.Since(start)

	if err != nil {
		t.metrics.observe(out.Method, 0, elapsed)
		t.log.Debug("request failed", "method", out.Method, "path", out.URL.Path, "error", err)
		return nil, err
	}
	t.metrics.observe(out.Method, resp.StatusCode, elapsed)
	t.log.Debug("response", "method", out.Method, "path", out.URL.Path,
		"status", resp.StatusCode, "duration", elapsed)

	if resp.StatusCode == http.StatusUnauthorized && !anonymous {
		t.unauthorized(ctx, out)
	}
	return resp, nil
}

// unauthorized runs the inbound 401 side effects. Repeated calls leave the
// same end state: an empty store and one more signal that subscribers treat
// idempotently.
func (t *Transport) unauthorized(ctx context.Context, req *http.Request) {
	// The caller may already be cancelling; the clear must still happen.
	if err := t.store.Clear(context.WithoutCancel(ctx)); err != nil {
		t.log.Warn("failed to clear credential after 401", "error", err)
	}
	t.metrics.incUnauthorized()
	t.log.Info("credential rejected", "method", req.Method, "path", req.URL.Path)

	if t.bus != nil {
		t.bus.Publish(events.Unauthorized{Method: req.Method, Path: req.URL.Path})
	}
}
