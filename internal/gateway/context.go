// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import "context"

type anonymousKey struct{}

// Anonymous marks a request as a credential exchange. The transport attaches
// no bearer token to it, and a 401 response is returned to the caller as a
// rejected login instead of raising the unauthorized signal.
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

// IsAnonymous reports whether ctx was marked with Anonymous.
func IsAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}
