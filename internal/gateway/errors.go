// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Error variables for gateway failures.
var (
	// ErrNetwork indicates the request could not complete (dial, TLS, timeout,
	// cancelled context, truncated body).
	ErrNetwork = errors.New("network error")

	// ErrUnauthorized indicates the server rejected the credential (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrResponseTooLarge indicates the response body exceeded the size limit.
	ErrResponseTooLarge = errors.New("response too large")
)

// HTTPError is a non-2xx response from the remote service.
type HTTPError struct {
	Status int
	// Message is the server's {"error": ...} text, or the status text.
	Message string
	// Body is the raw (size-limited) response body for callers that decode
	// structured error payloads.
	Body []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *HTTPError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an HTTPError.
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Status
	}
	return 0
}
