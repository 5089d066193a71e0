// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/sessiongate/internal/gateway"
)

// Error variables for service calls.
var (
	// ErrMalformedResponse indicates a 2xx body missing required fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnsupportedFile indicates an upload with an extension the service rejects.
	ErrUnsupportedFile = errors.New("unsupported file type, use .xlsx, .xls or .csv")
)

// UploadExtensions are the file types accepted by POST /students/upload.
var UploadExtensions = []string{".xlsx", ".xls", ".csv"}

// Endpoint paths relative to the API base URL.
const (
	PathLogin      = "/auth/login"
	PathMe         = "/auth/me"
	PathStatistics = "/dashboard/statistics"
	PathStudents   = "/dashboard/students"
	PathUpload     = "/students/upload"
)

// Client wraps the gateway with typed calls for each service endpoint.
type Client struct {
	gw *gateway.Client
}

// New creates a Client over gw.
func New(gw *gateway.Client) *Client {
	return &Client{gw: gw}
}

// Login exchanges email and password for a bearer token. The request is
// anonymous: no stored credential is attached and a 401 is returned as a
// *gateway.HTTPError without clearing the store.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	req := LoginRequest{Email: NormalizeEmail(email), Password: password}
	if err := c.gw.PostJSON(gateway.Anonymous(ctx), PathLogin, req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.User == nil {
		return nil, fmt.Errorf("%w: login response missing access_token or user", ErrMalformedResponse)
	}
	return &resp, nil
}

// Me returns the user that owns the current credential.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.gw.GetJSON(ctx, PathMe, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 && user.Email == "" {
		return nil, fmt.Errorf("%w: empty user", ErrMalformedResponse)
	}
	return &user, nil
}

// Statistics returns the dashboard aggregates.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	var stats Statistics
	if err := c.gw.GetJSON(ctx, PathStatistics, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Students returns every student, newest first.
func (c *Client) Students(ctx context.Context) ([]Student, error) {
	var students []Student
	if err := c.gw.GetJSON(ctx, PathStudents, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// UploadRejectedError is returned when the service refuses an upload because
// rows failed validation. Nothing was inserted.
type UploadRejectedError struct {
	ValidCount int
	Errors     []ValidationError
	cause      error
}

// Error implements the error interface.
func (e *UploadRejectedError) Error() string {
	return fmt.Sprintf("upload rejected: %d validation error(s), %d valid row(s)", len(e.Errors), e.ValidCount)
}

// Unwrap returns the underlying *gateway.HTTPError.
func (e *UploadRejectedError) Unwrap() error { return e.cause }

// UploadStudents sends a spreadsheet of students as the multipart field "file".
func (c *Client) UploadStudents(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	if !AllowedUpload(filename) {
		return nil, ErrUnsupportedFile
	}

	var result UploadResult
	err := c.gw.PostMultipart(ctx, PathUpload, "file", filepath.Base(filename), r, &result)
	if err == nil {
		return &result, nil
	}

	var herr *gateway.HTTPError
	if errors.As(err, &herr) && herr.Status == http.StatusBadRequest {
		var rej uploadRejection
		if json.Unmarshal(herr.Body, &rej) == nil && rej.Valid != nil && !*rej.Valid {
			return nil, &UploadRejectedError{ValidCount: rej.ValidCount, Errors: rej.Errors, cause: err}
		}
	}
	return nil, err
}

// AllowedUpload reports whether filename has an accepted extension.
func AllowedUpload(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range UploadExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// NormalizeEmail trims, applies Unicode NFKC and lower-cases an address so
// visually identical input maps to the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(email)))
}
