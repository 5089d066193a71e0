// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// Configuration constants for the gateway.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the default maximum response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultUserAgent identifies the client to the service.
	DefaultUserAgent = "sessiongate"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client is the single outbound channel to the remote service. All requests
// go through Transport, so every call site gets credential injection and
// expiry detection.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxResponse int64
	log         *slog.Logger
}

type options struct {
	timeout     time.Duration
	base        http.RoundTripper
	limiter     *rate.Limiter
	userAgent   string
	maxResponse int64
	registerer  prometheus.Registerer
	log         *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBaseTransport sets the RoundTripper the interceptors wrap.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithRateLimit throttles outbound requests. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithMaxResponseBytes caps the bytes read from any response body.
func WithMaxResponseBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResponse = n
		}
	}
}

// WithRegisterer registers the gateway metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates a Client rooted at baseURL (e.g. "http://localhost:5000/api").
// The store is read on every request and cleared on 401; bus receives the
// unauthorized signal and may be nil.
func New(baseURL string, store credstore.Store, bus *events.Bus, opts ...Option) *Client {
	o := options{
		timeout:     DefaultTimeout,
		base:        http.DefaultTransport,
		userAgent:   DefaultUserAgent,
		maxResponse: MaxResponseSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrDiscard(o.log).With("component", "gateway")

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: o.timeout,
			Transport: &Transport{
				next:      o.base,
				store:     store,
				bus:       bus,
				limiter:   o.limiter,
				userAgent: o.userAgent,
				metrics:   NewMetrics(o.registerer),
				log:       log,
			},
		},
		maxResponse: o.maxResponse,
		log:         log,
	}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient exposes the intercepting client for callers that need raw access.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// NewRequest builds a request for path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends req through the interceptors. Transport failures are wrapped in
// ErrNetwork; any HTTP response, including 401, is returned as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL.Path, unwrapURLError(err))
	}
	return resp, nil
}

// =============================================================================
// JSON HELPERS
// =============================================================================

// GetJSON performs GET path and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// PostJSON performs POST path with in encoded as JSON and decodes the 2xx
// response into out (out may be nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := c.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

// PostMultipart uploads r as a single multipart file field and decodes the
// 2xx response into out.
func (c *Client) PostMultipart(ctx context.Context, path, field, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := c.NewRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := c.readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func (c *Client) readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err)
	}
	if int64(len(body)) > c.maxResponse {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrResponseTooLarge, c.maxResponse)
	}
	return body, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// newHTTPError prefers the server's {"error": ...} text over the status text.
func newHTTPError(status int, body []byte) *HTTPError {
	msg := http.StatusText(status)
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		msg = eb.Error
	}
	return &HTTPError{Status: status, Message: msg, Body: body}
}

// unwrapURLError drops the *url.Error wrapper so messages do not repeat the
// full URL (which may carry query parameters).
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err
	}
	return err
}
