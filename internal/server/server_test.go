// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/gateway"
)

const (
	adminEmail    = "admin@test.com"
	adminPassword = "admin123"
)

type harness struct {
	srv    *Server
	store  *Store
	tokens *TokenStore
	reg    *prometheus.Registry
	ts     *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store, err := OpenStore(StoreConfig{BcryptCost: bcrypt.MinCost}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.EnsureUser(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)

	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	}
	tokens := NewTokenStore(time.Hour)
	reg := prometheus.NewRegistry()
	srv := New(cfg, store, tokens, reg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{srv: srv, store: store, tokens: tokens, reg: reg, ts: ts}
}

func (h *harness) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.ts.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) login(t *testing.T) string {
	t.Helper()
	token, err := h.tokens.Issue(1)
	require.NoError(t, err)
	return token
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestHandleLogin(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"valid", `{"email":"admin@test.com","password":"admin123"}`, http.StatusOK, ""},
		{"email normalized", `{"email":"  Admin@Test.com ","password":"admin123"}`, http.StatusOK, ""},
		{"wrong password", `{"email":"admin@test.com","password":"nope"}`, http.StatusUnauthorized, MsgInvalidCredentials},
		{"unknown user", `{"email":"who@test.com","password":"admin123"}`, http.StatusUnauthorized, MsgInvalidCredentials},
		{"missing password", `{"email":"admin@test.com"}`, http.StatusBadRequest, MsgMissingFields},
		{"invalid json", `{`, http.StatusBadRequest, MsgMissingFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, "/api/auth/login", "", strings.NewReader(tt.body), "application/json")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeError(t, resp))
				return
			}

			var lr api.LoginResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
			assert.NotEmpty(t, lr.AccessToken)
			require.NotNil(t, lr.User)
			assert.Equal(t, adminEmail, lr.User.Email)

			id, ok := h.tokens.Lookup(lr.AccessToken)
			assert.True(t, ok)
			assert.Equal(t, lr.User.ID, id)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(h.srv.metrics.logins.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.srv.metrics.logins.WithLabelValues("rejected")))
}

func TestHandleMe(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.login(t)

	resp := h.do(t, http.MethodGet, "/api/auth/me", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var u api.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	assert.Equal(t, api.User{ID: 1, Email: adminEmail}, u)

	resp = h.do(t, http.MethodGet, "/api/auth/me", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, MsgMissingToken, decodeError(t, resp))

	resp = h.do(t, http.MethodGet, "/api/auth/me", "bogus", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, MsgExpiredToken, decodeError(t, resp))
}

func TestHandleMe_DeletedUser(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.login(t)
	require.NoError(t, h.store.DeleteUser(context.Background(), 1))

	resp := h.do(t, http.MethodGet, "/api/auth/me", token, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, MsgUserNotFound, decodeError(t, resp))
}

func TestHandleRegister(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"created", `{"email":"new@test.com","password":"secret1"}`, http.StatusCreated, ""},
		{"short password", `{"email":"x@test.com","password":"123"}`, http.StatusBadRequest, MsgPasswordTooShort},
		{"duplicate", `{"email":"admin@test.com","password":"secret1"}`, http.StatusBadRequest, MsgEmailTaken},
		{"missing", `{}`, http.StatusBadRequest, MsgMissingFields},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, "/api/auth/register", "", strings.NewReader(tt.body), "application/json")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeError(t, resp))
			}
		})
	}
}

func TestTokenStore_Expiry(t *testing.T) {
	s := NewTokenStore(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, err := s.Issue(7)
	require.NoError(t, err)
	other, err := s.Issue(7)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.Len(t, token, 64)

	id, ok := s.Lookup(token)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	now = now.Add(time.Minute)
	_, ok = s.Lookup(token)
	assert.False(t, ok, "token expires at exactly its TTL")
	assert.Equal(t, 0, s.Len())
}

func TestTokenStore_Revoke(t *testing.T) {
	s := NewTokenStore(0)
	a, _ := s.Issue(1)
	b, _ := s.Issue(1)
	c, _ := s.Issue(2)

	s.Revoke(a)
	s.Revoke("unknown")
	_, ok := s.Lookup(a)
	assert.False(t, ok)

	assert.Equal(t, 1, s.RevokeUser(1))
	_, ok = s.Lookup(b)
	assert.False(t, ok)
	_, ok = s.Lookup(c)
	assert.True(t, ok)
}

// =============================================================================
// DASHBOARD TESTS
// =============================================================================

func seedStudents(t *testing.T, s *Store) {
	t.Helper()
	f := func(v float64) *float64 { return &v }
	inserted, failed := s.InsertStudents(context.Background(), []NewStudent{
		{Name: "Ana", NUE: 100, StartYear: 2020, CurrentAverage: f(9), GraduationAverage: f(9), Graduated: true},
		{Name: "Beto", NUE: 101, StartYear: 2021, CurrentAverage: f(8)},
		{Name: "Carla", NUE: 102, StartYear: 2021, CurrentAverage: f(7)},
		{Name: "Dani", NUE: 103, StartYear: 2022},
	})
	require.Empty(t, failed)
	require.Equal(t, 4, inserted)
}

func TestHandleStatistics(t *testing.T) {
	h := newHarness(t, Config{})
	seedStudents(t, h.store)

	resp := h.do(t, http.MethodGet, "/api/dashboard/statistics", h.login(t), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats api.Statistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 1, stats.Graduated)

	require.Len(t, stats.AvgByStatus, 2)
	assert.False(t, bool(stats.AvgByStatus[0].Graduated))
	assert.InDelta(t, 7.5, stats.AvgByStatus[0].Average.Float(), 1e-9)
	assert.True(t, bool(stats.AvgByStatus[1].Graduated))
	assert.InDelta(t, 9.0, stats.AvgByStatus[1].Average.Float(), 1e-9)

	assert.Equal(t, []api.YearCount{{Year: 2022, Count: 1}, {Year: 2021, Count: 2}, {Year: 2020, Count: 1}}, stats.ByYear)
}

func TestHandleStatistics_Empty(t *testing.T) {
	h := newHarness(t, Config{})
	resp := h.do(t, http.MethodGet, "/api/dashboard/statistics", h.login(t), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":0,"active":0,"graduated":0,"avg_by_status":[],"by_year":[]}`, string(raw))
}

func TestHandleStudents(t *testing.T) {
	h := newHarness(t, Config{})
	seedStudents(t, h.store)
	token := h.login(t)

	for _, path := range []string{"/api/dashboard/students", "/api/students/"} {
		resp := h.do(t, http.MethodGet, path, token, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var students []api.Student
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&students))
		require.Len(t, students, 4)
		assert.Equal(t, "Dani", students[0].Name, "newest first")
		assert.Nil(t, students[0].CurrentAverage)
		assert.Equal(t, "Ana", students[3].Name)
		assert.True(t, bool(students[3].Graduated))
	}
}

// =============================================================================
// UPLOAD TESTS
// =============================================================================

func TestHandleUpload(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.login(t)

	csv := "nombre_estudiante,anio_inicio,NUE,estado,promedio_actual,promedio_graduacion\n" +
		"Ana,2020,100,graduado,9.5,9.5\n" +
		"Beto,2021,101,,8.1,\n"
	body, ct := multipartBody(t, "students.csv", csv)
	resp := h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, "Se insertaron 2 estudiantes exitosamente", result.Message)

	// The same file again collides with what was just inserted.
	body, ct = multipartBody(t, "students.csv", csv)
	resp = h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var rej uploadRejection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rej))
	assert.False(t, rej.Valid)
	assert.Equal(t, 0, rej.ValidCount)
	assert.Len(t, rej.Errors, 4, "name and NUE for each row")
}

func TestHandleUpload_XLSX(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.login(t)

	data := workbook(t,
		workbookHeader,
		[]any{"Carla", 2019, 102, "graduado", 9.4, 9.4},
	)
	body, ct := multipartBody(t, "students.xlsx", string(data))
	resp := h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Inserted)
}

func TestHandleUpload_Rejections(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.login(t)

	t.Run("no file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())
		resp := h.do(t, http.MethodPost, "/api/students/upload", token, &buf, mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, MsgNoFile, decodeError(t, resp))
	})

	t.Run("bad extension", func(t *testing.T) {
		body, ct := multipartBody(t, "notes.txt", "hello")
		resp := h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, MsgBadExtension, decodeError(t, resp))
	})

	t.Run("legacy xls", func(t *testing.T) {
		body, ct := multipartBody(t, "students.xls", "\xd0\xcf\x11\xe0")
		resp := h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var rej uploadRejection
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rej))
		require.Len(t, rej.Errors, 1)
		assert.Equal(t, MsgLegacyXLS, rej.Errors[0].Message)
	})

	t.Run("corrupt workbook", func(t *testing.T) {
		body, ct := multipartBody(t, "students.xlsx", "PK")
		resp := h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var rej uploadRejection
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rej))
		require.Len(t, rej.Errors, 1)
		assert.Equal(t, "file", rej.Errors[0].Field)
	})

	t.Run("header only", func(t *testing.T) {
		body, ct := multipartBody(t, "s.csv", "nombre_estudiante,anio_inicio,NUE\n")
		resp := h.do(t, http.MethodPost, "/api/students/upload", token, body, ct)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var rej uploadRejection
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rej))
		require.Len(t, rej.Errors, 1)
		assert.Equal(t, MsgNoValidStudents, rej.Errors[0].Message)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		body, ct := multipartBody(t, "s.csv", "x")
		resp := h.do(t, http.MethodPost, "/api/students/upload", "", body, ct)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t, Config{})
	resp := h.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestCORS(t *testing.T) {
	h := newHarness(t, Config{})

	req, _ := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, h.ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(slogDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Config{RequestsPerSecond: 0.001, Burst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := h.do(t, http.MethodGet, "/health", "", nil, "")
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.9:5555", "", "203.0.113.9"},
		{"untrusted proxy ignored", "203.0.113.9:5555", "1.2.3.4", "203.0.113.9"},
		{"trusted proxy", "127.0.0.1:5555", "1.2.3.4, 10.0.0.1", "1.2.3.4"},
		{"trusted proxy bad header", "127.0.0.1:5555", "not-an-ip", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	h.do(t, http.MethodGet, "/api/auth/me", "", nil, "")

	resp := h.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `authstub_http_requests_total{code="401",method="GET",route="/api/auth/me"} 1`)
	assert.Contains(t, string(raw), "authstub_active_tokens")
}

func TestNotFoundIsJSON(t *testing.T) {
	h := newHarness(t, Config{})
	resp := h.do(t, http.MethodGet, "/api/nope", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", decodeError(t, resp))
}

// =============================================================================
// CLIENT ROUND TRIP
// =============================================================================

func TestClientAgainstStub(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	store := credstore.NewMemoryStore("")
	bus := events.NewBus()
	var unauthorized int
	bus.Subscribe(func(e events.Event) {
		if _, ok := e.(events.Unauthorized); ok {
			unauthorized++
		}
	})
	client := api.New(gateway.New(h.ts.URL+"/api", store, bus))

	_, err := client.Login(ctx, adminEmail, "wrong")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, gateway.StatusCode(err))
	assert.Zero(t, unauthorized, "a rejected login is not a session expiry")

	resp, err := client.Login(ctx, adminEmail, adminPassword)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, resp.AccessToken))

	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, adminEmail, me.Email)

	result, err := client.UploadStudents(ctx, "alumnos.csv", strings.NewReader(
		"nombre_estudiante,anio_inicio,NUE\nEva,2024,500\nEva,2024,501\n"))
	require.Error(t, err)
	assert.Nil(t, result)
	var rej *api.UploadRejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, 1, rej.ValidCount)
	require.Len(t, rej.Errors, 1)
	assert.Equal(t, 3, rej.Errors[0].Row)

	h.tokens.Revoke(resp.AccessToken)
	_, err = client.Statistics(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, unauthorized)
	_, ok := store.Get(ctx)
	assert.False(t, ok, "a 401 clears the stored credential")
}
