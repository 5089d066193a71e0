// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is where the stub listens; the client's default base URL
	// points here.
	DefaultAddr = "127.0.0.1:5000"

	// MaxRequestBodySize bounds JSON bodies.
	MaxRequestBodySize = 1 << 20

	// MaxUploadSize bounds multipart uploads.
	MaxUploadSize = 10 << 20
)

// Error bodies, as the production service words them.
const (
	MsgMissingFields      = "Email y contraseña son requeridos"
	MsgInvalidCredentials = "Credenciales inválidas"
	MsgUserNotFound       = "Usuario no encontrado"
	MsgPasswordTooShort   = "La contraseña debe tener al menos 6 caracteres"
	MsgEmailTaken         = "El email ya está registrado"
	MsgMissingToken       = "Missing Authorization Header"
	MsgExpiredToken       = "Token has expired"
	MsgNoFile             = "No se proporcionó ningún archivo"
	MsgEmptyFilename      = "No se seleccionó ningún archivo"
	MsgBadExtension       = "Tipo de archivo no permitido. Use .xlsx, .xls o .csv"
	MsgLegacyXLS          = "El formato .xls no es compatible. Guarde el archivo como .xlsx o .csv"
	MsgNoValidStudents    = "No hay estudiantes válidos en el archivo"
)

// ============================================================================
// SERVER
// ============================================================================

// Config configures a Server.
type Config struct {
	Addr string
	// RequestsPerSecond per client IP; zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	CORS              *CORSConfig
	// Now is the clock used for upload validation. Defaults to time.Now.
	Now func() time.Time
}

// Server is the development stand-in for the remote authentication service.
type Server struct {
	cfg     Config
	store   *Store
	tokens  *TokenStore
	metrics *Metrics
	gather  prometheus.Gatherer
	log     *slog.Logger

	router chi.Router
	server *http.Server
}

// New builds a server over store and tokens. reg may be nil, in which case a
// private registry is used for /metrics.
func New(cfg Config, store *Store, tokens *TokenStore, reg *prometheus.Registry, log *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.CORS == nil {
		cfg.CORS = DefaultCORSConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		tokens:  tokens,
		metrics: NewMetrics(reg, tokens),
		gather:  reg,
		log:     logging.OrDiscard(log).With("component", "authstub"),
	}
	s.setupRoutes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log, s.metrics),
		CORSMiddleware(s.cfg.CORS),
	)
	if s.cfg.RequestsPerSecond > 0 {
		burst := s.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.Use(RateLimitMiddleware(NewRateLimiter(s.cfg.RequestsPerSecond, burst), s.log))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(s.tokens, s.log))
			r.Get("/auth/me", s.handleMe)
			r.Get("/dashboard/statistics", s.handleStatistics)
			r.Get("/dashboard/students", s.handleStudents)
			r.Get("/students/", s.handleStudents)
			r.Post("/students/upload", s.handleUpload)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	s.router = r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// AUTH HANDLERS
// ============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" || req.Password == "" {
		s.metrics.login("bad_request")
		writeError(w, http.StatusBadRequest, MsgMissingFields)
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		s.metrics.login("rejected")
		writeError(w, http.StatusUnauthorized, MsgInvalidCredentials)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.metrics.login("ok")
	s.log.Info("login", "user_id", user.ID)
	writeJSON(w, http.StatusOK, api.LoginResponse{AccessToken: token, User: user})
}

type registerResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, MsgMissingFields)
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, MsgPasswordTooShort)
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusBadRequest, MsgEmailTaken)
	case err != nil:
		s.internalError(w, r, err)
	default:
		s.log.Info("user registered", "user_id", user.ID)
		writeJSON(w, http.StatusCreated, registerResponse{Message: "Usuario creado exitosamente", UserID: user.ID})
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := UserID(r.Context())
	user, err := s.store.UserByID(r.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		writeError(w, http.StatusNotFound, MsgUserNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ============================================================================
// DASHBOARD HANDLERS
// ============================================================================

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.Students(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

// ============================================================================
// UPLOAD HANDLER
// ============================================================================

type uploadRejection struct {
	Valid      bool                  `json:"valid"`
	Errors     []api.ValidationError `json:"errors"`
	ValidCount int                   `json:"valid_count"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, MsgNoFile)
		return
	}
	defer file.Close()

	switch {
	case header.Filename == "":
		writeError(w, http.StatusBadRequest, MsgEmptyFilename)
		return
	case !api.AllowedUpload(header.Filename):
		writeError(w, http.StatusBadRequest, MsgBadExtension)
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == ".xls" {
		s.metrics.upload("unsupported")
		writeJSON(w, http.StatusBadRequest, uploadRejection{
			Errors: []api.ValidationError{{Row: 0, Field: "file", Value: header.Filename, Message: MsgLegacyXLS}},
		})
		return
	}

	names, nues, err := s.store.studentKeys(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	validator := NewRowValidator(names, nues, s.cfg.Now().Year())
	var (
		valid []NewStudent
		errs  []api.ValidationError
	)
	if ext == ".xlsx" {
		valid, errs = validator.ValidateXLSX(file)
	} else {
		valid, errs = validator.ValidateCSV(file)
	}
	if len(errs) > 0 {
		s.metrics.upload("invalid")
		writeJSON(w, http.StatusBadRequest, uploadRejection{Errors: errs, ValidCount: len(valid)})
		return
	}
	if len(valid) == 0 {
		s.metrics.upload("empty")
		writeJSON(w, http.StatusBadRequest, uploadRejection{
			Errors: []api.ValidationError{fileError(MsgNoValidStudents)},
		})
		return
	}

	inserted, failed := s.store.InsertStudents(r.Context(), valid)
	s.metrics.upload("ok")
	s.log.Info("students uploaded", "inserted", inserted, "failed", len(failed))

	result := api.UploadResult{Success: true, Inserted: inserted, Errors: failed}
	if len(failed) > 0 {
		result.Message = fmt.Sprintf("Se insertaron %d estudiantes con algunos errores", inserted)
	} else {
		result.Message = fmt.Sprintf("Se insertaron %d estudiantes exitosamente", inserted)
	}
	writeJSON(w, http.StatusOK, result)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

type healthResponse struct {
	Status       string `json:"status"`
	ActiveTokens int    `json:"active_tokens"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ActiveTokens: s.tokens.Len()})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address. It blocks until Shutdown and then
// returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.log.Info("server start", "addr", s.cfg.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("server shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
