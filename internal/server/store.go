// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// Store errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrPasswordTooShort   = errors.New("password too short")
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	email      TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS students (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	nombre_estudiante   TEXT NOT NULL UNIQUE,
	nue                 INTEGER NOT NULL UNIQUE,
	anio_inicio         INTEGER NOT NULL,
	promedio_actual     REAL,
	promedio_graduacion REAL,
	graduado            INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL
);
`

// StoreConfig configures OpenStore.
type StoreConfig struct {
	// Path is the database file. Empty or ":memory:" keeps everything in memory.
	Path string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Store persists users and students in SQLite.
type Store struct {
	db   *sql.DB
	cost int
	log  *slog.Logger
}

// OpenStore opens (creating if needed) the stub database.
func OpenStore(cfg StoreConfig, log *slog.Logger) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Store{db: db, cost: cost, log: logging.OrDiscard(log)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser registers email with a bcrypt hash of password.
func (s *Store) CreateUser(ctx context.Context, email, password string) (*api.User, error) {
	email = api.NormalizeEmail(email)
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, password, created_at) VALUES (?, ?, ?)",
		email, string(hash), time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return &api.User{ID: id, Email: email}, nil
}

// EnsureUser creates email unless it already exists. Reports whether it created.
func (s *Store) EnsureUser(ctx context.Context, email, password string) (bool, error) {
	_, err := s.CreateUser(ctx, email, password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrEmailTaken):
		return false, nil
	default:
		return false, err
	}
}

// Authenticate checks email and password. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*api.User, error) {
	var (
		u    api.User
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password FROM users WHERE email = ?",
		api.NormalizeEmail(email)).Scan(&u.ID, &u.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// UserByID returns the user with id.
func (s *Store) UserByID(ctx context.Context, id int64) (*api.User, error) {
	var u api.User
	err := s.db.QueryRowContext(ctx, "SELECT id, email FROM users WHERE id = ?", id).Scan(&u.ID, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// DeleteUser removes the user with id.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// =============================================================================
// STUDENTS
// =============================================================================

// Students returns every student, newest first.
func (s *Store) Students(ctx context.Context) ([]api.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nombre_estudiante, nue, anio_inicio, promedio_actual, promedio_graduacion, graduado
		FROM students ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	students := make([]api.Student, 0)
	for rows.Next() {
		var (
			st        api.Student
			cur, grad sql.NullFloat64
			graduated bool
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.NUE, &st.StartYear, &cur, &grad, &graduated); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		st.CurrentAverage = nullNumber(cur)
		st.GraduationAverage = nullNumber(grad)
		st.Graduated = api.Flag(graduated)
		students = append(students, st)
	}
	return students, rows.Err()
}

// Statistics aggregates the student table.
func (s *Store) Statistics(ctx context.Context) (*api.Statistics, error) {
	stats := &api.Statistics{
		AvgByStatus: make([]api.StatusAverage, 0, 2),
		ByYear:      make([]api.YearCount, 0),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN graduado = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN graduado = 1 THEN 1 ELSE 0 END), 0)
		FROM students`).Scan(&stats.Total, &stats.Active, &stats.Graduated)
	if err != nil {
		return nil, fmt.Errorf("failed to count students: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT graduado, AVG(promedio_actual)
		FROM students WHERE promedio_actual IS NOT NULL
		GROUP BY graduado ORDER BY graduado`)
	if err != nil {
		return nil, fmt.Errorf("failed to average students: %w", err)
	}
	for rows.Next() {
		var (
			graduated bool
			avg       float64
		)
		if err := rows.Scan(&graduated, &avg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan average: %w", err)
		}
		stats.AvgByStatus = append(stats.AvgByStatus, api.StatusAverage{Graduated: api.Flag(graduated), Average: api.Number(avg)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT anio_inicio, COUNT(*) FROM students
		GROUP BY anio_inicio ORDER BY anio_inicio DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to group students: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var yc api.YearCount
		if err := rows.Scan(&yc.Year, &yc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		stats.ByYear = append(stats.ByYear, yc)
	}
	return stats, rows.Err()
}

// studentKeys returns the names and NUEs already taken.
func (s *Store) studentKeys(ctx context.Context) (map[string]bool, map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT nombre_estudiante, nue FROM students")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	nues := make(map[int64]bool)
	for rows.Next() {
		var (
			name string
			nue  int64
		)
		if err := rows.Scan(&name, &nue); err != nil {
			return nil, nil, fmt.Errorf("failed to scan student: %w", err)
		}
		names[name] = true
		nues[nue] = true
	}
	return names, nues, rows.Err()
}

// InsertStudents inserts each student independently. Rows that fail are
// reported and do not stop the rest.
func (s *Store) InsertStudents(ctx context.Context, students []NewStudent) (int, []api.ValidationError) {
	inserted := 0
	var failed []api.ValidationError
	now := time.Now().Unix()

	for _, st := range students {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO students
				(nombre_estudiante, nue, anio_inicio, promedio_actual, promedio_graduacion, graduado, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.Name, st.NUE, st.StartYear, nullFloat(st.CurrentAverage), nullFloat(st.GraduationAverage), st.Graduated, now)
		if err != nil {
			s.log.Warn("student insert failed", "row", st.Row, "error", err)
			failed = append(failed, api.ValidationError{
				Row:     st.Row,
				Field:   "nombre_estudiante",
				Value:   st.Name,
				Message: err.Error(),
			})
			continue
		}
		inserted++
	}
	return inserted, failed
}

func nullNumber(f sql.NullFloat64) *api.Number {
	if !f.Valid {
		return nil
	}
	n := api.Number(f.Float64)
	return &n
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
