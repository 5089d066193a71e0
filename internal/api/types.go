// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// AUTH
// =============================================================================

// User is the identity record returned by the service.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the success body of POST /auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	User        *User  `json:"user"`
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Statistics is the body of GET /dashboard/statistics.
type Statistics struct {
	Total       int             `json:"total"`
	Active      int             `json:"active"`
	Graduated   int             `json:"graduated"`
	AvgByStatus []StatusAverage `json:"avg_by_status"`
	ByYear      []YearCount     `json:"by_year"`
}

// StatusAverage is the mean current average for graduated or active students.
type StatusAverage struct {
	Graduated Flag   `json:"graduado"`
	Average   Number `json:"avg_promedio"`
}

// YearCount is the number of students that started in Year.
type YearCount struct {
	Year  int `json:"anio_inicio"`
	Count int `json:"count"`
}

// Student is one row of GET /dashboard/students.
type Student struct {
	ID                int64   `json:"id"`
	Name              string  `json:"nombre_estudiante"`
	NUE               int64   `json:"nue"`
	StartYear         int     `json:"anio_inicio"`
	CurrentAverage    *Number `json:"promedio_actual"`
	GraduationAverage *Number `json:"promedio_graduacion"`
	Graduated         Flag    `json:"graduado"`
}

// =============================================================================
// UPLOAD
// =============================================================================

// UploadResult is the success body of POST /students/upload. Errors lists rows
// that failed to insert after validation passed.
type UploadResult struct {
	Success  bool              `json:"success"`
	Inserted int               `json:"inserted"`
	Message  string            `json:"message"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one problem found in an uploaded file. Row 0 refers to
// the file as a whole (missing columns, unreadable file).
type ValidationError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	if v.Row == 0 {
		return fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("row %d, %s: %s", v.Row, v.Field, v.Message)
}

// ValueString renders Value for display.
func (v ValidationError) ValueString() string {
	switch val := v.Value.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// uploadRejection is the 400 body returned when validation fails.
type uploadRejection struct {
	Valid      *bool             `json:"valid"`
	Errors     []ValidationError `json:"errors"`
	ValidCount int               `json:"valid_count"`
}

// =============================================================================
// LENIENT SCALARS
// =============================================================================

// Number is a float that also accepts a quoted decimal or null. The service
// serializes SQL DECIMAL columns as strings.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
		if len(data) == 0 {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", data, err)
	}
	*n = Number(f)
	return nil
}

// Float returns n as a float64.
func (n Number) Float() float64 { return float64(n) }

// Flag is a bool that also accepts 0/1, as stored in TINYINT columns.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "true", "1":
		*f = true
	case "false", "0", "null", "":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", data)
	}
	return nil
}
