// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jeranaias/sessiongate/internal/api"
)

// Columns of an upload file.
const (
	ColName              = "nombre_estudiante"
	ColStartYear         = "anio_inicio"
	ColNUE               = "NUE"
	ColStatus            = "estado"
	ColCurrentAverage    = "promedio_actual"
	ColGraduationAverage = "promedio_graduacion"
)

// RequiredColumns must all be present in the header row.
var RequiredColumns = []string{ColName, ColStartYear, ColNUE}

// averageTolerance is how far a graduate's two averages may differ.
const averageTolerance = 0.01

// NewStudent is a validated upload row ready to insert.
type NewStudent struct {
	// Row is the 1-based line in the file, header included.
	Row               int
	Name              string
	NUE               int64
	StartYear         int
	CurrentAverage    *float64
	GraduationAverage *float64
	Graduated         bool
}

// RowValidator checks upload rows against existing students and each other.
type RowValidator struct {
	names       map[string]bool
	nues        map[int64]bool
	currentYear int
}

// NewRowValidator creates a validator. names and nues are the keys already
// taken; the validator adds every accepted row to them.
func NewRowValidator(names map[string]bool, nues map[int64]bool, currentYear int) *RowValidator {
	if names == nil {
		names = make(map[string]bool)
	}
	if nues == nil {
		nues = make(map[int64]bool)
	}
	return &RowValidator{names: names, nues: nues, currentYear: currentYear}
}

// ValidateCSV reads a CSV upload and returns its valid rows and every
// problem found. A missing column or unreadable file is reported as row 0
// and stops validation.
func (v *RowValidator) ValidateCSV(r io.Reader) ([]NewStudent, []api.ValidationError) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, []api.ValidationError{fileError("Error al leer el archivo: " + err.Error())}
	}
	return v.ValidateRecords(records)
}

// ValidateXLSX reads the first worksheet of an .xlsx workbook with the same
// rules as ValidateCSV.
func (v *RowValidator) ValidateXLSX(r io.Reader) ([]NewStudent, []api.ValidationError) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, []api.ValidationError{fileError("Error al leer el archivo: " + err.Error())}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, []api.ValidationError{fileError("Error al leer el archivo: el archivo está vacío")}
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, []api.ValidationError{fileError("Error al leer el archivo: " + err.Error())}
	}
	return v.ValidateRecords(records)
}

// ValidateRecords validates decoded rows; records[0] is the header.
func (v *RowValidator) ValidateRecords(records [][]string) ([]NewStudent, []api.ValidationError) {
	if len(records) == 0 {
		return nil, []api.ValidationError{fileError("Error al leer el archivo: el archivo está vacío")}
	}

	header := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		header[strings.TrimSpace(col)] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		list := strings.Join(missing, ", ")
		return nil, []api.ValidationError{{
			Row:     0,
			Field:   "columns",
			Value:   list,
			Message: "Columnas faltantes: " + list,
		}}
	}

	var (
		valid []NewStudent
		errs  []api.ValidationError
	)
	for i, rec := range records[1:] {
		cell := func(col string) string {
			idx, ok := header[col]
			if !ok || idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}
		st, rowErrs := v.validateRow(i+2, cell)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		valid = append(valid, st)
		v.names[st.Name] = true
		v.nues[st.NUE] = true
	}
	return valid, errs
}

func (v *RowValidator) validateRow(row int, cell func(string) string) (NewStudent, []api.ValidationError) {
	st := NewStudent{Row: row}
	var errs []api.ValidationError
	fail := func(field string, value any, msg string) {
		errs = append(errs, api.ValidationError{Row: row, Field: field, Value: value, Message: msg})
	}

	st.Name = cell(ColName)
	switch {
	case st.Name == "":
		fail(ColName, st.Name, ColName+" es requerido")
	case v.names[st.Name]:
		fail(ColName, st.Name, fmt.Sprintf("%s %q ya existe en la base de datos", ColName, st.Name))
	}

	if raw := cell(ColStartYear); raw == "" {
		fail(ColStartYear, nil, ColStartYear+" es requerido")
	} else if year, ok := parseWhole(raw); !ok {
		fail(ColStartYear, raw, ColStartYear+" debe ser un número válido")
	} else if int(year) > v.currentYear {
		fail(ColStartYear, year, fmt.Sprintf("%s (%d) no puede ser mayor al año actual (%d)", ColStartYear, year, v.currentYear))
	} else {
		st.StartYear = int(year)
	}

	if raw := cell(ColNUE); raw == "" {
		fail(ColNUE, nil, ColNUE+" es requerido")
	} else if nue, ok := parseWhole(raw); !ok {
		fail(ColNUE, raw, ColNUE+" debe ser un número válido")
	} else if v.nues[nue] {
		fail(ColNUE, nue, fmt.Sprintf("%s %d ya existe en la base de datos", ColNUE, nue))
	} else {
		st.NUE = nue
	}

	st.Graduated = strings.EqualFold(cell(ColStatus), "graduado")

	var ok bool
	if st.CurrentAverage, ok = parseOptional(cell(ColCurrentAverage)); !ok {
		fail(ColCurrentAverage, cell(ColCurrentAverage), ColCurrentAverage+" debe ser un número válido (puede ser decimal)")
	}
	if st.GraduationAverage, ok = parseOptional(cell(ColGraduationAverage)); !ok {
		fail(ColGraduationAverage, cell(ColGraduationAverage), ColGraduationAverage+" debe ser un número válido (puede ser decimal) o estar vacío")
	}

	if st.Graduated && st.CurrentAverage != nil && st.GraduationAverage != nil {
		cur, grad := *st.CurrentAverage, *st.GraduationAverage
		if math.Abs(cur-grad) > averageTolerance {
			fail("promedio",
				fmt.Sprintf("actual: %s, graduacion: %s", formatFloat(cur), formatFloat(grad)),
				fmt.Sprintf("Para estudiantes graduados, si ambos promedios están presentes, %s (%s) y %s (%s) deben ser iguales",
					ColCurrentAverage, formatFloat(cur), ColGraduationAverage, formatFloat(grad)))
		}
	}

	return st, errs
}

// parseWhole accepts integers written as "2021" or "2021.0".
func parseWhole(s string) (int64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// parseOptional returns nil for an empty cell and false for garbage.
func parseOptional(s string) (*float64, bool) {
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return &f, true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func fileError(msg string) api.ValidationError {
	return api.ValidationError{Row: 0, Field: "file", Value: "", Message: msg}
}
