// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/gateway"
	"github.com/jeranaias/sessiongate/internal/ui/components"
	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// Fixed student table columns; the name column takes what is left.
const (
	colNUE       = 8
	colYear      = 6
	colAverage   = 9
	colGraduated = 5
	colGap       = 2
	minNameWidth = 12
)

// =============================================================================
// DASHBOARD VIEW
// =============================================================================

type dashboardView struct {
	stats    *api.Statistics
	students []api.Student
	pending  int
	loaded   bool
	errs     []string
	table    viewport.Model
}

func newDashboardView() dashboardView {
	return dashboardView{table: viewport.New(80, 10)}
}

func (d *dashboardView) needsLoad() bool {
	return !d.loaded && d.pending == 0
}

func (d *dashboardView) startLoad() {
	d.pending = 2
	d.errs = nil
}

// invalidate drops loaded data so the next render reloads it.
func (d *dashboardView) invalidate() {
	d.stats = nil
	d.students = nil
	d.pending = 0
	d.loaded = false
	d.errs = nil
	d.table.SetContent("")
	d.table.GotoTop()
}

func (d *dashboardView) finishOne(err error) {
	if d.pending > 0 {
		d.pending--
	}
	if d.pending == 0 {
		d.loaded = true
	}
	// A 401 is handled by the session: the view is about to be unmounted.
	if err != nil && gateway.StatusCode(err) != http.StatusUnauthorized {
		d.errs = append(d.errs, err.Error())
	}
}

func (d *dashboardView) setStats(stats *api.Statistics, err error) {
	if err == nil {
		d.stats = stats
	}
	d.finishOne(err)
}

func (d *dashboardView) setStudents(students []api.Student, err error) {
	if err == nil {
		d.students = students
	}
	d.finishOne(err)
}

func (d *dashboardView) resize(width, height int) {
	d.table.Width = width
	// Statistics and tabs take about eleven lines.
	d.table.Height = max(height-11, 3)
}

func (m Model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Refresh) {
		m.dashboard.invalidate()
		return m, m.settle()
	}
	var cmd tea.Cmd
	m.dashboard.table, cmd = m.dashboard.table.Update(msg)
	return m, cmd
}

// refreshTable re-renders the student rows into the viewport.
func (d *dashboardView) refreshTable(theme *styles.Theme, width int) {
	if len(d.students) == 0 {
		d.table.SetContent("")
		return
	}
	nameWidth := width - colNUE - colYear - 2*colAverage - colGraduated - 5*colGap - 2
	if nameWidth < minNameWidth {
		nameWidth = minNameWidth
	}

	gap := strings.Repeat(" ", colGap)
	rows := make([]string, 0, len(d.students))
	for _, s := range d.students {
		rows = append(rows, theme.TableCell.Render(strings.Join([]string{
			components.PadLeft(fmt.Sprint(s.NUE), colNUE),
			components.PadRight(s.Name, nameWidth),
			components.PadLeft(fmt.Sprint(s.StartYear), colYear),
			components.PadLeft(components.FmtAverage(s.CurrentAverage), colAverage),
			components.PadLeft(components.FmtAverage(s.GraduationAverage), colAverage),
			components.PadRight(components.FmtFlag(s.Graduated), colGraduated),
		}, gap)))
	}
	d.table.SetContent(strings.Join(rows, "\n"))
}

func (d dashboardView) tableHeader(theme *styles.Theme) string {
	nameWidth := d.table.Width - colNUE - colYear - 2*colAverage - colGraduated - 5*colGap - 2
	if nameWidth < minNameWidth {
		nameWidth = minNameWidth
	}
	gap := strings.Repeat(" ", colGap)
	return theme.TableHeader.Render(strings.Join([]string{
		components.PadLeft("NUE", colNUE),
		components.PadRight("Nombre", nameWidth),
		components.PadLeft("Año", colYear),
		components.PadLeft("Actual", colAverage),
		components.PadLeft("Egreso", colAverage),
		components.PadRight("Egr.", colGraduated),
	}, gap))
}

func (d dashboardView) view(theme *styles.Theme) string {
	if !d.loaded {
		return theme.Muted.Render("Loading dashboard...")
	}

	var b strings.Builder
	for _, e := range d.errs {
		b.WriteString(styles.RenderError(e))
		b.WriteString("\n")
	}

	if d.stats != nil {
		stat := func(label string, n int) string {
			return theme.StatBox.Render(theme.StatLabel.Render(label) + "\n" + theme.StatValue.Render(components.FmtNumber(n)))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			stat("Total", d.stats.Total),
			stat("Activos", d.stats.Active),
			stat("Egresados", d.stats.Graduated),
		))
		b.WriteString("\n")
		b.WriteString(summaryLine(theme, d.stats))
		b.WriteString("\n\n")
	}

	if len(d.students) == 0 {
		b.WriteString(theme.Muted.Render("No students yet. Press tab to upload a file."))
		return b.String()
	}
	b.WriteString(d.tableHeader(theme))
	b.WriteString("\n")
	b.WriteString(d.table.View())
	return b.String()
}

// summaryLine renders the averages by status and the counts by start year.
func summaryLine(theme *styles.Theme, stats *api.Statistics) string {
	var parts []string
	for _, a := range stats.AvgByStatus {
		label := "Activos"
		if a.Graduated {
			label = "Egresados"
		}
		n := a.Average
		parts = append(parts, fmt.Sprintf("%s %s", label, components.FmtAverage(&n)))
	}
	var years []string
	for _, y := range stats.ByYear {
		years = append(years, fmt.Sprintf("%d: %d", y.Year, y.Count))
	}

	line := theme.StatLabel.Render("Promedio ") + theme.TableCell.Render(strings.Join(parts, "  "))
	if len(years) > 0 {
		line += "\n" + theme.StatLabel.Render("Por año   ") + theme.TableCell.Render(strings.Join(years, "  "))
	}
	return line
}
