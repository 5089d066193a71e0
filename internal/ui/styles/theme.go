// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the application.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	App lipgloss.Style

	// Header and status bar
	Header       lipgloss.Style
	HeaderTitle  lipgloss.Style
	HeaderUser   lipgloss.Style
	StatusBar    lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// Forms
	FormBox      lipgloss.Style
	FormTitle    lipgloss.Style
	Label        lipgloss.Style
	Input        lipgloss.Style
	InputFocused lipgloss.Style
	Button       lipgloss.Style
	ButtonActive lipgloss.Style
	Hint         lipgloss.Style

	// Dashboard
	Tab         lipgloss.Style
	TabActive   lipgloss.Style
	StatBox     lipgloss.Style
	StatLabel   lipgloss.Style
	StatValue   lipgloss.Style
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
	Muted       lipgloss.Style

	Spinner lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
}

// NewTheme creates a theme for mode ("dark", "light" or "auto").
//
// NO_COLOR, or a terminal without color support, selects the Ascii profile
// for every lipgloss renderer.
func NewTheme(mode string) *Theme {
	profile := termenv.ColorProfile()
	if os.Getenv("NO_COLOR") != "" {
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)

	isDark := true
	switch strings.ToLower(mode) {
	case "light":
		isDark = false
	case "auto":
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{IsDark: isDark, ColorProfile: profile}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.App = lipgloss.NewStyle().Padding(0, 1)

	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 2)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.HeaderUser = lipgloss.NewStyle().Foreground(TextSecondary)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay)
	t.ShortcutKey = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)

	t.FormBox = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(1, 3)
	t.FormTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple).MarginBottom(1)
	t.Label = lipgloss.NewStyle().Foreground(TextSecondary)
	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.InputFocused = t.Input.BorderForeground(Purple)
	t.Button = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 2)
	t.ButtonActive = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		Padding(0, 2)
	t.Hint = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)

	t.Tab = lipgloss.NewStyle().Foreground(TextMuted).Padding(0, 2)
	t.TabActive = lipgloss.NewStyle().Bold(true).Foreground(Cyan).Underline(true).Padding(0, 2)
	t.StatBox = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 2).
		MarginRight(1)
	t.StatLabel = lipgloss.NewStyle().Foreground(TextSecondary)
	t.StatValue = lipgloss.NewStyle().Bold(true).Foreground(TextPrimary)
	t.TableHeader = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.TableCell = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)

	t.Spinner = lipgloss.NewStyle().Foreground(Purple)
	t.Error = lipgloss.NewStyle().Foreground(Rose).Bold(true)
	t.Success = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.Warning = lipgloss.NewStyle().Foreground(Amber)
}
