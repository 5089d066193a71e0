// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// =============================================================================
// SPINNER MODEL
// =============================================================================

// Spinner is a loading indicator with a message and an optional timer.
type Spinner struct {
	spinner spinner.Model

	style     SpinnerStyle
	message   string
	startTime time.Time
	now       func() time.Time

	isActive  bool
	showTimer bool
}

// SpinnerStyle selects the animation frames. All styles are ASCII.
type SpinnerStyle int

const (
	SpinnerLine  SpinnerStyle = iota // | / - \
	SpinnerDots                      // growing dots
	SpinnerPulse                     // ( ) (o) (O)
)

// NewSpinner creates an inactive line spinner with the message "Loading".
func NewSpinner() Spinner {
	s := Spinner{
		spinner:   spinner.New(),
		message:   "Loading",
		showTimer: true,
		now:       time.Now,
	}
	s.SetStyle(SpinnerLine)
	return s
}

// SetStyle changes the animation frames.
func (s *Spinner) SetStyle(style SpinnerStyle) {
	s.style = style
	switch style {
	case SpinnerDots:
		s.spinner.Spinner = spinner.Spinner{
			Frames: []string{".  ", ".. ", "...", " ..", "  .", "   "},
			FPS:    time.Second / 6,
		}
	case SpinnerPulse:
		s.spinner.Spinner = spinner.Spinner{
			Frames: []string{"( )", "(o)", "(O)", "(o)"},
			FPS:    time.Second / 8,
		}
	default:
		s.style = SpinnerLine
		s.spinner.Spinner = spinner.Spinner{
			Frames: []string{"|", "/", "-", "\\"},
			FPS:    time.Second / 10,
		}
	}
}

// SetMessage sets the text displayed next to the spinner.
func (s *Spinner) SetMessage(msg string) {
	s.message = msg
}

// SetShowTimer enables or disables the elapsed time display.
func (s *Spinner) SetShowTimer(show bool) {
	s.showTimer = show
}

// Start activates the spinner. Starting an active spinner keeps its start
// time and returns nil, so only one tick loop runs.
func (s *Spinner) Start() tea.Cmd {
	if s.isActive {
		return nil
	}
	s.isActive = true
	s.startTime = s.now()
	return s.spinner.Tick
}

// Stop deactivates the spinner. Pending ticks are ignored.
func (s *Spinner) Stop() {
	s.isActive = false
}

// IsActive reports whether the spinner is running.
func (s *Spinner) IsActive() bool {
	return s.isActive
}

// Elapsed returns the time since Start, or zero if never started.
func (s *Spinner) Elapsed() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return s.now().Sub(s.startTime)
}

// Update advances the animation.
func (s Spinner) Update(msg tea.Msg) (Spinner, tea.Cmd) {
	if !s.isActive {
		return s, nil
	}
	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return s, cmd
}

// View renders the spinner, or "" when inactive.
func (s Spinner) View() string {
	if !s.isActive {
		return ""
	}

	out := lipgloss.NewStyle().Foreground(styles.Purple).Render(s.spinner.View()) +
		" " + lipgloss.NewStyle().Foreground(styles.TextSecondary).Render(s.message+"...")

	if s.showTimer {
		out += lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Render(" (" + formatElapsed(s.Elapsed()) + ")")
	}
	return out
}

// formatElapsed renders d as "12s" or "3m 04s".
func formatElapsed(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %02ds", seconds/60, seconds%60)
}
