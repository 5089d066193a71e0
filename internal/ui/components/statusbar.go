// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// =============================================================================
// STATUS BAR
// =============================================================================

// StatusBar shows key hints and a transient message along the bottom.
type StatusBar struct {
	Width    int
	Message  string
	bindings []key.Binding
	theme    *styles.Theme
}

// NewStatusBar creates an empty status bar.
func NewStatusBar(theme *styles.Theme) *StatusBar {
	return &StatusBar{Width: 80, theme: theme}
}

// SetBindings sets the key hints. Disabled bindings are skipped.
func (s *StatusBar) SetBindings(bindings ...key.Binding) {
	s.bindings = bindings
}

// SetMessage sets the text shown before the hints.
func (s *StatusBar) SetMessage(msg string) {
	s.Message = msg
}

// View renders the bar, dropping hints from the right when it is too narrow.
func (s *StatusBar) View() string {
	var hints []string
	for _, b := range s.bindings {
		if !b.Enabled() {
			continue
		}
		h := b.Help()
		hints = append(hints, s.theme.ShortcutKey.Render(h.Key)+" "+s.theme.ShortcutDesc.Render(h.Desc))
	}

	msg := s.Message
	for len(hints) > 0 {
		line := strings.Join(hints, "  ")
		if lipgloss.Width(line)+lipgloss.Width(msg)+2 <= s.Width {
			break
		}
		hints = hints[:len(hints)-1]
	}

	line := strings.Join(hints, "  ")
	if msg != "" {
		if line != "" {
			line = msg + "  " + line
		} else {
			line = msg
		}
	}
	return s.theme.StatusBar.Width(s.Width).Render(Truncate(line, s.Width))
}
