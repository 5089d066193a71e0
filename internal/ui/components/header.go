// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// =============================================================================
// HEADER COMPONENT
// =============================================================================

// Header is the title bar: application name on the left, the signed-in user
// and session status on the right.
type Header struct {
	Title  string
	User   string
	Status string
	Width  int
	theme  *styles.Theme
}

// NewHeader creates a header 80 columns wide.
func NewHeader(theme *styles.Theme) *Header {
	return &Header{Title: "sessiongate", Width: 80, theme: theme}
}

// SetWidth updates the available width.
func (h *Header) SetWidth(width int) {
	h.Width = width
}

// SetSession updates the user and status shown on the right.
func (h *Header) SetSession(user, status string) {
	h.User = user
	h.Status = status
}

// View renders the header.
func (h *Header) View() string {
	width := h.Width
	if width < 40 {
		width = 40
	}
	// Border and padding take six columns.
	inner := width - 6

	left := h.theme.HeaderTitle.Render(h.Title)
	right := h.Status
	if h.User != "" {
		right = h.User + "  " + right
	}
	right = Truncate(right, inner-lipgloss.Width(left)-1)
	right = h.theme.HeaderUser.Render(right)

	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return h.theme.Header.Width(width - 2).Render(left + runewidth.FillRight("", gap) + right)
}
