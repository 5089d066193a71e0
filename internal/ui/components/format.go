// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/util"
)

// =============================================================================
// TEXT HELPERS
// =============================================================================

// Truncate shortens s to at most width terminal cells, ending in "..." when
// cut. Wide runes (CJK, emoji) count as two cells.
func Truncate(s string, width int) string {
	return util.TruncateWidth(util.SingleLine(s), width)
}

// PadRight truncates or pads s to exactly width cells.
func PadRight(s string, width int) string {
	return util.PadWidth(util.SingleLine(s), width)
}

// PadLeft truncates or pads s on the left to exactly width cells.
func PadLeft(s string, width int) string {
	return runewidth.FillLeft(Truncate(s, width), width)
}

// FmtNumber formats n with thousands separators.
func FmtNumber(n int) string {
	if n < 0 {
		return "-" + FmtNumber(-n)
	}
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FmtAverage renders an optional grade average with two decimals, or "-".
func FmtAverage(n *api.Number) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatFloat(float64(*n), 'f', 2, 64)
}

// FmtFlag renders a graduation flag as "Sí" or "No".
func FmtFlag(f api.Flag) string {
	if f {
		return "Sí"
	}
	return "No"
}
