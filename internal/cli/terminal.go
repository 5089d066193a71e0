// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled reports whether colored output should be used. NO_COLOR wins,
// then FORCE_COLOR, then stdout TTY detection.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		colorsEnabled = colorsFromEnv(os.Getenv("NO_COLOR"), os.Getenv("FORCE_COLOR"), IsStdoutTTY)
	})
	return colorsEnabled
}

// colorsFromEnv applies NO_COLOR, then FORCE_COLOR, then the TTY check.
func colorsFromEnv(noColor, forceColor string, tty func() bool) bool {
	switch {
	case noColor != "":
		return false
	case forceColor != "":
		return true
	default:
		return tty()
	}
}

// GetColorProfile returns termenv.Ascii when colors are disabled.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// TTYRequiredError is returned when a prompt is needed but stdin is not a terminal.
type TTYRequiredError struct {
	Operation string
}

func (e *TTYRequiredError) Error() string {
	return e.Operation + " requires an interactive terminal; pass the value as a flag instead"
}
