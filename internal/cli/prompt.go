// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// ErrPromptAborted is returned when the user cancels a prompt with Ctrl+C.
var ErrPromptAborted = errors.New("prompt aborted")

// Prompter reads interactive input.
type Prompter interface {
	// Line reads one line with editing support.
	Line(prompt string) (string, error)
	// Password reads one line without echo.
	Password(prompt string) (string, error)
}

// TerminalPrompter prompts on the controlling terminal: liner for lines,
// x/term for passwords.
type TerminalPrompter struct {
	// Out receives the password prompt. Defaults to stderr.
	Out io.Writer
}

// Line implements Prompter.
func (p TerminalPrompter) Line(prompt string) (string, error) {
	if !IsTTY() {
		return "", &TTYRequiredError{Operation: "prompt"}
	}
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	input, err := line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrPromptAborted
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// Password implements Prompter.
func (p TerminalPrompter) Password(prompt string) (string, error) {
	if !IsTTY() {
		return "", &TTYRequiredError{Operation: "password prompt"}
	}
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}
