// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/session"
	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

const (
	focusEmail = iota
	focusPassword
)

// msgMissingFields is shown before any request is made.
const msgMissingFields = "Email and password are required"

// =============================================================================
// SIGN-IN FORM
// =============================================================================

type loginForm struct {
	email    textinput.Model
	password textinput.Model
	focus    int
	// localErr is a validation message that never reached the service.
	localErr   string
	submitting bool
}

func newLoginForm() loginForm {
	email := textinput.New()
	email.Placeholder = "admin@test.com"
	email.CharLimit = 254
	email.Width = 32
	email.Prompt = ""
	email.Cursor.SetMode(cursor.CursorStatic)

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'
	password.CharLimit = 128
	password.Width = 32
	password.Prompt = ""
	password.Cursor.SetMode(cursor.CursorStatic)

	return loginForm{email: email, password: password}
}

func (f *loginForm) focusFirst() tea.Cmd {
	f.focus = focusEmail
	f.password.Blur()
	return f.email.Focus()
}

func (f *loginForm) toggleFocus() tea.Cmd {
	if f.focus == focusEmail {
		f.focus = focusPassword
		f.email.Blur()
		return f.password.Focus()
	}
	return f.focusFirst()
}

// reset clears the form after a successful sign-in.
func (f *loginForm) reset() {
	f.email.SetValue("")
	f.password.SetValue("")
	f.localErr = ""
	f.submitting = false
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := &m.login
	if f.submitting {
		return m, nil
	}

	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		return m, f.toggleFocus()
	}

	if key.Matches(msg, m.keys.Submit) {
		if f.focus == focusEmail {
			return m, f.toggleFocus()
		}
		email := api.NormalizeEmail(f.email.Value())
		password := f.password.Value()
		if email == "" || password == "" {
			f.localErr = msgMissingFields
			return m, nil
		}
		f.localErr = ""
		f.submitting = true
		return m, m.session.SignInCmd(m.ctx, email, password)
	}

	// Editing the form dismisses the previous failure.
	f.localErr = ""
	if m.state.Error != "" {
		m.session.ClearError()
		m.state = m.session.State()
	}

	var cmd tea.Cmd
	if f.focus == focusEmail {
		f.email, cmd = f.email.Update(msg)
	} else {
		f.password, cmd = f.password.Update(msg)
	}
	return m, cmd
}

func (f loginForm) view(theme *styles.Theme, st session.State, width int) string {
	field := func(label string, in textinput.Model, focused bool) string {
		box := theme.Input
		if focused {
			box = theme.InputFocused
		}
		return theme.Label.Render(label) + "\n" + box.Render(in.View())
	}

	var b strings.Builder
	b.WriteString(theme.FormTitle.Render("Sign in"))
	b.WriteString("\n")
	b.WriteString(field("Email", f.email, f.focus == focusEmail))
	b.WriteString("\n")
	b.WriteString(field("Password", f.password, f.focus == focusPassword))
	b.WriteString("\n\n")

	switch {
	case st.Status == session.StatusAuthenticating:
		b.WriteString(theme.Warning.Render("Signing in..."))
	case f.localErr != "":
		b.WriteString(styles.RenderError(f.localErr))
	case st.Error != "":
		b.WriteString(styles.RenderError(st.Error))
	default:
		b.WriteString(theme.Hint.Render("enter to continue, tab to switch field"))
	}

	return lipgloss.PlaceHorizontal(width, lipgloss.Center, theme.FormBox.Render(b.String()))
}
