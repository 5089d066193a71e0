// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/gateway"
	"github.com/jeranaias/sessiongate/internal/ui/components"
	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// =============================================================================
// UPLOAD VIEW
// =============================================================================

type uploadView struct {
	path     textinput.Model
	busy     bool
	result   *api.UploadResult
	rejected *api.UploadRejectedError
	err      string
	list     viewport.Model
}

func newUploadView() uploadView {
	in := textinput.New()
	in.Placeholder = "students.csv"
	in.Prompt = "File: "
	in.CharLimit = 4096
	in.Width = 60
	in.Cursor.SetMode(cursor.CursorStatic)
	return uploadView{path: in, list: viewport.New(80, 10)}
}

func (u *uploadView) resize(width, height int) {
	u.path.Width = max(width-10, 20)
	u.list.Width = width
	u.list.Height = max(height-9, 3)
}

func (u *uploadView) setResult(result *api.UploadResult, err error) {
	u.busy = false
	u.result, u.rejected, u.err = nil, nil, ""
	if err == nil {
		u.result = result
		return
	}

	var rej *api.UploadRejectedError
	switch {
	case errors.As(err, &rej):
		u.rejected = rej
	case errors.Is(err, api.ErrUnsupportedFile):
		u.err = "Unsupported file type. Use " + strings.Join(api.UploadExtensions, ", ")
	case gateway.StatusCode(err) == http.StatusUnauthorized:
		// The session handles it.
	default:
		var herr *gateway.HTTPError
		if errors.As(err, &herr) {
			u.err = herr.Message
		} else {
			u.err = err.Error()
		}
	}
}

func (m Model) updateUpload(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	u := &m.upload
	if u.busy {
		return m, nil
	}

	if key.Matches(msg, m.keys.Submit) {
		path := strings.TrimSpace(u.path.Value())
		if path == "" {
			u.err = "Enter the path of a .csv, .xlsx or .xls file"
			return m, nil
		}
		path = filepath.Clean(path)
		if !api.AllowedUpload(path) {
			u.setResult(nil, api.ErrUnsupportedFile)
			return m, nil
		}
		u.busy = true
		u.err = ""
		return m, uploadCmd(m.ctx, m.data, m.mount, path)
	}

	switch msg.Type {
	case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		u.list, cmd = u.list.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	u.path, cmd = u.path.Update(msg)
	return m, cmd
}

// refreshList renders the validation errors of a rejected upload.
func (u *uploadView) refreshList(theme *styles.Theme, width int) {
	if u.rejected == nil {
		u.list.SetContent("")
		return
	}
	lines := make([]string, 0, len(u.rejected.Errors))
	for _, e := range u.rejected.Errors {
		where := "file"
		if e.Row > 0 {
			where = fmt.Sprintf("row %d", e.Row)
		}
		line := fmt.Sprintf("%-8s %-22s %s", where, e.Field, e.Message)
		if v := e.ValueString(); v != "" {
			line += " (" + v + ")"
		}
		lines = append(lines, theme.TableCell.Render(components.Truncate(line, width-2)))
	}
	u.list.SetContent(strings.Join(lines, "\n"))
	u.list.GotoTop()
}

func (u uploadView) view(theme *styles.Theme) string {
	var b strings.Builder
	b.WriteString(theme.Label.Render("Upload students (.csv, .xlsx, .xls)"))
	b.WriteString("\n")
	b.WriteString(u.path.View())
	b.WriteString("\n\n")

	switch {
	case u.busy:
		b.WriteString(theme.Warning.Render("Uploading..."))
	case u.err != "":
		b.WriteString(styles.RenderError(u.err))
	case u.result != nil:
		msg := u.result.Message
		if msg == "" {
			msg = "Upload complete"
		}
		b.WriteString(styles.RenderSuccess(fmt.Sprintf("%s (%d inserted)", msg, u.result.Inserted)))
	case u.rejected != nil:
		b.WriteString(styles.RenderError(fmt.Sprintf("File rejected: %d error(s), %d valid row(s). Nothing was inserted.",
			len(u.rejected.Errors), u.rejected.ValidCount)))
		b.WriteString("\n")
		b.WriteString(u.list.View())
	default:
		b.WriteString(theme.Hint.Render("enter to upload"))
	}
	return b.String()
}
