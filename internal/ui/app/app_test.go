// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/gate"
	"github.com/jeranaias/sessiongate/internal/gateway"
	"github.com/jeranaias/sessiongate/internal/nav"
	"github.com/jeranaias/sessiongate/internal/server"
	"github.com/jeranaias/sessiongate/internal/session"
	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

const (
	testEmail    = "admin@test.com"
	testPassword = "admin123"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type uiHarness struct {
	ctx    context.Context
	m      Model
	mgr    *session.Manager
	router *nav.Router
	store  *credstore.MemoryStore
	tokens *server.TokenStore
	token  string
}

// newUIHarness wires the model to a full session stack served by the
// development stub. With signedIn the store starts with a valid credential.
func newUIHarness(t *testing.T, start nav.Route, signedIn bool) *uiHarness {
	t.Helper()
	t.Setenv("NO_COLOR", "1")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := server.OpenStore(server.StoreConfig{BcryptCost: bcrypt.MinCost}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.EnsureUser(ctx, testEmail, testPassword)
	require.NoError(t, err)
	inserted, failed := db.InsertStudents(ctx, []server.NewStudent{
		{Row: 2, Name: "Ana Torres", NUE: 100, StartYear: 2020},
	})
	require.Empty(t, failed)
	require.Equal(t, 1, inserted)

	tokens := server.NewTokenStore(time.Hour)
	ts := httptest.NewServer(server.New(server.Config{}, db, tokens, nil, nil).Handler())
	t.Cleanup(ts.Close)

	var token string
	if signedIn {
		token, err = tokens.Issue(1)
		require.NoError(t, err)
	}

	store := credstore.NewMemoryStore(token)
	bus := events.NewBus()
	client := api.New(gateway.New(ts.URL+"/api", store, bus))
	machine := session.NewMachine(ctx, store, nil)
	machine.Attach(bus)
	mgr := session.NewManager(machine, client, nil)

	router := nav.New(start, func() bool { return mgr.State().IsAuthenticated }, nil)
	router.Attach(bus)

	m := New(ctx, Options{
		Session: mgr,
		Data:    client,
		Router:  router,
		Theme:   styles.NewTheme("dark"),
	})
	t.Cleanup(m.Close)

	h := &uiHarness{ctx: ctx, m: m, mgr: mgr, router: router, store: store, tokens: tokens, token: token}
	h.send(t, tea.WindowSizeMsg{Width: 120, Height: 40})
	h.send(t, mountMsg{})
	return h
}

// drain runs cmd and returns the messages it produces, expanding batches.
// Spinner ticks are dropped so animation never feeds the loop.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case nil, spinner.TickMsg:
		return nil
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, drain(c)...)
		}
		return out
	default:
		return []tea.Msg{msg}
	}
}

// send delivers msg and every message its commands produce, in order.
func (h *uiHarness) send(t *testing.T, msg tea.Msg) {
	t.Helper()
	queue := []tea.Msg{msg}
	for i := 0; len(queue) > 0; i++ {
		require.Less(t, i, 100, "message loop did not settle")
		next := queue[0]
		queue = queue[1:]
		model, cmd := h.m.Update(next)
		h.m = model.(Model)
		queue = append(queue, drain(cmd)...)
	}
}

func (h *uiHarness) run(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	for _, msg := range drain(cmd) {
		h.send(t, msg)
	}
}

func (h *uiHarness) typeText(t *testing.T, s string) {
	t.Helper()
	h.send(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *uiHarness) press(t *testing.T, k tea.KeyType) {
	t.Helper()
	h.send(t, tea.KeyMsg{Type: k})
}

func (h *uiHarness) signIn(t *testing.T, email, password string) {
	t.Helper()
	h.typeText(t, email)
	h.press(t, tea.KeyEnter)
	h.typeText(t, password)
	h.press(t, tea.KeyEnter)
}

// =============================================================================
// ROUTE GATE
// =============================================================================

func TestModel_RedirectsToLoginWithoutCredential(t *testing.T) {
	h := newUIHarness(t, nav.RouteDashboard, false)

	assert.Equal(t, nav.RouteLogin, h.m.Route())
	assert.Equal(t, 1, h.router.Redirects())
	assert.Equal(t, session.StatusUnauthenticated, h.mgr.State().Status)
	assert.Contains(t, h.m.View(), "Sign in")
}

func TestModel_StoredCredentialRendersDashboard(t *testing.T) {
	h := newUIHarness(t, nav.RouteDashboard, true)

	assert.Equal(t, nav.RouteDashboard, h.m.Route())
	assert.Equal(t, gate.ActionWait, h.m.action, "content stays hidden until the credential is confirmed")
	assert.Contains(t, h.m.View(), "Checking session")
	assert.NotContains(t, h.m.View(), "Ana Torres")

	h.run(t, bootstrapCmd(h.ctx, h.mgr))

	assert.Equal(t, session.StatusAuthenticated, h.mgr.State().Status)
	assert.Equal(t, gate.ActionRender, h.m.action)
	assert.True(t, h.m.dashboard.loaded)
	require.NotNil(t, h.m.dashboard.stats)
	assert.Equal(t, 1, h.m.dashboard.stats.Total)
	assert.Contains(t, h.m.View(), "Ana Torres")
	assert.Contains(t, h.m.View(), testEmail)
	assert.Zero(t, h.router.Redirects())
}

func TestModel_RevokedCredentialRedirectsOnce(t *testing.T) {
	h := newUIHarness(t, nav.RouteDashboard, true)
	h.run(t, bootstrapCmd(h.ctx, h.mgr))
	require.Equal(t, gate.ActionRender, h.m.action)

	h.tokens.Revoke(h.token)
	h.press(t, tea.KeyCtrlR)

	assert.Equal(t, nav.RouteLogin, h.m.Route())
	assert.Equal(t, 1, h.router.Redirects(), "concurrent 401s collapse into one redirect")
	_, ok := h.store.Get(h.ctx)
	assert.False(t, ok)
	assert.False(t, h.mgr.State().IsAuthenticated)
}

func TestModel_DropsResultsFromEarlierMount(t *testing.T) {
	h := newUIHarness(t, nav.RouteDashboard, true)
	h.run(t, bootstrapCmd(h.ctx, h.mgr))
	require.True(t, h.m.dashboard.loaded)

	stale := h.m.mount - 1
	h.send(t, studentsMsg{mount: stale, students: []api.Student{{Name: "Ghost", NUE: 1}}})

	require.Len(t, h.m.dashboard.students, 1)
	assert.Equal(t, "Ana Torres", h.m.dashboard.students[0].Name)
}

// =============================================================================
// SIGN-IN FORM
// =============================================================================

func TestModel_SignIn(t *testing.T) {
	h := newUIHarness(t, nav.RouteLogin, false)
	require.Equal(t, nav.RouteLogin, h.m.Route())

	h.signIn(t, "  Admin@Test.com ", testPassword)

	assert.Equal(t, nav.RouteDashboard, h.m.Route())
	assert.Equal(t, gate.ActionRender, h.m.action)
	assert.True(t, h.m.dashboard.loaded)
	assert.Empty(t, h.m.login.email.Value(), "form is reset after sign-in")
	assert.Empty(t, h.m.login.password.Value())

	token, ok := h.store.Get(h.ctx)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	assert.Zero(t, h.router.Redirects())
}

func TestModel_SignInRejected(t *testing.T) {
	h := newUIHarness(t, nav.RouteLogin, false)

	h.signIn(t, testEmail, "wrong")

	assert.Equal(t, nav.RouteLogin, h.m.Route())
	assert.Equal(t, session.StatusError, h.mgr.State().Status)
	assert.Equal(t, server.MsgInvalidCredentials, h.m.state.Error)
	assert.Contains(t, h.m.View(), server.MsgInvalidCredentials)
	assert.Empty(t, h.m.login.password.Value(), "password is cleared after a failure")
	assert.Equal(t, testEmail, h.m.login.email.Value())

	// Editing the form dismisses the message.
	h.typeText(t, "x")
	assert.Empty(t, h.m.state.Error)
	assert.Equal(t, session.StatusUnauthenticated, h.mgr.State().Status)
	assert.NotContains(t, h.m.View(), server.MsgInvalidCredentials)
}

func TestModel_SignInRequiresBothFields(t *testing.T) {
	h := newUIHarness(t, nav.RouteLogin, false)

	h.typeText(t, testEmail)
	h.press(t, tea.KeyEnter)
	h.press(t, tea.KeyEnter)

	assert.Equal(t, msgMissingFields, h.m.login.localErr)
	assert.Contains(t, h.m.View(), msgMissingFields)
	assert.Equal(t, session.StatusUnauthenticated, h.mgr.State().Status, "no request was made")
	assert.Zero(t, h.mgr.State().Version)
}

func TestModel_SignOut(t *testing.T) {
	h := newUIHarness(t, nav.RouteDashboard, true)
	h.run(t, bootstrapCmd(h.ctx, h.mgr))
	require.Equal(t, nav.RouteDashboard, h.m.Route())

	h.press(t, tea.KeyCtrlL)

	assert.Equal(t, nav.RouteLogin, h.m.Route())
	assert.Equal(t, session.StatusUnauthenticated, h.mgr.State().Status)
	_, ok := h.store.Get(h.ctx)
	assert.False(t, ok)
	assert.Zero(t, h.router.Redirects(), "sign-out is a plain navigation")
}

func TestModel_Quit(t *testing.T) {
	h := newUIHarness(t, nav.RouteLogin, false)

	_, cmd := h.m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

// =============================================================================
// UPLOAD VIEW
// =============================================================================

func TestModel_Upload(t *testing.T) {
	h := newUIHarness(t, nav.RouteDashboard, true)
	h.run(t, bootstrapCmd(h.ctx, h.mgr))

	h.press(t, tea.KeyTab)
	require.Equal(t, nav.RouteUpload, h.m.Route())
	require.Equal(t, gate.ActionRender, h.m.action)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "students.csv")
	content := strings.Join([]string{
		"nombre_estudiante,anio_inicio,NUE,estado,promedio_actual,promedio_graduacion",
		"Beto Ruiz,2021,101,,8.1,",
		"Carla Vega,2019,102,graduado,9.4,9.4",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(content), 0o600))

	t.Run("accepted", func(t *testing.T) {
		h.typeText(t, csvPath)
		h.press(t, tea.KeyEnter)

		require.NotNil(t, h.m.upload.result)
		assert.Equal(t, 2, h.m.upload.result.Inserted)
		assert.Contains(t, h.m.View(), "Se insertaron 2 estudiantes exitosamente")
		assert.False(t, h.m.dashboard.loaded, "dashboard reloads after an upload")
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		h.press(t, tea.KeyEnter)

		require.NotNil(t, h.m.upload.rejected)
		assert.Nil(t, h.m.upload.result)
		assert.NotEmpty(t, h.m.upload.rejected.Errors)
		assert.Zero(t, h.m.upload.rejected.ValidCount)
		assert.Contains(t, h.m.View(), "File rejected")
	})

	t.Run("unsupported type", func(t *testing.T) {
		h.m.upload.path.SetValue(filepath.Join(dir, "notes.txt"))
		h.press(t, tea.KeyEnter)

		assert.Contains(t, h.m.upload.err, "Unsupported file type")
		assert.Nil(t, h.m.upload.rejected)
	})

	t.Run("back to dashboard", func(t *testing.T) {
		h.press(t, tea.KeyTab)

		assert.Equal(t, nav.RouteDashboard, h.m.Route())
		require.NotNil(t, h.m.dashboard.stats)
		assert.Equal(t, 3, h.m.dashboard.stats.Total)
	})
}
