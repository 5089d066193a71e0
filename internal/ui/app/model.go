// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/gate"
	"github.com/jeranaias/sessiongate/internal/logging"
	"github.com/jeranaias/sessiongate/internal/nav"
	"github.com/jeranaias/sessiongate/internal/session"
	"github.com/jeranaias/sessiongate/internal/ui/components"
	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// DataAPI is the part of the service the protected views call.
type DataAPI interface {
	Statistics(ctx context.Context) (*api.Statistics, error)
	Students(ctx context.Context) ([]api.Student, error)
	UploadStudents(ctx context.Context, filename string, r io.Reader) (*api.UploadResult, error)
}

// Options configures a Model.
type Options struct {
	Session *session.Manager
	Data    DataAPI
	Router  *nav.Router
	Theme   *styles.Theme
	Logger  *slog.Logger
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the root Bubble Tea model. It renders the route held by the
// router, and guards protected routes with a gate.Gate re-armed on every
// mount.
//
// Session and router notifications only wake the model; it then reads both
// sources directly, so it never acts on a stale snapshot.
type Model struct {
	ctx     context.Context
	session *session.Manager
	data    DataAPI
	router  *nav.Router
	watcher *session.Watcher
	log     *slog.Logger
	keys    KeyMap
	theme   *styles.Theme

	state    session.State
	route    nav.Route
	routeSeq uint64
	mounted  bool
	mount    uint64
	gate     *gate.Gate
	action   gate.Action

	spinner components.Spinner
	header  *components.Header
	status  *components.StatusBar

	login     loginForm
	dashboard dashboardView
	upload    uploadView

	width    int
	height   int
	quitting bool
}

// New creates the root model. Call Close when the program has exited.
func New(ctx context.Context, opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme("dark")
	}

	sp := components.NewSpinner()
	sp.SetMessage("Checking session")

	m := Model{
		ctx:       ctx,
		session:   opts.Session,
		data:      opts.Data,
		router:    opts.Router,
		watcher:   opts.Session.Watch(),
		log:       logging.OrDiscard(opts.Logger).With("component", "ui"),
		keys:      DefaultKeyMap(),
		theme:     theme,
		state:     opts.Session.State(),
		gate:      gate.New(),
		spinner:   sp,
		header:    components.NewHeader(theme),
		status:    components.NewStatusBar(theme),
		login:     newLoginForm(),
		dashboard: newDashboardView(),
		upload:    newUploadView(),
		width:     80,
		height:    24,
	}
	m.resize(m.width, m.height)
	return m
}

// Close stops the session watcher.
func (m Model) Close() {
	m.watcher.Close()
}

// Route returns the route currently rendered.
func (m Model) Route() nav.Route {
	return m.route
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.watcher.Next(),
		waitForRoute(m.ctx, m.router),
		bootstrapCmd(m.ctx, m.session),
		func() tea.Msg { return mountMsg{} },
	)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case mountMsg:
		return m, m.settle()

	case session.StateMsg:
		if msg.State.Version > m.state.Version {
			m.state = msg.State
		}
		return m, tea.Batch(m.watcher.Next(), m.settle())

	case routeMsg:
		return m, tea.Batch(waitForRoute(m.ctx, m.router), m.settle())

	case session.SignInResultMsg:
		m.login.submitting = false
		if msg.Err != nil {
			m.login.password.SetValue("")
			m.log.Debug("sign-in failed", "error", msg.Err)
		} else {
			m.login.reset()
			m.router.Navigate(nav.RouteDashboard)
		}
		return m, m.settle()

	case session.RevalidateResultMsg:
		if msg.Err != nil {
			m.log.Debug("re-validation finished", "error", msg.Err)
		}
		return m, m.settle()

	case session.SignedOutMsg:
		m.router.Navigate(nav.RouteLogin)
		return m, m.settle()

	case statsMsg:
		if msg.mount == m.mount {
			m.dashboard.setStats(msg.stats, msg.err)
			m.dashboard.refreshTable(m.theme, m.width)
		}
		return m, m.settle()

	case studentsMsg:
		if msg.mount == m.mount {
			m.dashboard.setStudents(msg.students, msg.err)
			m.dashboard.refreshTable(m.theme, m.width)
		}
		return m, m.settle()

	case uploadMsg:
		if msg.mount == m.mount {
			m.upload.setResult(msg.result, msg.err)
			m.upload.refreshList(m.theme, m.width)
			if msg.err == nil {
				m.dashboard.invalidate()
			}
		}
		return m, m.settle()
	}

	return m.updateFocused(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.watcher.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.SignOut):
		if m.route == nav.RouteLogin && m.state.Credential == "" {
			return m, nil
		}
		return m, m.session.SignOutCmd(m.ctx)
	}

	switch m.route {
	case nav.RouteLogin:
		return m.updateLogin(msg)
	case nav.RouteDashboard, nav.RouteUpload:
		if m.action != gate.ActionRender {
			return m, nil
		}
		if key.Matches(msg, m.keys.NextView) {
			next := nav.RouteUpload
			if m.route == nav.RouteUpload {
				next = nav.RouteDashboard
			}
			m.router.Navigate(next)
			return m, m.settle()
		}
		if m.route == nav.RouteDashboard {
			return m.updateDashboard(msg)
		}
		return m.updateUpload(msg)
	}
	return m, nil
}

// updateFocused forwards any other message to the focused input.
func (m Model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.route {
	case nav.RouteLogin:
		if m.login.focus == focusEmail {
			m.login.email, cmd = m.login.email.Update(msg)
		} else {
			m.login.password, cmd = m.login.password.Update(msg)
		}
	case nav.RouteUpload:
		m.upload.path, cmd = m.upload.path.Update(msg)
	}
	return m, cmd
}

// =============================================================================
// ROUTING AND GATING
// =============================================================================

// settle brings the model in line with the session and the router: it syncs
// the route, moves a signed-in user off the sign-in form, and evaluates the
// gate of a protected route, following any redirect it causes.
func (m *Model) settle() tea.Cmd {
	if s := m.session.State(); s.Version > m.state.Version || !m.mounted {
		m.state = s
	}

	var cmds []tea.Cmd
	for i := 0; i < 3; i++ {
		cmds = append(cmds, m.syncRoute())

		if m.route == nav.RouteLogin && m.state.IsAuthenticated {
			m.router.Navigate(nav.RouteDashboard)
			continue
		}
		if !m.route.Protected() {
			m.spinner.Stop()
			break
		}

		cmd, redirected := m.evaluateGate()
		cmds = append(cmds, cmd)
		if !redirected {
			break
		}
	}

	m.header.SetSession(userEmail(m.state), m.state.Status.String())
	return tea.Batch(cmds...)
}

// syncRoute remounts the view when the router moved since the last sync.
func (m *Model) syncRoute() tea.Cmd {
	route, seq := m.router.Position()
	if m.mounted && route == m.route && seq == m.routeSeq {
		return nil
	}

	from := m.route
	m.route, m.routeSeq, m.mounted = route, seq, true
	m.mount++
	m.gate.Reset()
	m.action = gate.ActionWait
	m.log.Debug("mount", "from", string(from), "to", string(route), "mount", m.mount)

	switch route {
	case nav.RouteLogin:
		return m.login.focusFirst()
	case nav.RouteUpload:
		m.upload = newUploadView()
		m.upload.refreshList(m.theme, m.width)
		return m.upload.path.Focus()
	default:
		m.dashboard.invalidate()
		return nil
	}
}

// evaluateGate applies the gate's action for the current state. Reports
// whether it redirected.
func (m *Model) evaluateGate() (tea.Cmd, bool) {
	m.action = m.gate.Evaluate(gate.Input{
		IsAuthenticated: m.state.IsAuthenticated,
		Loading:         m.state.Loading,
		Version:         m.state.Version,
	})

	switch m.action {
	case gate.ActionRevalidate:
		m.log.Debug("gate requested re-validation", "version", m.state.Version)
		return tea.Batch(m.spinner.Start(), m.session.RevalidateCmd(m.ctx)), false
	case gate.ActionRedirect:
		m.spinner.Stop()
		m.router.Redirect(nav.RouteLogin)
		return nil, true
	case gate.ActionRender:
		m.spinner.Stop()
		return m.enterContent(), false
	default:
		return m.spinner.Start(), false
	}
}

// enterContent starts the loads the mounted protected view needs.
func (m *Model) enterContent() tea.Cmd {
	if m.route != nav.RouteDashboard || !m.dashboard.needsLoad() {
		return nil
	}
	m.dashboard.startLoad()
	return tea.Batch(
		loadStatsCmd(m.ctx, m.data, m.mount),
		loadStudentsCmd(m.ctx, m.data, m.mount),
	)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.header.SetWidth(width)
	m.status.Width = width

	// Header (3) and status bar (2) frame the body.
	body := height - 5
	m.dashboard.resize(width, body)
	m.upload.resize(width, body)
	m.dashboard.refreshTable(m.theme, width)
	m.upload.refreshList(m.theme, width)
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var body string
	switch {
	case m.route == nav.RouteLogin:
		body = m.login.view(m.theme, m.state, m.width)
	case m.action != gate.ActionRender:
		body = lipgloss.Place(m.width, max(m.height-5, 3), lipgloss.Center, lipgloss.Center, m.spinner.View())
	default:
		body = m.tabs() + "\n\n"
		if m.route == nav.RouteDashboard {
			body += m.dashboard.view(m.theme)
		} else {
			body += m.upload.view(m.theme)
		}
	}

	m.status.SetBindings(m.bindings()...)
	return lipgloss.JoinVertical(lipgloss.Left, m.header.View(), body, m.status.View())
}

func (m Model) tabs() string {
	render := func(r nav.Route, label string) string {
		if m.route == r {
			return m.theme.TabActive.Render(label)
		}
		return m.theme.Tab.Render(label)
	}
	return render(nav.RouteDashboard, "Dashboard") + render(nav.RouteUpload, "Upload")
}

func (m Model) bindings() []key.Binding {
	signOut := m.keys.SignOut
	signOut.SetEnabled(m.state.Credential != "")
	next := m.keys.NextView
	next.SetEnabled(m.route.Protected() && m.action == gate.ActionRender)
	refresh := m.keys.Refresh
	refresh.SetEnabled(m.route == nav.RouteDashboard && m.action == gate.ActionRender)
	return []key.Binding{m.keys.Quit, signOut, next, refresh}
}

func userEmail(st session.State) string {
	if st.User == nil {
		return ""
	}
	return st.User.Email
}
