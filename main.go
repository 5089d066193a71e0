// sessiongate - terminal client for the student records service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/cli"
	"github.com/jeranaias/sessiongate/internal/config"
	"github.com/jeranaias/sessiongate/internal/credstore"
	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/gateway"
	"github.com/jeranaias/sessiongate/internal/logging"
	"github.com/jeranaias/sessiongate/internal/nav"
	"github.com/jeranaias/sessiongate/internal/session"
	"github.com/jeranaias/sessiongate/internal/ui/app"
	"github.com/jeranaias/sessiongate/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cmd, args := cli.Parse(argv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, configPath, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.ExitUsageError
	}

	env := &cli.Env{
		Out:        os.Stdout,
		Err:        os.Stderr,
		Config:     cfg,
		ConfigPath: configPath,
	}

	switch cmd {
	case cli.CmdTUI:
		err = runTUI(ctx, cfg)
	case cli.CmdAuth:
		err = runAuth(ctx, env, args)
	default:
		err = cli.Run(ctx, env, cmd, args)
	}

	if err != nil && cmd == cli.CmdTUI {
		fmt.Fprintf(os.Stderr, "Error running sessiongate: %v\n", err)
	}
	return cli.ExitCode(err)
}

// loadConfig reads the configuration file (a missing file means defaults)
// and applies the environment and --api-url overrides.
func loadConfig(args cli.Args) (*config.Config, string, error) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if args.APIURL != "" {
		cfg.API.BaseURL = args.APIURL
	}
	if args.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// =============================================================================
// SESSION STACK
// =============================================================================

// stack is the wired session core shared by the CLI and the TUI.
type stack struct {
	bus     *events.Bus
	store   credstore.Backend
	watcher *credstore.Watcher
	client  *api.Client
	session *session.Manager
	metrics *prometheus.Registry
	log     *slog.Logger
}

func openStack(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stack, error) {
	store, err := credstore.Open(ctx, credstore.Options{
		Backend:     cfg.Credentials.Backend,
		Path:        cfg.Credentials.Path,
		SQLitePath:  cfg.Credentials.SQLitePath,
		RedisURL:    cfg.Credentials.RedisURL,
		RedisPrefix: cfg.Credentials.RedisPrefix,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	s := &stack{bus: events.NewBus(), store: store, metrics: prometheus.NewRegistry(), log: log}

	if cfg.Credentials.Watch && (cfg.Credentials.Backend == "" || cfg.Credentials.Backend == credstore.BackendFile) {
		path := cfg.Credentials.Path
		if path == "" {
			path = credstore.DefaultPath()
		}
		w, err := credstore.NewWatcher(path, s.bus, log)
		if err == nil {
			err = w.Watch()
		}
		if err != nil {
			log.Warn("credential watcher disabled", "error", err)
		} else {
			s.watcher = w
		}
	}

	gw := gateway.New(cfg.API.BaseURL, store, s.bus,
		gateway.WithTimeout(time.Duration(cfg.API.TimeoutSecs)*time.Second),
		gateway.WithRateLimit(cfg.API.RequestsPerSecond, cfg.API.Burst),
		gateway.WithMaxResponseBytes(cfg.API.MaxResponseBytes),
		gateway.WithUserAgent("sessiongate/"+Version),
		gateway.WithLogger(log),
		gateway.WithRegisterer(s.metrics),
	)
	s.client = api.New(gw)

	machine := session.NewMachine(ctx, store, log)
	machine.Attach(s.bus)
	s.session = session.NewManager(machine, s.client, log)
	return s, nil
}

func (s *stack) Close() {
	if snap, err := gateway.ReadSnapshot(s.metrics); err == nil {
		s.log.Debug("gateway summary", "requests", snap.Requests, "by_code", snap.ByCode, "unauthorized", snap.Unauthorized)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.store.Close()
}

// =============================================================================
// CLI
// =============================================================================

func runAuth(ctx context.Context, env *cli.Env, args cli.Args) error {
	level := "warn"
	if args.Verbose {
		level = "debug"
	}
	log := logging.New(level, env.Config.Log.Format, os.Stderr)

	s, err := openStack(ctx, env.Config, log)
	if err != nil {
		return err
	}
	defer s.Close()

	env.Session = s.session
	env.Metrics = s.metrics
	if cli.IsTTY() {
		env.Prompt = cli.TerminalPrompter{Out: os.Stderr}
	}
	return cli.Run(ctx, env, cli.CmdAuth, args)
}

// =============================================================================
// TUI
// =============================================================================

func runTUI(ctx context.Context, cfg *config.Config) error {
	if !cli.IsTTY() || !cli.IsStdoutTTY() {
		return errors.New("the interactive client requires a terminal (see 'sessiongate help' for the auth commands)")
	}

	log, closer, err := openTUILog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (logging disabled)\n", err)
		log = logging.Discard()
	} else {
		defer closer.Close()
	}
	log.Info("starting", "version", Version, "api", cfg.API.BaseURL)

	s, err := openStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	mgr := s.session
	router := nav.New(nav.RouteRoot, func() bool { return mgr.State().IsAuthenticated }, log)
	router.Attach(s.bus)

	m := app.New(ctx, app.Options{
		Session: mgr,
		Data:    s.client,
		Router:  router,
		Theme:   styles.NewTheme(cfg.UI.Theme),
		Logger:  log,
	})
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	log.Info("exited")
	return nil
}

// openTUILog opens the log file; the terminal belongs to the UI.
func openTUILog(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	path := cfg.Log.Path
	if path == "" {
		p, err := config.DefaultLogPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	return logging.NewFile(cfg.Log.Level, cfg.Log.Format, path)
}
