// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command authstub runs a local stand-in for the student records service so
// the client can be exercised without the real backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jeranaias/sessiongate/internal/cli"
	"github.com/jeranaias/sessiongate/internal/logging"
	"github.com/jeranaias/sessiongate/internal/server"
)

const defaultUser = "admin@test.com:admin123"

const usage = `authstub - local development server for sessiongate

Usage: authstub [OPTIONS]

Options:
  --addr ADDR             Listen address (default 127.0.0.1:5000)
  --db PATH               SQLite database file (default: in memory)
  --ttl DURATION          Access token lifetime (default 24h)
  --user EMAIL:PASSWORD   Seed a user; repeatable (default admin@test.com:admin123)
  --seed-demo             Insert a handful of demo students
  --rps N                 Per-client request rate limit (default: off)
  --burst N               Rate limit burst (default: rps)
  --log-level LEVEL       debug, info, warn, error (default info)
  --log-format FORMAT     text or json (default text)
  -h, --help              Show this help
`

func main() {
	p := cli.NewArgParser(os.Args[1:], "addr", "db", "ttl", "user", "rps", "burst", "log-level", "log-format")
	if p.BoolFlag("help", "h") {
		fmt.Print(usage)
		return
	}
	if err := run(p); err != nil {
		fmt.Fprintf(os.Stderr, "authstub: %v\n", err)
		os.Exit(1)
	}
}

func run(p *cli.ArgParser) error {
	log := logging.New(p.FlagOrDefault("log-level", "info"), p.FlagOrDefault("log-format", "text"), os.Stderr)

	ttl := server.DefaultTokenTTL
	if raw := p.Flag("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		ttl = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := server.OpenStore(server.StoreConfig{Path: p.Flag("db")}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	users := p.Flags("user")
	if len(users) == 0 {
		users = []string{defaultUser}
	}
	for _, u := range users {
		if err := seedUser(ctx, store, u, log); err != nil {
			return err
		}
	}
	if p.BoolFlag("seed-demo") {
		seedDemo(ctx, store, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(server.Config{
		Addr:              p.FlagOrDefault("addr", server.DefaultAddr),
		RequestsPerSecond: p.FlagFloatOrDefault("rps", 0),
		Burst:             p.FlagIntOrDefault("burst", 0),
	}, store, server.NewTokenStore(ttl), reg, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func seedUser(ctx context.Context, store *server.Store, arg string, log *slog.Logger) error {
	email, password, ok := strings.Cut(arg, ":")
	if !ok || email == "" {
		return fmt.Errorf("invalid --user %q (want EMAIL:PASSWORD)", arg)
	}
	created, err := store.EnsureUser(ctx, email, password)
	if err != nil {
		return fmt.Errorf("seed user %s: %w", email, err)
	}
	if created {
		log.Info("seeded user", "email", email)
	}
	return nil
}

func seedDemo(ctx context.Context, store *server.Store, log *slog.Logger) {
	avg := func(v float64) *float64 { return &v }
	demo := []server.NewStudent{
		{Row: 2, Name: "Ana Torres", NUE: 100001, StartYear: 2021, CurrentAverage: avg(8.7)},
		{Row: 3, Name: "Luis Ramírez", NUE: 100002, StartYear: 2021, CurrentAverage: avg(9.1)},
		{Row: 4, Name: "María López", NUE: 100003, StartYear: 2019, CurrentAverage: avg(9.4), GraduationAverage: avg(9.4), Graduated: true},
		{Row: 5, Name: "Jorge Díaz", NUE: 100004, StartYear: 2022, CurrentAverage: avg(7.8)},
		{Row: 6, Name: "Sofía Méndez", NUE: 100005, StartYear: 2018, CurrentAverage: avg(8.9), GraduationAverage: avg(8.9), Graduated: true},
	}
	inserted, rejected := store.InsertStudents(ctx, demo)
	log.Info("seeded demo students", "inserted", inserted, "skipped", len(rejected))
}
