// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/nav"
	"github.com/jeranaias/sessiongate/internal/session"
)

// =============================================================================
// MESSAGES
// =============================================================================

// mountMsg performs the first route sync and gate evaluation.
type mountMsg struct{}

// routeMsg wakes the model after the router changed. The model reads the
// router itself, so a lost wake-up only delays the sync.
type routeMsg struct{}

// Results of data loads carry the mount they were started for; results for
// an earlier mount are dropped.
type statsMsg struct {
	mount uint64
	stats *api.Statistics
	err   error
}

type studentsMsg struct {
	mount    uint64
	students []api.Student
	err      error
}

type uploadMsg struct {
	mount  uint64
	file   string
	result *api.UploadResult
	err    error
}

// =============================================================================
// COMMANDS
// =============================================================================

func waitForRoute(ctx context.Context, router *nav.Router) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-router.Changes():
			return routeMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func bootstrapCmd(ctx context.Context, mgr *session.Manager) tea.Cmd {
	return func() tea.Msg {
		return session.RevalidateResultMsg{Err: mgr.Bootstrap(ctx)}
	}
}

func loadStatsCmd(ctx context.Context, data DataAPI, mount uint64) tea.Cmd {
	return func() tea.Msg {
		stats, err := data.Statistics(ctx)
		return statsMsg{mount: mount, stats: stats, err: err}
	}
}

func loadStudentsCmd(ctx context.Context, data DataAPI, mount uint64) tea.Cmd {
	return func() tea.Msg {
		students, err := data.Students(ctx)
		return studentsMsg{mount: mount, students: students, err: err}
	}
}

func uploadCmd(ctx context.Context, data DataAPI, mount uint64, path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return uploadMsg{mount: mount, file: path, err: err}
		}
		defer f.Close()
		result, err := data.UploadStudents(ctx, path, f)
		return uploadMsg{mount: mount, file: path, result: result, err: err}
	}
}
