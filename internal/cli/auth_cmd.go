// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - session commands.
//
// Command: auth [subcommand]
// Aliases: login, logout, whoami, status
//
// Subcommands:
//   status (default)    Show session state
//   login               Sign in with email and password
//   logout              Forget the stored credential
//   whoami              Confirm the stored credential with the service

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/sessiongate/internal/api"
	"github.com/jeranaias/sessiongate/internal/gateway"
	"github.com/jeranaias/sessiongate/internal/session"
)

// AuthStatusData is the --json payload of auth status and auth whoami.
type AuthStatusData struct {
	Status          string    `json:"status"`
	IsAuthenticated bool      `json:"is_authenticated"`
	User            *api.User `json:"user,omitempty"`
	Error           string    `json:"error,omitempty"`
	APIURL          string    `json:"api_url"`
	// Gateway counts the requests this process sent.
	Gateway *gateway.Snapshot `json:"gateway,omitempty"`
}

// HandleAuth runs an auth subcommand.
func HandleAuth(ctx context.Context, env *Env, args Args) error {
	if env.Session == nil {
		return NewCommandError("auth", "", "session not configured", nil)
	}

	p := NewArgParser(args.Raw, "--email", "-e", "--password", "-p")
	sub := strings.ToLower(p.Subcommand())
	if sub == "" {
		sub = "status"
	}
	name := "auth " + sub

	var err error
	switch sub {
	case "status":
		err = authStatus(ctx, env, args)
	case "login":
		err = authLogin(ctx, env, args, p)
	case "logout":
		err = authLogout(ctx, env, args)
	case "whoami":
		err = authWhoami(ctx, env, args)
	default:
		err = usageError("unknown auth subcommand: %s", sub)
	}
	if err != nil {
		DisplayError(env.Err, name, err, args.JSON)
	}
	return err
}

// authStatus completes a pending start-up re-validation before reporting, so
// a stale credential never reports as signed in.
func authStatus(ctx context.Context, env *Env, args Args) error {
	err := env.Session.Bootstrap(ctx)
	if err != nil && !expectedRevalidateError(err) {
		return NewCommandError("auth", "status", "", err)
	}
	renderState(env, args, "auth status", env.Session.State())
	return nil
}

func authLogin(ctx context.Context, env *Env, args Args, p *ArgParser) error {
	email := p.Flag("--email", "-e")
	password := p.Flag("--password", "-p")

	if email == "" || password == "" {
		if env.Prompt == nil {
			return usageError("--email and --password are required without a terminal")
		}
		var err error
		if email == "" {
			if email, err = env.Prompt.Line("Email: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = env.Prompt.Password("Password: "); err != nil {
				return err
			}
		}
	}

	email = api.NormalizeEmail(email)
	if email == "" || password == "" {
		return NewValidationError("credentials", "", "email and password are required")
	}

	if err := env.Session.SignIn(ctx, email, password); err != nil {
		st := env.Session.State()
		if st.Error != "" {
			return NewCommandError("auth", "login", st.Error, err)
		}
		return NewCommandError("auth", "login", "", err)
	}

	st := env.Session.State()
	if args.JSON {
		return NewJSONResponse("auth login", stateData(env, st)).Write(env.Out)
	}
	fmt.Fprintln(env.Out, SuccessStyle.Render("Signed in as "+userEmail(st)))
	return nil
}

func authLogout(ctx context.Context, env *Env, args Args) error {
	env.Session.SignOut(ctx)
	if args.JSON {
		return NewJSONResponse("auth logout", stateData(env, env.Session.State())).Write(env.Out)
	}
	fmt.Fprintln(env.Out, "Signed out.")
	return nil
}

func authWhoami(ctx context.Context, env *Env, args Args) error {
	err := env.Session.Revalidate(ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoCredential):
		return NewCommandError("auth", "whoami", "not signed in", err)
	case errors.Is(err, session.ErrSessionExpired):
		return NewCommandError("auth", "whoami", "session expired, sign in again", err)
	default:
		return NewCommandError("auth", "whoami", "", err)
	}

	st := env.Session.State()
	if args.JSON {
		return NewJSONResponse("auth whoami", stateData(env, st)).Write(env.Out)
	}
	fmt.Fprintln(env.Out, userEmail(st))
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func renderState(env *Env, args Args, command string, st session.State) {
	if args.JSON {
		_ = NewJSONResponse(command, stateData(env, st)).Write(env.Out)
		return
	}

	fmt.Fprintln(env.Out, TitleStyle.Render("Session"))
	fmt.Fprintln(env.Out, RenderSeparator())

	status := st.Status.String()
	switch {
	case st.IsAuthenticated:
		status = SuccessStyle.Render(status)
	case st.Status == session.StatusError:
		status = ErrorStyle.Render(status)
	default:
		status = WarningStyle.Render(status)
	}
	fmt.Fprintln(env.Out, RenderField("Status", status))
	if st.User != nil {
		fmt.Fprintln(env.Out, RenderField("User", st.User.Email))
		fmt.Fprintln(env.Out, RenderField("User ID", fmt.Sprintf("%d", st.User.ID)))
	}
	if st.Error != "" {
		fmt.Fprintln(env.Out, RenderField("Error", ErrorStyle.Render(st.Error)))
	}
	fmt.Fprintln(env.Out, RenderField("Service", apiURL(env)))
	if snap := gatewaySnapshot(env); snap != nil {
		fmt.Fprintln(env.Out, RenderField("Requests", fmt.Sprintf("%d (%d unauthorized)", snap.Requests, snap.Unauthorized)))
	}
}

func stateData(env *Env, st session.State) AuthStatusData {
	return AuthStatusData{
		Status:          st.Status.String(),
		IsAuthenticated: st.IsAuthenticated,
		User:            st.User,
		Error:           st.Error,
		APIURL:          apiURL(env),
		Gateway:         gatewaySnapshot(env),
	}
}

func gatewaySnapshot(env *Env) *gateway.Snapshot {
	if env.Metrics == nil {
		return nil
	}
	snap, err := gateway.ReadSnapshot(env.Metrics)
	if err != nil {
		return nil
	}
	return snap
}

func apiURL(env *Env) string {
	if env.Config == nil {
		return ""
	}
	return env.Config.API.BaseURL
}

func userEmail(st session.State) string {
	if st.User == nil {
		return "(unknown user)"
	}
	return st.User.Email
}

// expectedRevalidateError reports outcomes that still leave a well-defined
// unauthenticated state worth printing.
func expectedRevalidateError(err error) bool {
	return errors.Is(err, session.ErrNoCredential) ||
		errors.Is(err, session.ErrSessionExpired) ||
		errors.Is(err, session.ErrNetwork)
}
