// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/sessiongate/internal/config"
	"github.com/jeranaias/sessiongate/internal/session"
)

// Version information (overridden at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the top-level command to run.
type Command int

const (
	CmdTUI Command = iota
	CmdAuth
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool
	Verbose    bool
	ConfigPath string
	APIURL     string

	// Name is the command word as typed.
	Name string
	// Raw is everything after the command word.
	Raw []string
}

// Env is what a command runs against. Session is nil for commands that do
// not talk to the service.
type Env struct {
	Out     io.Writer
	Err     io.Writer
	Config  *config.Config
	Session *session.Manager
	Prompt  Prompter
	// Metrics, when set, is the registry the gateway records on.
	Metrics prometheus.Gatherer
	// ConfigPath is the file the configuration was (or would be) read from.
	ConfigPath string
}

const usageText = `sessiongate - terminal client for the student records service

Usage:
  sessiongate                       Start the TUI (default)
  sessiongate auth [subcommand]     Session management
  sessiongate login                 Same as 'auth login'
  sessiongate logout                Same as 'auth logout'
  sessiongate whoami                Same as 'auth whoami'
  sessiongate status                Same as 'auth status'
  sessiongate config [subcommand]   Configuration
  sessiongate version               Show version

Auth Commands:
  sessiongate auth status           Show session state (re-validates a stored credential)
  sessiongate auth login            Sign in
    --email E                       Email (prompted when omitted)
    --password P                    Password (prompted without echo when omitted)
  sessiongate auth logout           Sign out and forget the stored credential
  sessiongate auth whoami           Confirm the stored credential with the service

Config Commands:
  sessiongate config show           Print the effective configuration
  sessiongate config get KEY        Print one key (e.g. api.base_url)
  sessiongate config path           Print the configuration file path
  sessiongate config init [--force] Write a default configuration file

Global Flags:
  --json                            Machine-readable output
  -v, --verbose                     Debug logging to stderr
  --config PATH                     Configuration file
  --api-url URL                     Service base URL (overrides config)
  -h, --help                        Show this help

Environment:
  SESSIONGATE_API_URL, SESSIONGATE_CREDENTIAL_BACKEND, SESSIONGATE_CREDENTIAL_PATH,
  SESSIONGATE_REDIS_URL, SESSIONGATE_LOG_LEVEL, NO_COLOR

Version: %s
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// VersionData is the --json payload of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HandleVersion prints version information.
func HandleVersion(env *Env, args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Write(env.Out)
	}
	fmt.Fprintf(env.Out, "sessiongate version %s\n", Version)
	fmt.Fprintf(env.Out, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(env.Out, "  Build date: %s\n", BuildDate)
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses argv (without the program name).
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdTUI, args
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch args.Name {
	case "tui":
		return CmdTUI, args
	case "auth":
		return CmdAuth, args
	case "login", "logout", "whoami", "status":
		args.Raw = append([]string{args.Name}, args.Raw...)
		return CmdAuth, args
	case "config":
		return CmdConfig, args
	case "version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

func parseGlobalFlags(argv []string) ([]string, Args) {
	var (
		remaining []string
		args      Args
	)
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "-h" || arg == "--help":
			return []string{"help"}, args
		case arg == "--version":
			return []string{"version"}, args
		case arg == "--config" || arg == "--api-url":
			if i+1 < len(argv) {
				i++
				if arg == "--config" {
					args.ConfigPath = argv[i]
				} else {
					args.APIURL = argv[i]
				}
			}
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "--api-url="):
			args.APIURL = strings.TrimPrefix(arg, "--api-url=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}

// Run dispatches cmd. CmdTUI is not handled here.
func Run(ctx context.Context, env *Env, cmd Command, args Args) error {
	switch cmd {
	case CmdAuth:
		return HandleAuth(ctx, env, args)
	case CmdConfig:
		return HandleConfig(env, args)
	case CmdVersion:
		return HandleVersion(env, args)
	case CmdHelp:
		PrintUsage(env.Out)
		return nil
	case CmdTUI:
		return usageError("the TUI is not a CLI command")
	default:
		return usageError("unknown command: %s (see 'sessiongate help')", args.Name)
	}
}
