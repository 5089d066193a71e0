// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the non-interactive sessiongate commands: session
// management (auth), configuration, and version.
//
// # Key Types
//
//   - Command: the top-level command chosen by Parse
//   - Args: global flags plus the remaining raw arguments
//   - Env: what a command runs against (writers, config, session manager, prompter)
//   - ArgParser: per-command flag parsing
//   - JSONResponse: the envelope printed in --json mode
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	if cmd == cli.CmdTUI {
//	    return runTUI(...)
//	}
//	err := cli.Run(ctx, env, cmd, args)
//	os.Exit(cli.ExitCode(err))
//
// Exit codes are 0 on success, 2 for usage mistakes, and 1 otherwise.
package cli
