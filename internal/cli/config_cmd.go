// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - configuration commands.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Print the effective configuration
//   get KEY             Print one value (dot notation, e.g. api.base_url)
//   keys                List every key
//   path                Print the configuration file path
//   init [--force]      Write the defaults to the configuration file

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/sessiongate/internal/config"
)

// ConfigPathData is the --json payload of config path and config init.
type ConfigPathData struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// ConfigValueData is the --json payload of config get.
type ConfigValueData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// HandleConfig runs a config subcommand.
func HandleConfig(env *Env, args Args) error {
	p := NewArgParser(args.Raw)
	sub := strings.ToLower(p.Subcommand())
	if sub == "" {
		sub = "show"
	}

	var err error
	switch sub {
	case "show":
		err = configShow(env, args)
	case "get":
		err = configGet(env, args, p.Positional(1))
	case "keys":
		err = configKeys(env, args)
	case "path":
		err = configPathCmd(env, args)
	case "init":
		err = configInit(env, args, p.BoolFlag("force", "f"))
	default:
		err = usageError("unknown config subcommand: %s", sub)
	}
	if err != nil {
		DisplayError(env.Err, "config "+sub, err, args.JSON)
	}
	return err
}

func configShow(env *Env, args Args) error {
	cfg := env.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if args.JSON {
		// Config.String redacts secrets; re-decode it so the payload nests.
		var redacted any
		if err := json.Unmarshal([]byte(cfg.String()), &redacted); err != nil {
			return NewCommandError("config", "show", "", err)
		}
		return NewJSONResponse("config show", redacted).Write(env.Out)
	}

	fmt.Fprintln(env.Out, TitleStyle.Render("Configuration"))
	fmt.Fprintln(env.Out, RenderSeparator())
	section := ""
	for _, key := range config.Keys() {
		head, _, _ := strings.Cut(key, ".")
		if head != section {
			section = head
			fmt.Fprintln(env.Out, LabelStyle.Render("["+section+"]"))
		}
		v, err := cfg.Get(key)
		if err != nil {
			return NewCommandError("config", "show", key, err)
		}
		fmt.Fprintln(env.Out, RenderField("  "+strings.TrimPrefix(key, head+"."), fmt.Sprint(v)))
	}
	return nil
}

func configGet(env *Env, args Args, key string) error {
	if key == "" {
		return usageError("config get requires a KEY (see 'sessiongate config keys')")
	}
	cfg := env.Config
	if cfg == nil {
		cfg = config.Default()
	}
	v, err := cfg.Get(key)
	if err != nil {
		return NewValidationError("key", key, err.Error())
	}
	if args.JSON {
		return NewJSONResponse("config get", ConfigValueData{Key: key, Value: v}).Write(env.Out)
	}
	fmt.Fprintln(env.Out, v)
	return nil
}

func configKeys(env *Env, args Args) error {
	keys := config.Keys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Write(env.Out)
	}
	for _, k := range keys {
		fmt.Fprintln(env.Out, k)
	}
	return nil
}

func configPathCmd(env *Env, args Args) error {
	path, err := resolveConfigPath(env)
	if err != nil {
		return NewCommandError("config", "path", "", err)
	}
	_, statErr := os.Stat(path)
	if args.JSON {
		return NewJSONResponse("config path", ConfigPathData{Path: path, Exists: statErr == nil}).Write(env.Out)
	}
	fmt.Fprintln(env.Out, path)
	return nil
}

func configInit(env *Env, args Args, force bool) error {
	path, err := resolveConfigPath(env)
	if err != nil {
		return NewCommandError("config", "init", "", err)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return NewCommandError("config", "init", path+" already exists (use --force to overwrite)", nil)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return NewCommandError("config", "init", "", err)
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return NewCommandError("config", "init", "", err)
	}
	if args.JSON {
		return NewJSONResponse("config init", ConfigPathData{Path: path, Exists: true}).Write(env.Out)
	}
	fmt.Fprintln(env.Out, SuccessStyle.Render("Wrote "+path))
	return nil
}

func resolveConfigPath(env *Env) (string, error) {
	if env.ConfigPath != "" {
		return env.ConfigPath, nil
	}
	return config.ConfigPath()
}
