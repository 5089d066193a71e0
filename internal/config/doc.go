// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for sessiongate.
//
// Configuration is TOML, with sensible defaults, environment variable
// overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - APIConfig: Remote service URL, timeout and request throttling
//   - CredentialsConfig: Credential store backend selection
//   - LogConfig: Structured logging level, format and destination
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SESSIONGATE_*)
//   - ~/.sessiongate/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	client := gateway.New(cfg.API.BaseURL, store, bus)
package config
