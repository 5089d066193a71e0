// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the colors and lipgloss styles of the TUI.
//
// Colors are lipgloss.AdaptiveColor values so they follow the terminal
// background. Status text always carries an ASCII marker ([OK], [X], [!]) so
// it reads without color.
//
// # Usage
//
//	theme := styles.NewTheme(cfg.UI.Theme)
//	title := theme.HeaderTitle.Render("Alumnos")
//	fmt.Println(styles.RenderError("Credenciales inválidas"))
package styles
