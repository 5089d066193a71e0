// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser parses a command's arguments. It understands:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag
//   - Positional arguments, the first being the subcommand
//   - "--", after which everything is positional
//
// A flag is boolean unless its name is listed in valueFlags, so
// "--json status" does not swallow "status" as the value of --json.
type ArgParser struct {
	subcommand string
	flags      map[string][]string
	boolFlags  map[string]bool
	positional []string
}

// NewArgParser parses raw. valueFlags names the flags that take a value,
// without leading dashes.
func NewArgParser(raw []string, valueFlags ...string) *ArgParser {
	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[strings.TrimLeft(f, "-")] = true
	}

	p := &ArgParser{
		flags:     make(map[string][]string),
		boolFlags: make(map[string]bool),
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]

		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		switch {
		case hasValue && takesValue[name]:
			p.flags[name] = append(p.flags[name], value)
		case hasValue:
			b, err := ParseBoolString(value)
			p.boolFlags[name] = err == nil && b
		case takesValue[name] && i+1 < len(raw):
			i++
			p.flags[name] = append(p.flags[name], raw[i])
		case takesValue[name]:
			p.flags[name] = append(p.flags[name], "")
		default:
			p.boolFlags[name] = true
		}
	}

	if len(p.positional) > 0 {
		p.subcommand = p.positional[0]
	}
	return p
}

// Subcommand returns the first positional argument, or "".
func (p *ArgParser) Subcommand() string {
	return p.subcommand
}

// Flag returns the last value given for a value flag, or "".
func (p *ArgParser) Flag(names ...string) string {
	for _, name := range names {
		if vals := p.flags[strings.TrimLeft(name, "-")]; len(vals) > 0 {
			return vals[len(vals)-1]
		}
	}
	return ""
}

// Flags returns every value given for a repeatable flag.
func (p *ArgParser) Flags(name string) []string {
	return p.flags[strings.TrimLeft(name, "-")]
}

// FlagOrDefault returns the flag value or def.
func (p *ArgParser) FlagOrDefault(name, def string) string {
	if v := p.Flag(name); v != "" {
		return v
	}
	return def
}

// FlagIntOrDefault returns the flag as an int, or def when absent or invalid.
func (p *ArgParser) FlagIntOrDefault(name string, def int) int {
	v, err := strconv.Atoi(p.Flag(name))
	if err != nil {
		return def
	}
	return v
}

// FlagFloatOrDefault returns the flag as a float64, or def when absent or invalid.
func (p *ArgParser) FlagFloatOrDefault(name string, def float64) float64 {
	v, err := strconv.ParseFloat(p.Flag(name), 64)
	if err != nil {
		return def
	}
	return v
}

// BoolFlag reports whether any of names was given as a boolean flag.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, name := range names {
		if p.boolFlags[strings.TrimLeft(name, "-")] {
			return true
		}
	}
	return false
}

// HasFlag reports whether the flag was given in any form.
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, hasString := p.flags[name]
	_, hasBool := p.boolFlags[name]
	return hasString || hasBool
}

// Positional returns the positional argument at index, or "". Index 0 is the
// subcommand.
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// ParseBoolString accepts true/false, yes/no, y/n, 1/0 and on/off.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, NewValidationError("boolean", s, "expected true or false")
	}
}
