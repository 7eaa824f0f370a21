// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides terminal output helpers for the vecsync CLI.
//
// Colors follow the --no-color flag and the NO_COLOR environment variable,
// and are disabled when stdout is not a terminal.
//
//   - Red: errors, failed chunks
//   - Yellow: warnings, data-loss notices
//   - Green: success, target reached
//   - Cyan: counts and informational lines
//   - Bold: headers and labels
//   - Dim: paths and secondary details
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// Out receives all messages. Tests replace it.
var Out io.Writer = os.Stdout

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// InitColors disables colors when noColor is set, NO_COLOR is present or
// stdout is not a terminal.
func InitColors(noColor bool) {
	color.NoColor = noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(os.Stdout)
}

func say(c *color.Color, prefix, msg string) {
	_, _ = c.Fprintln(Out, prefix+msg)
}

// Success prints "✓ msg" in green.
func Success(msg string) { say(Green, "✓ ", msg) }

// Successf is Success with formatting.
func Successf(format string, args ...any) { Success(fmt.Sprintf(format, args...)) }

// Warning prints "⚠ msg" in yellow.
func Warning(msg string) { say(Yellow, "⚠ ", msg) }

// Warningf is Warning with formatting.
func Warningf(format string, args ...any) { Warning(fmt.Sprintf(format, args...)) }

// Error prints "✗ msg" in red.
func Error(msg string) { say(Red, "✗ ", msg) }

// Errorf is Error with formatting.
func Errorf(format string, args ...any) { Error(fmt.Sprintf(format, args...)) }

// Info prints "ℹ msg" in cyan.
func Info(msg string) { say(Cyan, "ℹ ", msg) }

// Infof is Info with formatting.
func Infof(format string, args ...any) { Info(fmt.Sprintf(format, args...)) }

// Header prints a bold title underlined with '='.
func Header(text string) {
	_, _ = Bold.Fprintln(Out, text)
	_, _ = fmt.Fprintln(Out, strings.Repeat("=", len([]rune(text))))
}

// Field prints an aligned "label value" line.
func Field(label string, value any) {
	_, _ = fmt.Fprintf(Out, "  %s %v\n", Label(fmt.Sprintf("%-16s", label+":")), value)
}

// Label returns text in bold.
func Label(text string) string { return Bold.Sprint(text) }

// DimText returns text dimmed.
func DimText(text string) string { return Dim.Sprint(text) }

// CountText returns a count in cyan.
func CountText(count int) string { return Cyan.Sprint(count) }

// PercentText renders a completion percentage, green once target is met
// and yellow below it.
func PercentText(pct, target float64) string {
	s := fmt.Sprintf("%.2f%%", pct)
	if target > 0 && pct >= target {
		return Green.Sprint(s)
	}
	return Yellow.Sprint(s)
}
