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

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/config"
	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/output"
	"github.com/kraklabs/vecsync/internal/ui"
)

// InitResult is the output of 'vecsync init'.
type InitResult struct {
	Path            string `json:"path"`
	GitignoreUpdate bool   `json:"gitignore_updated"`
}

// runInit executes the 'vecsync init' command.
func runInit(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), `Usage: vecsync init [options]

Writes a commented configuration file to .vecsync/config.yaml (or the
path given with --config). If the current directory has a .gitignore,
.vecsync/ is added to it.

Options:
%s`, fs.FlagUsages())
	}
	if done, err := parseFlags(fs, args); done {
		return err
	}

	path := globals.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteDefaultTemplate(path, *force); err != nil {
		if stderrors.Is(err, config.ErrExists) {
			return errors.NewInputError(
				"Configuration already exists",
				path,
				"Edit the file, or pass --force to overwrite it",
			)
		}
		return storageError("Cannot write the configuration", err)
	}

	res := InitResult{Path: path}
	if globals.ConfigPath == "" {
		res.GitignoreUpdate = addToGitignore(".")
	}

	return output.Render(out, globals.JSON, res, func(io.Writer) error {
		ui.Successf("Created %s", res.Path)
		if res.GitignoreUpdate {
			ui.Info("Added .vecsync/ to .gitignore")
		}
		_, _ = fmt.Fprintln(ui.Out)
		_, _ = fmt.Fprintln(ui.Out, "Next steps:")
		_, _ = fmt.Fprintln(ui.Out, "  1. Set source.dsn (or export DATABASE_URL)")
		_, _ = fmt.Fprintln(ui.Out, "  2. Pick an embedding provider and export its API key")
		_, _ = fmt.Fprintln(ui.Out, "  3. vecsync run")
		return nil
	})
}

// addToGitignore appends .vecsync/ to dir/.gitignore when the file exists
// and does not list it yet. It reports whether the file changed.
func addToGitignore(dir string) bool {
	path := filepath.Join(dir, ".gitignore")
	content, err := os.ReadFile(path) //nolint:gosec // G304: path built from the working directory
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(content), "\n") {
		switch strings.TrimSpace(line) {
		case ".vecsync/", ".vecsync", "/.vecsync/", "/.vecsync":
			return false
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // G304: path built from the working directory
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}
	_, err = f.WriteString("\n# vecsync configuration and vector store\n.vecsync/\n")
	return err == nil
}
