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

// Package main implements the vecsync CLI, which embeds chunks from a SQL
// database into a local vector store and can resume where it stopped.
//
// Usage:
//
//	vecsync init                  Create .vecsync/config.yaml
//	vecsync run                   Embed unprocessed chunks
//	vecsync status [--json]       Show store and checkpoint progress
//	vecsync verify                Check the store files for damage
//	vecsync reset-checkpoint      Forget processed chunk ids (keeps a backup)
//	vecsync restore               Roll the store back to its latest backup
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags are accepted before the command name.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	NoColor    bool
	Quiet      bool
}

// command runs one subcommand. Returned errors are reported by main.
type command func(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error

var commands = map[string]command{
	"init":             runInit,
	"run":              runIngest,
	"status":           runStatus,
	"verify":           runVerify,
	"reset-checkpoint": runResetCheckpoint,
	"restore":          runRestore,
	"completion":       runCompletion,
}

const usageText = `vecsync - resumable vector store ingestion

vecsync reads text chunks from a PostgreSQL or SQLite database, embeds
them with the configured provider and appends them to a local vector
store. Progress is checkpointed, so an interrupted run picks up where it
stopped and chunks are never embedded twice.

Usage:
  vecsync [global options] <command> [options]

Commands:
  init              Create .vecsync/config.yaml
  run               Embed unprocessed chunks until the target is reached
  status            Show store and checkpoint progress
  verify            Check the store files for damage
  reset-checkpoint  Forget processed chunk ids (keeps a backup)
  restore           Roll the store back to its latest backup
  completion        Generate shell completion script (bash|zsh|fish)

Global Options:
  --config <path>   Configuration file (default: .vecsync/config.yaml)
  --json            Machine-readable output
  --no-color        Disable colored output
  -q, --quiet       Suppress progress output
  --version         Show version and exit

Examples:
  vecsync init
  vecsync run --target 25
  vecsync run --batch-size 50 --delay 100ms --metrics-addr :9464
  vecsync status --json

Environment Variables:
  DATABASE_URL       Chunk database DSN
  OPENAI_API_KEY     Key for the openai provider
  GEMINI_API_KEY     Key for the gemini provider
  NOMIC_API_KEY      Key for the nomic provider
  OLLAMA_HOST        Ollama URL (default: http://localhost:11434)
  VECSYNC_<SETTING>  Any other setting, e.g. VECSYNC_BATCH_SIZE

For detailed command help: vecsync <command> --help
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute parses global flags, dispatches the command and returns the
// process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		globals     GlobalFlags
		showVersion bool
	)
	fs := flag.NewFlagSet("vecsync", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	fs.StringVar(&globals.ConfigPath, "config", "", "Configuration file")
	fs.BoolVar(&globals.JSON, "json", false, "Machine-readable output")
	fs.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress progress output")
	fs.BoolVar(&showVersion, "version", false, "Show version and exit")
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usageText) }

	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return errors.ExitSuccess
		}
		return errors.ExitInput
	}
	if globals.JSON {
		globals.Quiet = true
	}
	ui.InitColors(globals.NoColor || globals.JSON)
	ui.Out = stdout

	if showVersion {
		_, _ = fmt.Fprintf(stdout, "vecsync version %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		return errors.ExitSuccess
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.ExitInput
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		err := errors.NewInputError(
			fmt.Sprintf("Unknown command %q", rest[0]),
			"vecsync does not have a command with that name",
			"Run 'vecsync --help' to list the available commands",
		)
		return errors.Report(stderr, err, globals.JSON, globals.NoColor)
	}
	if err := cmd(ctx, rest[1:], globals, stdout); err != nil {
		return errors.Report(stderr, err, globals.JSON, globals.NoColor)
	}
	return errors.ExitSuccess
}

// parseFlags parses command flags. done is true when --help was shown and
// the command should return without doing anything.
func parseFlags(fs *flag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return true, errors.NewInputError(
			fmt.Sprintf("Invalid arguments for '%s'", fs.Name()),
			err.Error(),
			fmt.Sprintf("Run 'vecsync %s --help' for usage", fs.Name()),
		)
	}
	return false, nil
}
