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
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/output"
	"github.com/kraklabs/vecsync/internal/ui"
	"github.com/kraklabs/vecsync/pkg/ingestion"
)

// ResetResult is the output of 'vecsync reset-checkpoint'.
type ResetResult struct {
	Checkpoint string `json:"checkpoint"`
	Backup     string `json:"backup,omitempty"`
	Removed    bool   `json:"removed"`
}

// runResetCheckpoint executes the 'vecsync reset-checkpoint' command.
func runResetCheckpoint(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	fs := flag.NewFlagSet("reset-checkpoint", flag.ContinueOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), `Usage: vecsync reset-checkpoint --yes

Forgets the processed chunk ids recorded in the checkpoint. The file is
backed up next to itself before it is removed. The vector store is not
touched: the next run rebuilds the checkpoint from the stored entries,
so only chunks without a vector are embedded again.

Options:
%s`, fs.FlagUsages())
	}
	if done, err := parseFlags(fs, args); done {
		return err
	}
	if !*confirm {
		return errors.NewInputError(
			"Refusing to reset without confirmation",
			"reset-checkpoint discards the recorded progress",
			"Pass --yes to confirm",
		)
	}

	cfg, err := loadConfig(globals)
	if err != nil {
		return err
	}
	lock, err := lockDataDir(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	cp := ingestion.NewCheckpointStore(cfg.CheckpointPath(), commandLogger(globals))
	backup, err := cp.Reset()
	if err != nil {
		return storageError("Cannot reset the checkpoint", err)
	}
	res := ResetResult{Checkpoint: cp.Path(), Backup: backup, Removed: backup != ""}

	return output.Render(out, globals.JSON, res, func(io.Writer) error {
		if !res.Removed {
			ui.Info("No checkpoint to reset")
			return nil
		}
		ui.Successf("Checkpoint reset (backup: %s)", res.Backup)
		_, _ = fmt.Fprintln(ui.Out)
		_, _ = fmt.Fprintln(ui.Out, "Next steps:")
		_, _ = fmt.Fprintln(ui.Out, "  vecsync run    Rebuild the checkpoint and continue embedding")
		return nil
	})
}
