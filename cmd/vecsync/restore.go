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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/output"
	"github.com/kraklabs/vecsync/internal/ui"
	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// RestoreResult is the output of 'vecsync restore'.
type RestoreResult struct {
	Dir       string `json:"dir"`
	Entries   int    `json:"entries"`
	Dimension int    `json:"dimension"`
}

// runRestore executes the 'vecsync restore' command.
func runRestore(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	confirm := fs.Bool("yes", false, "Confirm the restore (required)")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), `Usage: vecsync restore --yes

Replaces the document store and the vector index with their most recent
backups. The current files are backed up first, so a restore can itself
be undone by running it again.

Chunks embedded after the backup was taken are dropped from the store.
The checkpoint still lists them; run 'vecsync run --reconcile store' to
embed them again.

Options:
%s`, fs.FlagUsages())
	}
	if done, err := parseFlags(fs, args); done {
		return err
	}
	if !*confirm {
		return errors.NewInputError(
			"Refusing to restore without confirmation",
			"restore replaces the current vector store files",
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

	store, err := newStore(cfg, nil, false, commandLogger(globals))
	if err != nil {
		return err
	}
	if err := store.RestoreLatestBackup(ctx); err != nil {
		if stderrors.Is(err, vectorstore.ErrNoBackup) {
			return errors.NewNotFoundError(
				"No backup to restore",
				fmt.Sprintf("%s has no document store and index backups", cfg.StoreDir()),
				"Backups are written each time a run saves over existing files",
			)
		}
		return storageError("Cannot restore the vector store", err)
	}

	stats := store.Stats()
	res := RestoreResult{Dir: cfg.StoreDir(), Entries: stats.Entries, Dimension: stats.Dimension}
	return output.Render(out, globals.JSON, res, func(io.Writer) error {
		ui.Successf("Restored %s from backup (%d entries)", res.Dir, res.Entries)
		return nil
	})
}
