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
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/output"
	"github.com/kraklabs/vecsync/internal/ui"
	"github.com/kraklabs/vecsync/pkg/ingestion"
	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// VerifyResult is the output of 'vecsync verify'.
type VerifyResult struct {
	Store            *vectorstore.Report `json:"store"`
	CheckpointPath   string              `json:"checkpoint_path"`
	CheckpointExists bool                `json:"checkpoint_exists"`
	CheckpointIDs    int                 `json:"checkpoint_ids"`
	MissingFromStore []int64             `json:"missing_from_store,omitempty"`
	Problems         []string            `json:"problems,omitempty"`
	OK               bool                `json:"ok"`
}

// runVerify executes the 'vecsync verify' command.
func runVerify(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprint(fs.Output(), `Usage: vecsync verify

Checks the vector store files and the checkpoint without changing them:
index and document store pairing, entry numbering, duplicate chunk ids
and checkpointed chunks that have no stored vector.

Exits with code 2 when a problem is found. 'vecsync restore --yes' rolls
the store back to its latest backup and 'vecsync run --reconcile store'
embeds checkpointed chunks that have no stored vector.
`)
	}
	if done, err := parseFlags(fs, args); done {
		return err
	}

	cfg, err := loadConfig(globals)
	if err != nil {
		return err
	}
	logger := commandLogger(globals)

	report, err := vectorstore.Inspect(cfg.StoreDir())
	if err != nil {
		return storageError("Cannot inspect the vector store", err)
	}
	res := VerifyResult{Store: report, CheckpointPath: cfg.CheckpointPath()}
	res.Problems = append(res.Problems, report.Problems...)

	if _, err := os.Stat(res.CheckpointPath); err == nil {
		res.CheckpointExists = true
	}
	cpIDs, cpRec := ingestion.NewCheckpointStore(res.CheckpointPath, logger).Load()
	res.CheckpointIDs = len(cpIDs)
	if res.CheckpointExists && cpRec == nil {
		res.Problems = append(res.Problems, "checkpoint file is unreadable; the next run rebuilds it from the store")
	}

	// Compare against what a run would load, which may come from a backup.
	if store, err := loadStore(ctx, cfg, true, logger); err == nil {
		stored := store.ProcessedChunkIDs()
		for id := range cpIDs {
			if _, ok := stored[id]; !ok {
				res.MissingFromStore = append(res.MissingFromStore, id)
			}
		}
		sort.Slice(res.MissingFromStore, func(i, j int) bool { return res.MissingFromStore[i] < res.MissingFromStore[j] })
		if n := len(res.MissingFromStore); n > 0 {
			res.Problems = append(res.Problems, fmt.Sprintf("%d checkpointed chunks have no store entry", n))
		}
	} else {
		res.Problems = append(res.Problems, fmt.Sprintf("store cannot be loaded: %v", err))
	}
	res.OK = len(res.Problems) == 0

	if err := output.Render(out, globals.JSON, res, func(io.Writer) error {
		printVerify(res)
		return nil
	}); err != nil {
		return err
	}
	if !res.OK {
		return errors.NewStorageError(
			fmt.Sprintf("Verification found %d problems", len(res.Problems)),
			res.Problems[0],
			"Run 'vecsync restore --yes' to roll back to the latest backup, or 'vecsync run --reconcile store' to embed missing chunks",
			nil,
		)
	}
	return nil
}

func printVerify(res VerifyResult) {
	r := res.Store
	ui.Header("vecsync Verify")
	ui.Field("Store dir", r.Dir)
	ui.Field("Documents", existsText(r.DocStoreExists, fmt.Sprintf("%d entries, next id %d", r.DocEntries, r.DocNextID)))
	ui.Field("Index", existsText(r.IndexExists, fmt.Sprintf("%d rows (header %d), dim %d", r.IndexRows, r.IndexHeaderCount, r.Dimension)))
	ui.Field("Backups", fmt.Sprintf("%d document, %d index", r.DocBackups, r.IndexBackups))
	ui.Field("Checkpoint", existsText(res.CheckpointExists, fmt.Sprintf("%d ids", res.CheckpointIDs)))
	_, _ = fmt.Fprintln(ui.Out)

	if res.OK {
		ui.Success("No problems found")
		return
	}
	for _, p := range res.Problems {
		ui.Error(p)
	}
}

func existsText(exists bool, detail string) string {
	if !exists {
		return ui.DimText("missing")
	}
	return detail
}
