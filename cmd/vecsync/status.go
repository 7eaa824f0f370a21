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

	"github.com/kraklabs/vecsync/internal/output"
	"github.com/kraklabs/vecsync/internal/pidfile"
	"github.com/kraklabs/vecsync/internal/ui"
	"github.com/kraklabs/vecsync/pkg/ingestion"
)

// StatusResult is the output of 'vecsync status'.
type StatusResult struct {
	ConfigPath       string                    `json:"config_path,omitempty"`
	DataDir          string                    `json:"data_dir"`
	Running          bool                      `json:"running"`
	RunningPID       int                       `json:"running_pid,omitempty"`
	TargetPercentage float64                   `json:"target_percentage"`
	ReachedTarget    bool                      `json:"reached_target"`
	Progress         *ingestion.Reconciliation `json:"progress"`
}

// runStatus executes the 'vecsync status' command. It never writes to the
// data directory, so it is safe while a run is active.
func runStatus(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprint(fs.Output(), `Usage: vecsync status

Shows how many source chunks are in the vector store, the checkpoint
state and whether a run is active. Nothing is written.

Examples:
  vecsync status
  vecsync --json status
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

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	store, err := newStore(cfg, nil, true, logger)
	if err != nil {
		return err
	}
	engine, err := ingestion.NewEngine(ingestion.Config{
		Source:     src,
		Store:      store,
		Checkpoint: ingestion.NewCheckpointStore(cfg.CheckpointPath(), logger),
		Reconcile:  ingestion.ReconcileMode(cfg.Store.Reconcile),
		Logger:     logger,
	})
	if err != nil {
		return configError(cfg, err)
	}
	rec, err := engine.Reconcile(ctx)
	if err != nil {
		return runError(err)
	}

	res := StatusResult{
		ConfigPath:       cfg.Path,
		DataDir:          cfg.Store.DataDir,
		TargetPercentage: cfg.Run.TargetPercentage,
		ReachedTarget:    rec.Total > 0 && float64(rec.Processed)*100 >= cfg.Run.TargetPercentage*float64(rec.Total),
		Progress:         rec,
	}
	if holder, err := pidfile.Holder(cfg.PIDPath()); err == nil && holder != nil {
		res.Running, res.RunningPID = true, holder.PID
	}

	return output.Render(out, globals.JSON, res, func(io.Writer) error {
		printStatus(res)
		return nil
	})
}

func printStatus(res StatusResult) {
	rec := res.Progress
	ui.Header("vecsync Status")
	if res.ConfigPath != "" {
		ui.Field("Config", res.ConfigPath)
	} else {
		ui.Field("Config", ui.DimText("(defaults and environment)"))
	}
	ui.Field("Data dir", res.DataDir)
	switch {
	case res.Running && res.RunningPID > 0:
		ui.Field("Run", fmt.Sprintf("active (PID %d)", res.RunningPID))
	case res.Running:
		ui.Field("Run", "starting")
	default:
		ui.Field("Run", ui.DimText("idle"))
	}
	_, _ = fmt.Fprintln(ui.Out)

	ui.Field("Processed", fmt.Sprintf("%s / %d chunks", ui.CountText(rec.Processed), rec.Total))
	ui.Field("Percentage", fmt.Sprintf("%s (target %.0f%%)", ui.PercentText(rec.Percentage, res.TargetPercentage), res.TargetPercentage))
	ui.Field("Store entries", rec.StoreEntries)
	if rec.Dimension > 0 {
		ui.Field("Dimension", rec.Dimension)
	}
	ui.Field("Checkpoint ids", rec.CheckpointIDs)
	if rec.CheckpointTime != "" {
		ui.Field("Checkpointed", rec.CheckpointTime)
	}
	_, _ = fmt.Fprintln(ui.Out)

	if rec.MissingFromStore > 0 {
		ui.Warningf("%d checkpointed chunks have no store entry (run 'vecsync verify')", rec.MissingFromStore)
	}
	if rec.NotCheckpointed > 0 {
		ui.Infof("%d stored chunks are not in the checkpoint yet; the next run records them", rec.NotCheckpointed)
	}
	if res.ReachedTarget {
		ui.Success("Target reached")
	} else if rec.Total == 0 {
		ui.Info("The source has no chunks")
	}
}
