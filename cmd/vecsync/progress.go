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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/vecsync/pkg/ingestion"
)

// ProgressConfig determines if and how progress should be displayed.
type ProgressConfig struct {
	// Enabled is false with --json, -q, --no-progress or when stderr is
	// not a TTY.
	Enabled bool
	Writer  io.Writer
	NoColor bool
}

// NewProgressConfig creates a progress configuration from the global flags
// and TTY detection.
func NewProgressConfig(globals GlobalFlags) ProgressConfig {
	fd := os.Stderr.Fd()
	enabled := !globals.Quiet && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))

	return ProgressConfig{
		Enabled: enabled,
		Writer:  os.Stderr,
		NoColor: globals.NoColor,
	}
}

// NewProgressBar creates a progress bar with consistent styling.
// Returns nil if progress is disabled.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}

	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// NewSpinner creates an indeterminate spinner for waits of unknown length.
// Returns nil if progress is disabled.
func NewSpinner(cfg ProgressConfig, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}

	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
	)
}

// runProgress drives a bar from engine chunk results. The bar is created
// on the first result, once the source total is known. The ETA comes from
// the engine's rolling rate rather than the bar's own estimate.
type runProgress struct {
	cfg ProgressConfig
	bar *progressbar.ProgressBar
}

func newRunProgress(cfg ProgressConfig) *runProgress {
	return &runProgress{cfg: cfg}
}

// observe is registered with Engine.OnChunk.
func (p *runProgress) observe(res ingestion.ChunkResult) {
	if !p.cfg.Enabled {
		return
	}
	prog := res.Progress
	if p.bar == nil {
		p.bar = NewProgressBar(p.cfg, int64(prog.Total), "Embedding chunks")
	}
	if p.bar == nil {
		return
	}
	if p.bar.GetMax64() != int64(prog.Total) {
		p.bar.ChangeMax64(int64(prog.Total))
	}
	p.bar.Describe(describeProgress(prog))
	_ = p.bar.Set64(int64(prog.Processed))
}

// finish closes the bar so the summary starts on a clean line.
func (p *runProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Exit()
		_, _ = fmt.Fprintln(p.cfg.Writer)
	}
}

func describeProgress(p ingestion.Progress) string {
	return fmt.Sprintf("Embedding %.1f%% %.1f/s ETA %s", p.Percentage, p.Rate, p.ETAString())
}
