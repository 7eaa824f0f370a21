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
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/config"
	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/logging"
	"github.com/kraklabs/vecsync/internal/output"
	"github.com/kraklabs/vecsync/internal/ui"
	"github.com/kraklabs/vecsync/pkg/ingestion"
)

type runFlags struct {
	batchSize   int
	target      float64
	delay       time.Duration
	durability  string
	reconcile   string
	maxBatches  int
	single      bool
	metricsAddr string
	debug       bool
	noProgress  bool
	logFormat   string
}

// runIngest executes the 'vecsync run' command.
func runIngest(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.IntVar(&f.batchSize, "batch-size", 0, "Chunks fetched per batch (default from config)")
	fs.Float64Var(&f.target, "target", 0, "Stop once this percentage of chunks is processed (0-100]")
	fs.DurationVar(&f.delay, "delay", 0, "Minimum spacing between embedding calls, e.g. 100ms")
	fs.StringVar(&f.durability, "durability", "", "When to save: per-batch or per-chunk")
	fs.StringVar(&f.reconcile, "reconcile", "", "How to combine checkpoint and store ids: union or store")
	fs.IntVar(&f.maxBatches, "max-batches", 0, "Stop after this many batches (0 = unlimited)")
	fs.BoolVar(&f.single, "single", false, "Process exactly one chunk and stop")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")
	fs.StringVar(&f.logFormat, "log-format", "text", "Log format: text or json")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), `Usage: vecsync run [options]

Embeds chunks that are not yet in the vector store, batch by batch, until
the target percentage is reached or the source has nothing left. Progress
is saved after every batch (or every chunk with --durability per-chunk),
so an interrupted run resumes where it stopped.

Options:
%s
Examples:
  vecsync run                          Embed everything
  vecsync run --target 25              Stop at 25%% of the source
  vecsync run --single                 Embed one chunk (smoke test)
  vecsync run --metrics-addr :9464     Expose /metrics while running

Exit codes:
  0  target reached, source exhausted, batch limit or interrupted
  1  configuration problem (missing DSN or credentials)
  2  the vector store could not be written
  3  the chunk database could not be read
  7  another vecsync process is running
`, fs.FlagUsages())
	}
	if done, err := parseFlags(fs, args); done {
		return err
	}

	cfg, err := loadConfig(globals)
	if err != nil {
		return err
	}
	if err := applyRunFlags(fs, &f, cfg); err != nil {
		return err
	}

	logger := logging.New(logOutput, f.debug, f.logFormat == "json")

	// Validate everything that needs no side effects before taking the lock.
	if err := cfg.ValidateSource(); err != nil {
		return errors.NewConfigError(
			"Chunk database is not configured",
			err.Error(),
			"Set source.dsn in the configuration or export DATABASE_URL",
			err,
		)
	}
	emb, err := newEmbedder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEmbedder(emb)

	lock, err := lockDataDir(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("run.pidfile.release_failed", "err", err)
		}
	}()

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	store, err := newStore(cfg, emb, false, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ingestion.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		_, stop, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return errors.NewNetworkError(
				"Cannot start the metrics endpoint",
				err.Error(),
				"Pick a free address with --metrics-addr, or leave it empty",
				err,
			)
		}
		defer stop()
	}

	engine, err := ingestion.NewEngine(ingestion.Config{
		Source:         src,
		Store:          store,
		Checkpoint:     ingestion.NewCheckpointStore(cfg.CheckpointPath(), logger),
		Durability:     ingestion.Durability(cfg.Run.Durability),
		Reconcile:      ingestion.ReconcileMode(cfg.Store.Reconcile),
		Retry:          cfg.RetryConfig(),
		ProgressWindow: cfg.Run.ProgressWindow,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return configError(cfg, err)
	}

	pcfg := NewProgressConfig(globals)
	pcfg.Enabled = pcfg.Enabled && !f.noProgress
	progress := newRunProgress(pcfg)
	engine.OnChunk(progress.observe)

	opts := cfg.RunOptions()
	opts.MaxBatches = f.maxBatches
	if f.single {
		opts.BatchSize, opts.MaxBatches = 1, 1
	}

	summary, runErr := engine.StartRun(ctx, opts)
	progress.finish()
	if runErr != nil {
		if err := runError(runErr); err != nil {
			return err
		}
	}

	return output.Render(out, globals.JSON, summary, func(io.Writer) error {
		printSummary(summary, engine.Progress())
		return nil
	})
}

// applyRunFlags overrides configuration values with explicitly set flags
// and validates the result.
func applyRunFlags(fs *flag.FlagSet, f *runFlags, cfg *config.Config) error {
	if fs.Changed("batch-size") {
		cfg.Run.BatchSize = f.batchSize
	}
	if fs.Changed("target") {
		cfg.Run.TargetPercentage = f.target
	}
	if fs.Changed("delay") {
		cfg.Run.Delay = f.delay
	}
	if fs.Changed("durability") {
		cfg.Run.Durability = f.durability
	}
	if fs.Changed("reconcile") {
		cfg.Store.Reconcile = f.reconcile
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.maxBatches < 0 {
		return errors.NewInputError("Invalid --max-batches", "the batch limit must not be negative", "Use 0 for no limit")
	}
	if f.logFormat != "text" && f.logFormat != "json" {
		return errors.NewInputError("Invalid --log-format", fmt.Sprintf("%q is not a log format", f.logFormat), "Use text or json")
	}
	if err := cfg.Validate(); err != nil {
		return errors.NewInputError("Invalid run options", err.Error(), "Run 'vecsync run --help' for the accepted values")
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned stop is called. The
// bound address is returned, which differs from addr for port 0.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("run.metrics.serve_failed", "err", err)
		}
	}()
	bound := ln.Addr().String()
	logger.Info("run.metrics.listening", "addr", bound)

	return bound, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printSummary(s *ingestion.RunSummary, p ingestion.Progress) {
	ui.Header("Ingestion Run")
	ui.Field("Run ID", ui.DimText(s.RunID))
	ui.Field("Stopped", stopText(s.StopReason))
	ui.Field("Batches", s.Batches)
	ui.Field("Processed", fmt.Sprintf("%s chunks", ui.CountText(s.ChunksProcessed)))
	if s.ChunksDuplicate > 0 {
		ui.Field("Duplicates", s.ChunksDuplicate)
	}
	if s.Retries > 0 {
		ui.Field("Retries", s.Retries)
	}
	ui.Field("Progress", fmt.Sprintf("%d/%d  %s -> %s (target %.0f%%)",
		s.Processed, s.Total,
		fmt.Sprintf("%.2f%%", s.StartPercentage),
		ui.PercentText(s.FinalPercentage, s.TargetPercentage),
		s.TargetPercentage))
	if p.Rate > 0 {
		ui.Field("Rate", fmt.Sprintf("%.2f chunks/s", p.Rate))
	}
	ui.Field("Duration", s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintln(ui.Out)

	if s.ChunksFailed > 0 {
		ui.Warningf("%d chunks failed and will be retried on the next run: %s", s.ChunksFailed, failedList(s.FailedChunkIDs))
	}
	switch {
	case s.ReachedTarget:
		ui.Success("Target reached")
	case s.StopReason == ingestion.StopCanceled:
		ui.Info("Interrupted. Progress is saved; run again to resume")
	case s.StopReason == ingestion.StopBatchLimit:
		ui.Info("Batch limit reached. Run again to continue")
	case s.StopReason == ingestion.StopExhausted && s.ChunksFailed > 0:
		ui.Warning("Source exhausted with failed chunks; the target was not reached")
	case s.StopReason == ingestion.StopExhausted:
		ui.Info("No unprocessed chunks left")
	}
}

func stopText(r ingestion.StopReason) string {
	switch r {
	case ingestion.StopTargetReached:
		return "target reached"
	case ingestion.StopExhausted:
		return "source exhausted"
	case ingestion.StopBatchLimit:
		return "batch limit"
	case ingestion.StopCanceled:
		return "interrupted"
	default:
		return string(r)
	}
}

// failedList shows at most ten ids.
func failedList(ids []int64) string {
	const limit = 10
	shown := ids[:min(len(ids), limit)]
	parts := make([]string, len(shown))
	for i, id := range shown {
		parts[i] = strconv.FormatInt(id, 10)
	}
	s := strings.Join(parts, ", ")
	if len(ids) > limit {
		s += fmt.Sprintf(" and %d more", len(ids)-limit)
	}
	return s
}
