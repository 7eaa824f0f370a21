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
	"io/fs"
	"log/slog"
	"os"

	"github.com/kraklabs/vecsync/internal/config"
	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/logging"
	"github.com/kraklabs/vecsync/internal/pidfile"
	"github.com/kraklabs/vecsync/pkg/chunksource"
	"github.com/kraklabs/vecsync/pkg/embedding"
	"github.com/kraklabs/vecsync/pkg/ingestion"
	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// logOutput receives structured logs. Command output goes to stdout.
var logOutput io.Writer = os.Stderr

// loadConfig reads and validates the configuration selected by --config.
func loadConfig(globals GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot load configuration",
			err.Error(),
			"Fix the file, or recreate it with 'vecsync init --force'",
			err,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configError(cfg, err)
	}
	return cfg, nil
}

func configError(cfg *config.Config, err error) error {
	where := cfg.Path
	if where == "" {
		where = config.DefaultPath()
	}
	return errors.NewConfigError(
		"Invalid configuration",
		err.Error(),
		fmt.Sprintf("Edit %s or set the matching %s_* environment variable", where, config.EnvPrefix),
		err,
	)
}

// commandLogger is the logger for the short-lived commands: warnings and
// errors only, as JSON when --json is set.
func commandLogger(globals GlobalFlags) *slog.Logger {
	return logging.NewLevel(logOutput, slog.LevelWarn, globals.JSON)
}

func openSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chunksource.SQLSource, error) {
	if err := cfg.ValidateSource(); err != nil {
		return nil, errors.NewConfigError(
			"Chunk database is not configured",
			err.Error(),
			"Set source.dsn in the configuration or export DATABASE_URL",
			err,
		)
	}
	src, err := chunksource.Open(ctx, cfg.Source.DSN, cfg.SourceOptions(), logger)
	if err != nil {
		return nil, errors.NewNetworkError(
			"Cannot connect to the chunk database",
			err.Error(),
			"Check that the database is reachable and that source.dsn is correct",
			err,
		)
	}
	return src, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embedding.Embedder, error) {
	emb, err := embedding.New(ctx, cfg.EmbedderConfig(), logger)
	switch {
	case err == nil:
		return emb, nil
	case stderrors.Is(err, embedding.ErrMissingCredentials):
		return nil, errors.NewConfigError(
			"Embedding credentials are missing",
			err.Error(),
			"Set embedding.api_key or export the provider key (OPENAI_API_KEY, GEMINI_API_KEY, NOMIC_API_KEY)",
			err,
		)
	default:
		return nil, errors.NewConfigError(
			"Cannot create the embedding provider",
			err.Error(),
			"Check the embedding section of the configuration",
			err,
		)
	}
}

// closeEmbedder releases providers that hold a client.
func closeEmbedder(emb embedding.Embedder) {
	if c, ok := emb.(io.Closer); ok {
		_ = c.Close()
	}
}

func newStore(cfg *config.Config, emb embedding.Embedder, readOnly bool, logger *slog.Logger) (*vectorstore.Manager, error) {
	m, err := vectorstore.NewManager(vectorstore.Options{
		Dir:       cfg.StoreDir(),
		Dimension: cfg.Embedding.Dimensions,
		Embedder:  emb,
		Logger:    logger,
		ReadOnly:  readOnly,
	})
	if err != nil {
		return nil, errors.NewInternalError("Cannot create the vector store", err.Error(), "", err)
	}
	return m, nil
}

// loadStore creates a store without an embedder and loads it.
func loadStore(ctx context.Context, cfg *config.Config, readOnly bool, logger *slog.Logger) (*vectorstore.Manager, error) {
	m, err := newStore(cfg, nil, readOnly, logger)
	if err != nil {
		return nil, err
	}
	if err := m.Load(ctx); err != nil {
		return nil, storageError("Cannot load the vector store", err)
	}
	return m, nil
}

// lockDataDir takes the PID guard so that no other vecsync process writes
// the store or checkpoint at the same time.
func lockDataDir(cfg *config.Config) (*pidfile.Lock, error) {
	lock, err := pidfile.Acquire(cfg.PIDPath())
	if err == nil {
		return lock, nil
	}
	var held *pidfile.HeldError
	if stderrors.As(err, &held) {
		if held.Info.PID == 0 {
			return nil, errors.NewBusyError("Another vecsync process is starting", err.Error(), "Try again in a moment", err)
		}
		return nil, errors.NewBusyError(
			"Another vecsync process is running",
			fmt.Sprintf("PID %d holds %s since %s", held.Info.PID, held.Path, held.Info.StartedAt.Format("2006-01-02 15:04:05")),
			"Wait for it to finish, or stop it with Ctrl+C or kill -TERM",
			err,
		)
	}
	return nil, storageError("Cannot create the PID file", err)
}

func storageError(msg string, err error) error {
	if stderrors.Is(err, fs.ErrPermission) {
		return errors.NewPermissionError(msg, err.Error(), "Check the permissions of store.data_dir", err)
	}
	return errors.NewStorageError(msg, err.Error(), "Run 'vecsync verify' to inspect the store files", err)
}

// runError maps a StartRun or Reconcile failure to a user-facing error.
func runError(err error) error {
	switch {
	case stderrors.Is(err, context.Canceled):
		return nil
	case stderrors.Is(err, ingestion.ErrInvalidOptions):
		return errors.NewInputError("Invalid run options", err.Error(), "Run 'vecsync run --help' for the accepted values")
	case stderrors.Is(err, vectorstore.ErrDimensionMismatch):
		return errors.NewConfigError(
			"Embedding dimension does not match the store",
			err.Error(),
			"Use the model the store was built with, or move store.data_dir aside to start a new store",
			err,
		)
	case stderrors.Is(err, ingestion.ErrSource):
		return errors.NewNetworkError(
			"Reading the chunk database failed",
			err.Error(),
			"Check that the database is reachable, then run again to resume",
			err,
		)
	case stderrors.Is(err, ingestion.ErrStore):
		return storageError("Writing the vector store failed", err)
	case stderrors.Is(err, ingestion.ErrRunInProgress):
		return errors.NewBusyError("A run is already in progress", err.Error(), "Wait for it to finish", err)
	}
	return errors.NewInternalError("Ingestion failed", err.Error(), "Run again with --debug and report the log output", err)
}
