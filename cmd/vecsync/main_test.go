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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kraklabs/vecsync/internal/errors"
	"github.com/kraklabs/vecsync/internal/pidfile"
	"github.com/kraklabs/vecsync/internal/ui"
	"github.com/kraklabs/vecsync/pkg/ingestion"
)

// cliEnv is a working directory with a sqlite chunk database and the mock
// embedding provider configured through the environment.
type cliEnv struct {
	t  *testing.T
	db string
}

var clearedEnv = []string{
	"VECSYNC_SOURCE_DRIVER", "DATABASE_URL", "VECSYNC_EMBEDDING_PROVIDER", "VECSYNC_EMBEDDING_MODEL",
	"VECSYNC_EMBEDDING_BASE_URL", "EMBEDDING_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
	"NOMIC_API_KEY", "OLLAMA_HOST", "VECSYNC_DATA_DIR", "VECSYNC_BATCH_SIZE",
	"VECSYNC_TARGET_PERCENTAGE", "VECSYNC_DELAY", "VECSYNC_DURABILITY", "VECSYNC_METRICS_ADDR",
	"NO_COLOR",
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	for _, k := range clearedEnv {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	e := &cliEnv{t: t, db: filepath.Join(dir, "corpus.db")}
	e.sql(`
		CREATE TABLE documents (id INTEGER PRIMARY KEY, title TEXT, filename TEXT, doi TEXT,
			citation TEXT, source_type TEXT, url TEXT);
		CREATE TABLE chunks (id INTEGER PRIMARY KEY, document_id INTEGER, chunk_index INTEGER, content TEXT);
		INSERT INTO documents VALUES (1, 'Paper', 'paper.pdf', NULL, NULL, 'pdf', NULL);
		INSERT INTO chunks VALUES (101, 1, 0, 'first');
		INSERT INTO chunks VALUES (102, 1, 1, 'second');
		INSERT INTO chunks VALUES (103, 1, 2, 'third');
	`)
	t.Setenv("DATABASE_URL", e.db)
	t.Setenv("VECSYNC_SOURCE_DRIVER", "sqlite")
	t.Setenv("VECSYNC_EMBEDDING_PROVIDER", "mock")

	saved := logOutput
	logOutput = io.Discard
	t.Cleanup(func() {
		logOutput = saved
		ui.Out = os.Stdout
	})
	return e
}

func (e *cliEnv) sql(stmts string) {
	e.t.Helper()
	db, err := sql.Open("sqlite", e.db)
	require.NoError(e.t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(stmts)
	require.NoError(e.t, err)
}

func (e *cliEnv) exec(args ...string) (code int, stdout, stderr string) {
	e.t.Helper()
	var out, errOut bytes.Buffer
	code = execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func (e *cliEnv) run(args ...string) ingestion.RunSummary {
	e.t.Helper()
	code, out, stderr := e.exec(append([]string{"--json", "run"}, args...)...)
	require.Equal(e.t, errors.ExitSuccess, code, stderr)
	var s ingestion.RunSummary
	require.NoError(e.t, json.Unmarshal([]byte(out), &s), out)
	return s
}

func (e *cliEnv) status() StatusResult {
	e.t.Helper()
	code, out, stderr := e.exec("--json", "status")
	require.Equal(e.t, errors.ExitSuccess, code, stderr)
	var s StatusResult
	require.NoError(e.t, json.Unmarshal([]byte(out), &s), out)
	return s
}

func TestCLI_Lifecycle(t *testing.T) {
	e := newCLIEnv(t)

	code, out, stderr := e.exec("--no-color", "init")
	require.Equal(t, errors.ExitSuccess, code, stderr)
	assert.Contains(t, out, ".vecsync/config.yaml")
	assert.FileExists(t, filepath.Join(".vecsync", "config.yaml"))

	code, _, stderr = e.exec("--no-color", "init")
	assert.Equal(t, errors.ExitInput, code)
	assert.Contains(t, stderr, "already exists")

	// Three chunks in batches of two.
	s := e.run("--batch-size", "2")
	assert.Equal(t, 2, s.Batches)
	assert.Equal(t, 3, s.ChunksProcessed)
	assert.Equal(t, 0, s.ChunksFailed)
	assert.True(t, s.ReachedTarget)
	assert.Equal(t, ingestion.StopTargetReached, s.StopReason)
	assert.InDelta(t, 100.0, s.FinalPercentage, 1e-9)

	// Nothing left to do.
	s = e.run("--batch-size", "2")
	assert.Equal(t, 0, s.ChunksProcessed)
	assert.True(t, s.ReachedTarget)
	assert.InDelta(t, 100.0, s.StartPercentage, 1e-9)

	st := e.status()
	assert.Equal(t, 3, st.Progress.Processed)
	assert.Equal(t, 3, st.Progress.Total)
	assert.Equal(t, 3, st.Progress.StoreEntries)
	assert.Equal(t, 3, st.Progress.CheckpointIDs)
	assert.True(t, st.ReachedTarget)
	assert.False(t, st.Running)

	code, out, stderr = e.exec("--json", "verify")
	require.Equal(t, errors.ExitSuccess, code, stderr)
	var v VerifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.True(t, v.OK)
	assert.Equal(t, 3, v.Store.DocEntries)

	// New source rows are picked up; --single embeds exactly one.
	e.sql(`INSERT INTO chunks VALUES (104, 1, 3, 'fourth'); INSERT INTO chunks VALUES (105, 1, 4, 'fifth');`)
	s = e.run("--single")
	assert.Equal(t, 1, s.ChunksProcessed)
	assert.Equal(t, ingestion.StopBatchLimit, s.StopReason)
	assert.False(t, s.ReachedTarget)
	assert.Equal(t, 4, s.Processed)
	assert.Equal(t, 5, s.Total)

	// Rolling back drops chunk 104 from the store while the checkpoint
	// still lists it.
	code, _, stderr = e.exec("--no-color", "restore")
	assert.Equal(t, errors.ExitInput, code)
	assert.Contains(t, stderr, "--yes")

	code, out, stderr = e.exec("--json", "restore", "--yes")
	require.Equal(t, errors.ExitSuccess, code, stderr)
	var r RestoreResult
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, 3, r.Entries)

	code, out, _ = e.exec("--json", "verify")
	assert.Equal(t, errors.ExitStorage, code)
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(out))).Decode(&v))
	assert.False(t, v.OK)
	assert.Equal(t, []int64{104}, v.MissingFromStore)

	code, out, stderr = e.exec("--json", "reset-checkpoint", "--yes")
	require.Equal(t, errors.ExitSuccess, code, stderr)
	var rr ResetResult
	require.NoError(t, json.Unmarshal([]byte(out), &rr))
	assert.True(t, rr.Removed)
	assert.FileExists(t, rr.Backup)

	code, _, stderr = e.exec("verify")
	assert.Equal(t, errors.ExitSuccess, code, stderr)

	st = e.status()
	assert.Equal(t, 3, st.Progress.Processed)
	assert.Equal(t, 5, st.Progress.Total)
	assert.Equal(t, 0, st.Progress.CheckpointIDs)

	// The store is authoritative again: 104 and 105 remain.
	s = e.run()
	assert.Equal(t, 2, s.ChunksProcessed)
	assert.True(t, s.ReachedTarget)
}

func TestCLI_RunTargetPercentage(t *testing.T) {
	e := newCLIEnv(t)
	e.sql(`INSERT INTO chunks VALUES (104, 1, 3, 'fourth');`)

	s := e.run("--target", "50", "--batch-size", "10")
	assert.Equal(t, 2, s.ChunksProcessed, "fetch is capped at what the target needs")
	assert.True(t, s.ReachedTarget)
	assert.InDelta(t, 50.0, s.FinalPercentage, 1e-9)
}

func TestCLI_RunBusy(t *testing.T) {
	e := newCLIEnv(t)
	lock, err := pidfile.Acquire(filepath.Join(".vecsync", "data", "vecsync.pid"))
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	st := e.status()
	assert.True(t, st.Running)
	assert.Equal(t, os.Getpid(), st.RunningPID)

	code, _, stderr := e.exec("--no-color", "run")
	assert.Equal(t, errors.ExitBusy, code)
	assert.Contains(t, stderr, "Another vecsync process is running")

	_, err = os.Stat(filepath.Join(".vecsync", "data", "store"))
	assert.True(t, os.IsNotExist(err), "a refused run must not create the store")
	_, err = os.Stat(filepath.Join(".vecsync", "data", "checkpoint.json"))
	assert.True(t, os.IsNotExist(err))

	code, _, _ = e.exec("reset-checkpoint", "--yes")
	assert.Equal(t, errors.ExitBusy, code)
}

func TestCLI_StalePIDFileIsTakenOver(t *testing.T) {
	e := newCLIEnv(t)
	pidPath := filepath.Join(".vecsync", "data", "vecsync.pid")
	require.NoError(t, os.MkdirAll(filepath.Dir(pidPath), 0o750))
	require.NoError(t, os.WriteFile(pidPath, []byte("not a pid\n"), 0o600))

	s := e.run()
	assert.Equal(t, 3, s.ChunksProcessed)

	holder, err := pidfile.Holder(pidPath)
	require.NoError(t, err)
	assert.Nil(t, holder, "the lock is released after the run")
	assert.False(t, e.status().Running)
}

func TestCLI_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		args  []string
		want  int
		cause string
	}{
		{
			name:  "missing database url",
			env:   map[string]string{"DATABASE_URL": ""},
			args:  []string{"run"},
			want:  errors.ExitConfig,
			cause: "not configured",
		},
		{
			name:  "missing provider credentials",
			env:   map[string]string{"VECSYNC_EMBEDDING_PROVIDER": "openai"},
			args:  []string{"run"},
			want:  errors.ExitConfig,
			cause: "credentials",
		},
		{
			name:  "unknown provider",
			env:   map[string]string{"VECSYNC_EMBEDDING_PROVIDER": "word2vec"},
			args:  []string{"run"},
			want:  errors.ExitConfig,
			cause: "embedding provider",
		},
		{
			name:  "invalid durability flag",
			args:  []string{"run", "--durability", "sometimes"},
			want:  errors.ExitInput,
			cause: "Invalid run options",
		},
		{
			name:  "target out of range",
			args:  []string{"run", "--target", "150"},
			want:  errors.ExitInput,
			cause: "Invalid run options",
		},
		{
			name:  "unknown flag",
			args:  []string{"run", "--fast"},
			want:  errors.ExitInput,
			cause: "Invalid arguments",
		},
		{
			name:  "missing database url for status",
			env:   map[string]string{"DATABASE_URL": ""},
			args:  []string{"status"},
			want:  errors.ExitConfig,
			cause: "not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newCLIEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			code, _, stderr := e.exec(append([]string{"--no-color"}, tt.args...)...)
			assert.Equal(t, tt.want, code, stderr)
			assert.Contains(t, stderr, tt.cause)

			_, err := os.Stat(filepath.Join(".vecsync", "data", "store"))
			assert.True(t, os.IsNotExist(err), "nothing is written on a precondition failure")
		})
	}
}

func TestCLI_ErrorJSON(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("DATABASE_URL", "")

	code, _, stderr := e.exec("--json", "run")
	assert.Equal(t, errors.ExitConfig, code)

	var body errors.ErrorJSON
	require.NoError(t, json.Unmarshal([]byte(stderr), &body), stderr)
	assert.Equal(t, errors.ExitConfig, body.ExitCode)
	assert.NotEmpty(t, body.Fix)
}

func TestCLI_RestoreWithoutBackup(t *testing.T) {
	e := newCLIEnv(t)
	code, _, stderr := e.exec("--no-color", "restore", "--yes")
	assert.Equal(t, errors.ExitNotFound, code, stderr)
	assert.Contains(t, stderr, "No backup")
}

func TestCLI_ResetWithoutCheckpoint(t *testing.T) {
	e := newCLIEnv(t)
	code, out, stderr := e.exec("--json", "reset-checkpoint", "--yes")
	require.Equal(t, errors.ExitSuccess, code, stderr)
	var rr ResetResult
	require.NoError(t, json.Unmarshal([]byte(out), &rr))
	assert.False(t, rr.Removed)
}

func TestExecute_Dispatch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantOut string
		wantErr string
	}{
		{name: "no command", args: nil, want: errors.ExitInput, wantErr: "Usage:"},
		{name: "help", args: []string{"--help"}, want: errors.ExitSuccess, wantErr: "Commands:"},
		{name: "version", args: []string{"--version"}, want: errors.ExitSuccess, wantOut: "vecsync version dev"},
		{name: "unknown command", args: []string{"--no-color", "index"}, want: errors.ExitInput, wantErr: `Unknown command "index"`},
		{name: "bad global flag", args: []string{"--verbose"}, want: errors.ExitInput},
		{name: "command help", args: []string{"run", "--help"}, want: errors.ExitSuccess},
		{name: "completion bash", args: []string{"completion", "bash"}, want: errors.ExitSuccess, wantOut: "complete -F _vecsync_completion vecsync"},
		{name: "completion zsh", args: []string{"completion", "zsh"}, want: errors.ExitSuccess, wantOut: "#compdef vecsync"},
		{name: "completion fish", args: []string{"completion", "fish"}, want: errors.ExitSuccess, wantOut: "complete -c vecsync"},
		{name: "completion unknown shell", args: []string{"--no-color", "completion", "tcsh"}, want: errors.ExitInput, wantErr: "Unsupported shell"},
		{name: "completion without shell", args: []string{"completion"}, want: errors.ExitInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newCLIEnv(t)
			code, out, stderr := e.exec(tt.args...)
			assert.Equal(t, tt.want, code)
			if tt.wantOut != "" {
				assert.Contains(t, out, tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, stderr, tt.wantErr)
			}
		})
	}
}

func TestAddToGitignore(t *testing.T) {
	tests := []struct {
		name     string
		existing *string
		want     bool
		wantBody string
	}{
		{name: "no gitignore", existing: nil, want: false},
		{name: "appends entry", existing: ptr("bin/"), want: true, wantBody: "bin/\n\n# vecsync configuration and vector store\n.vecsync/\n"},
		{name: "already listed", existing: ptr("bin/\n/.vecsync\n"), want: false, wantBody: "bin/\n/.vecsync\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tt.existing != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.existing), 0o600))
			}
			assert.Equal(t, tt.want, addToGitignore(dir))
			if tt.existing != nil {
				body, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(body))
			}
		})
	}
}

func TestFailedList(t *testing.T) {
	assert.Equal(t, "", failedList(nil))
	assert.Equal(t, "1, 2, 3", failedList([]int64{1, 2, 3}))
	ids := make([]int64, 12)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	assert.Equal(t, "1, 2, 3, 4, 5, 6, 7, 8, 9, 10 and 2 more", failedList(ids))
	assert.Equal(t, "1, 2, 3, 4, 5, 6, 7, 8, 9, 10", failedList(ids[:10]))
	assert.Equal(t, "1, 2, 3, 4, 5, 6, 7, 8, 9, 10 and 1 more", failedList(ids[:11]))
}

func ptr[T any](v T) *T { return &v }
