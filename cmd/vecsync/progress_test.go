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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/vecsync/pkg/ingestion"
)

func TestNewProgressConfig(t *testing.T) {
	tests := []struct {
		name        string
		globals     GlobalFlags
		wantNoColor bool
	}{
		{name: "default flags", globals: GlobalFlags{}},
		{name: "quiet", globals: GlobalFlags{Quiet: true}},
		{name: "json sets quiet", globals: GlobalFlags{JSON: true, Quiet: true}},
		{name: "no color propagates", globals: GlobalFlags{NoColor: true}, wantNoColor: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewProgressConfig(tt.globals)
			// stderr is not a terminal under go test.
			assert.False(t, cfg.Enabled)
			assert.Equal(t, tt.wantNoColor, cfg.NoColor)
			assert.Equal(t, os.Stderr, cfg.Writer)
		})
	}
}

func TestNewProgressBar(t *testing.T) {
	assert.Nil(t, NewProgressBar(ProgressConfig{}, 10, "off"))
	assert.Nil(t, NewSpinner(ProgressConfig{}, "off"))

	var buf bytes.Buffer
	cfg := ProgressConfig{Enabled: true, Writer: &buf, NoColor: true}
	bar := NewProgressBar(cfg, 10, "Embedding")
	require.NotNil(t, bar)
	require.NoError(t, bar.Set(5))
	require.NoError(t, bar.Finish())

	spinner := NewSpinner(cfg, "Waiting")
	require.NotNil(t, spinner)
	require.NoError(t, spinner.Add(1))
	require.NoError(t, spinner.Finish())
}

func TestRunProgress_Observe(t *testing.T) {
	t.Run("disabled does nothing", func(t *testing.T) {
		p := newRunProgress(ProgressConfig{})
		p.observe(ingestion.ChunkResult{Progress: ingestion.Progress{Processed: 1, Total: 2}})
		assert.Nil(t, p.bar)
		p.finish()
	})

	t.Run("bar follows engine counts", func(t *testing.T) {
		var buf bytes.Buffer
		p := newRunProgress(ProgressConfig{Enabled: true, Writer: &buf, NoColor: true})

		p.observe(ingestion.ChunkResult{OK: true, Progress: ingestion.Progress{Processed: 3, Total: 10}})
		require.NotNil(t, p.bar)
		assert.Equal(t, int64(10), p.bar.GetMax64())
		assert.Equal(t, int64(3), p.bar.State().CurrentNum)

		// The source grew mid-run.
		p.observe(ingestion.ChunkResult{OK: true, Progress: ingestion.Progress{Processed: 4, Total: 20}})
		assert.Equal(t, int64(20), p.bar.GetMax64())
		p.finish()
	})
}

func TestDescribeProgress(t *testing.T) {
	tests := []struct {
		name string
		p    ingestion.Progress
		want string
	}{
		{
			name: "no rate yet",
			p:    ingestion.Progress{Processed: 1, Total: 4, Percentage: 25},
			want: "Embedding 25.0% 0.0/s ETA unknown",
		},
		{
			name: "with eta",
			p:    ingestion.Progress{Processed: 1, Total: 4, Percentage: 25, Rate: 2, ETA: 90 * time.Second, ETAKnown: true},
			want: "Embedding 25.0% 2.0/s ETA 1m30s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeProgress(tt.p))
		})
	}
}
