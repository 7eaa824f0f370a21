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

package ingestion

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// ProgressSnapshot is the progress recorded alongside a checkpoint.
type ProgressSnapshot struct {
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Rate       float64 `json:"rate,omitempty"`
}

// CheckpointRecord is the on-disk checkpoint.
type CheckpointRecord struct {
	ProcessedChunkIDs []int64          `json:"processed_chunk_ids"`
	Timestamp         string           `json:"timestamp"` // RFC 3339
	ProgressSnapshot  ProgressSnapshot `json:"progress_snapshot"`
}

// Checkpointer persists the set of processed chunk ids.
type Checkpointer interface {
	Load() (map[int64]struct{}, *CheckpointRecord)
	Record(ids map[int64]struct{}, snap ProgressSnapshot) error
}

// CheckpointStore keeps the checkpoint in a single JSON file.
type CheckpointStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewCheckpointStore creates a checkpoint store writing to path.
func NewCheckpointStore(path string, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{path: path, logger: logger, now: time.Now}
}

// Path returns the checkpoint file path.
func (c *CheckpointStore) Path() string {
	return c.path
}

// Load reads the checkpoint. A missing or unreadable file yields an empty
// set and a nil record; corruption is logged, never returned.
func (c *CheckpointStore) Load() (map[int64]struct{}, *CheckpointRecord) {
	ids := make(map[int64]struct{})

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("checkpoint.read.failed", "path", c.path, "err", err)
		}
		return ids, nil
	}

	var rec CheckpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Error("checkpoint.corrupt", "path", c.path, "err", err)
		return ids, nil
	}
	for _, id := range rec.ProcessedChunkIDs {
		ids[id] = struct{}{}
	}
	return ids, &rec
}

// Record atomically overwrites the checkpoint with ids and snap.
func (c *CheckpointStore) Record(ids map[int64]struct{}, snap ProgressSnapshot) error {
	rec := CheckpointRecord{
		ProcessedChunkIDs: make([]int64, 0, len(ids)),
		Timestamp:         c.now().UTC().Format(time.RFC3339),
		ProgressSnapshot:  snap,
	}
	for id := range ids {
		rec.ProcessedChunkIDs = append(rec.ProcessedChunkIDs, id)
	}
	sort.Slice(rec.ProcessedChunkIDs, func(i, j int) bool {
		return rec.ProcessedChunkIDs[i] < rec.ProcessedChunkIDs[j]
	})

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	err = vectorstore.WriteFileAtomic(c.path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Reset clears the checkpoint. The current file is backed up first and the
// backup path is returned ("" when there was no checkpoint).
func (c *CheckpointStore) Reset() (string, error) {
	backup, err := vectorstore.BackupFile(c.path)
	if err != nil {
		return "", fmt.Errorf("backup checkpoint: %w", err)
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return backup, fmt.Errorf("remove checkpoint: %w", err)
	}
	c.logger.Warn("checkpoint.reset", "path", c.path, "backup", backup)
	return backup, nil
}
