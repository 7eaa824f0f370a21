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

package vectorstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Report is the result of Inspect. It describes the files as they are on
// disk, before any of the repairs Load would apply.
type Report struct {
	Dir               string   `json:"dir"`
	DocStoreExists    bool     `json:"docstore_exists"`
	IndexExists       bool     `json:"index_exists"`
	DocEntries        int      `json:"doc_entries"`
	DocNextID         int      `json:"doc_next_id"`
	IndexRows         int      `json:"index_rows"`
	IndexHeaderCount  int      `json:"index_header_count"`
	Dimension         int      `json:"dimension"`
	DuplicateChunkIDs []int64  `json:"duplicate_chunk_ids,omitempty"`
	DocBackups        int      `json:"doc_backups"`
	IndexBackups      int      `json:"index_backups"`
	Problems          []string `json:"problems,omitempty"`
}

// OK reports whether no problems were found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Inspect reads the store files in dir without modifying anything and
// reports pairing, numbering and duplicate problems.
func Inspect(dir string) (*Report, error) {
	r := &Report{Dir: dir}
	docPath := filepath.Join(dir, DocStoreFile)
	idxPath := filepath.Join(dir, IndexFile)

	if b, err := ListBackups(docPath); err == nil {
		r.DocBackups = len(b)
	}
	if b, err := ListBackups(idxPath); err == nil {
		r.IndexBackups = len(b)
	}

	docRes, err := readDocStore(docPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		r.DocStoreExists = true
		r.problem("document store unreadable: %v", err)
	default:
		r.DocStoreExists = true
		r.DocEntries = docRes.fileCount
		r.DocNextID = docRes.fileNextID
		if docRes.gapAt >= 0 {
			r.problem("document store ids are not contiguous (first gap at %d)", docRes.gapAt)
		}
		if docRes.fileNextID != docRes.fileCount {
			r.problem("document store next_id %d does not match %d entries", docRes.fileNextID, docRes.fileCount)
		}

		seen := make(map[int64]int, len(docRes.store.entries))
		for _, e := range docRes.store.entries {
			seen[e.SourceChunkID]++
		}
		for id, n := range seen {
			if n > 1 {
				r.DuplicateChunkIDs = append(r.DuplicateChunkIDs, id)
			}
		}
		sort.Slice(r.DuplicateChunkIDs, func(i, j int) bool { return r.DuplicateChunkIDs[i] < r.DuplicateChunkIDs[j] })
		if len(r.DuplicateChunkIDs) > 0 {
			r.problem("%d source chunks have more than one entry", len(r.DuplicateChunkIDs))
		}
		r.Dimension = docRes.store.dimension
	}

	idxRes, err := readIndex(idxPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		r.IndexExists = true
		r.problem("vector index unreadable: %v", err)
	default:
		r.IndexExists = true
		r.IndexRows = idxRes.index.count()
		r.IndexHeaderCount = idxRes.headerCount
		if idxRes.index.dim != 0 {
			if r.Dimension != 0 && r.Dimension != idxRes.index.dim {
				r.problem("document store dimension %d differs from index dimension %d", r.Dimension, idxRes.index.dim)
			}
			r.Dimension = idxRes.index.dim
		}
		if r.IndexRows != r.IndexHeaderCount {
			r.problem("vector index is truncated: header says %d rows, %d readable", r.IndexHeaderCount, r.IndexRows)
		}
	}

	if r.DocStoreExists != r.IndexExists {
		r.problem("only one of %s and %s exists", DocStoreFile, IndexFile)
	} else if r.DocEntries != r.IndexRows {
		r.problem("document store has %d entries but vector index has %d rows", r.DocEntries, r.IndexRows)
	}
	return r, nil
}
