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
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const docStoreVersion = 1

// Document is what callers hand to Manager.Add.
type Document struct {
	SourceChunkID    int64
	SourceDocumentID int64
	Text             string
	Metadata         map[string]any
}

// Entry is a stored document. Its ID is the row of its vector in the index.
type Entry struct {
	ID               int            `json:"-"`
	SourceChunkID    int64          `json:"source_chunk_id"`
	SourceDocumentID int64          `json:"source_document_id"`
	Text             string         `json:"text"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// docStoreFile is the on-disk layout of the document store.
type docStoreFile struct {
	Version   int            `json:"version"`
	NextID    int            `json:"next_id"`
	Dimension int            `json:"dimension"`
	Entries   map[int]*Entry `json:"entries"`
}

// docStore keeps entries in id order; entries[i].ID == i.
type docStore struct {
	entries   []Entry
	dimension int
}

// docLoadResult describes what readDocStore found on disk.
type docLoadResult struct {
	store      *docStore
	fileNextID int // next_id as written in the file
	fileCount  int // number of entries in the file
	gapAt      int // first missing id, -1 when ids are contiguous
}

func readDocStore(path string) (*docLoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var file docStoreFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode document store: %w", err)
	}
	if file.Version > docStoreVersion {
		return nil, fmt.Errorf("document store version %d is newer than supported %d", file.Version, docStoreVersion)
	}

	res := &docLoadResult{
		store:      &docStore{dimension: file.Dimension},
		fileNextID: file.NextID,
		fileCount:  len(file.Entries),
		gapAt:      -1,
	}

	// Only the contiguous prefix 0..k-1 can be paired with index rows.
	for id := 0; id < len(file.Entries); id++ {
		e, ok := file.Entries[id]
		if !ok || e == nil {
			res.gapAt = id
			break
		}
		e.ID = id
		res.store.entries = append(res.store.entries, *e)
	}
	return res, nil
}

func (d *docStore) write(w io.Writer) error {
	file := docStoreFile{
		Version:   docStoreVersion,
		NextID:    len(d.entries),
		Dimension: d.dimension,
		Entries:   make(map[int]*Entry, len(d.entries)),
	}
	for i := range d.entries {
		file.Entries[i] = &d.entries[i]
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(&file); err != nil {
		return fmt.Errorf("encode document store: %w", err)
	}
	return nil
}

func (d *docStore) count() int {
	return len(d.entries)
}

func (d *docStore) truncate(n int) {
	if n < len(d.entries) {
		d.entries = d.entries[:n]
	}
}
