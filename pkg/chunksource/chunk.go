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

package chunksource

import (
	"context"
	"sort"
)

// Source types known to the enrichment step.
const (
	SourceTypePDF = "pdf"
	SourceTypeWeb = "web"
)

// Chunk is a read-only view of one chunk row joined with its document.
type Chunk struct {
	ID         int64  // stable, never reused
	DocumentID int64  // owning document
	Index      int    // ordinal within the document
	Text       string // chunk content

	// Denormalized document fields. Empty when the document has none.
	Title      string
	Filename   string
	DOI        string
	Citation   string
	SourceType string
	URL        string
}

// Source is the relational store of documents and chunks.
type Source interface {
	// TotalCount returns the number of chunks in the source.
	TotalCount(ctx context.Context) (int, error)

	// FetchUnprocessed returns up to limit chunks positioned strictly after
	// after (from the start when nil) whose ids are not in excluded, ordered
	// by (document id, chunk ordinal).
	FetchUnprocessed(ctx context.Context, after *Cursor, excluded map[int64]struct{}, limit int) ([]Chunk, error)
}

// Cursor is a position in the (document id, chunk ordinal, id) order.
type Cursor struct {
	DocumentID int64
	Index      int
	ID         int64
}

// CursorAt returns the position of c.
func CursorAt(c Chunk) *Cursor {
	return &Cursor{DocumentID: c.DocumentID, Index: c.Index, ID: c.ID}
}

// Before reports whether the cursor position sorts before c.
func (p *Cursor) Before(c Chunk) bool {
	return lessChunk(Chunk{DocumentID: p.DocumentID, Index: p.Index, ID: p.ID}, c)
}

// SortChunks orders chunks by (document id, chunk ordinal, id).
func SortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return lessChunk(chunks[i], chunks[j])
	})
}

func lessChunk(a, b Chunk) bool {
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.ID < b.ID
}
