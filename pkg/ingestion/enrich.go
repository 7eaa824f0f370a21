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
	"context"

	"github.com/kraklabs/vecsync/pkg/chunksource"
)

// Enricher turns a chunk into the text to embed and the metadata stored
// with it.
type Enricher interface {
	Enrich(ctx context.Context, c chunksource.Chunk) (text string, metadata map[string]any, err error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, c chunksource.Chunk) (string, map[string]any, error)

// Enrich implements Enricher.
func (f EnricherFunc) Enrich(ctx context.Context, c chunksource.Chunk) (string, map[string]any, error) {
	return f(ctx, c)
}

// DefaultEnricher embeds the chunk text unchanged and records the chunk
// identity plus every non-empty document field as metadata.
type DefaultEnricher struct{}

// Enrich implements Enricher.
func (DefaultEnricher) Enrich(ctx context.Context, c chunksource.Chunk) (string, map[string]any, error) {
	return c.Text, ChunkMetadata(c), nil
}

// ChunkMetadata builds the standard metadata map for a chunk.
func ChunkMetadata(c chunksource.Chunk) map[string]any {
	md := map[string]any{
		"chunk_id":    c.ID,
		"document_id": c.DocumentID,
		"chunk_index": c.Index,
	}
	optional := []struct {
		key, val string
	}{
		{"title", c.Title},
		{"filename", c.Filename},
		{"doi", c.DOI},
		{"citation", c.Citation},
		{"source_type", c.SourceType},
		{"url", c.URL},
	}
	for _, o := range optional {
		if o.val != "" {
			md[o.key] = o.val
		}
	}
	return md
}
