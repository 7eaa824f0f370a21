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
	"sync"
)

// Memory is an in-memory Source. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	chunks []Chunk

	// Fetches counts FetchUnprocessed calls.
	Fetches int
	// Err, when set, is returned by every call.
	Err error
}

// NewMemory creates a Memory source holding a sorted copy of chunks.
func NewMemory(chunks ...Chunk) *Memory {
	m := &Memory{}
	m.Add(chunks...)
	return m
}

// Add appends chunks to the source, keeping the (document, ordinal) order.
func (m *Memory) Add(chunks ...Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	SortChunks(m.chunks)
}

// TotalCount implements Source.
func (m *Memory) TotalCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return len(m.chunks), nil
}

// FetchUnprocessed implements Source.
func (m *Memory) FetchUnprocessed(ctx context.Context, after *Cursor, excluded map[int64]struct{}, limit int) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches++
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Chunk
	for _, c := range m.chunks {
		if limit > 0 && len(out) >= limit {
			break
		}
		if after != nil && !after.Before(c) {
			continue
		}
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
