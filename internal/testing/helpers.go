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

package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kraklabs/vecsync/pkg/chunksource"
	"github.com/kraklabs/vecsync/pkg/embedding"
	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// SetupTestStore creates a loaded, empty vector store in a temporary
// directory using a mock embedder of the given dimension.
//
// Example:
//
//	store := testing.SetupTestStore(t, 8)
//	_, err := store.Add(ctx, vectorstore.Document{SourceChunkID: 1, Text: "hello"})
func SetupTestStore(t *testing.T, dim int) *vectorstore.Manager {
	t.Helper()
	return OpenTestStore(t, t.TempDir(), embedding.NewMock(dim))
}

// OpenTestStore opens and loads the store in dir. Use it to simulate a
// process restart against files written by an earlier Manager.
func OpenTestStore(t *testing.T, dir string, e embedding.Embedder) *vectorstore.Manager {
	t.Helper()

	m, err := vectorstore.NewManager(vectorstore.Options{Dir: dir, Embedder: e})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("failed to load test store: %v", err)
	}
	return m
}

// ChunkText is the text SeedChunks gives the chunk with id.
func ChunkText(id int64) string {
	return fmt.Sprintf("chunk %d", id)
}

// SeedChunks returns n chunks with ids start, start+1, ... grouped into
// documents of perDoc chunks each.
//
// Example:
//
//	chunks := testing.SeedChunks(101, 3, 2) // ids 101..103, documents 1 and 2
func SeedChunks(start int64, n, perDoc int) []chunksource.Chunk {
	if perDoc <= 0 {
		perDoc = 1
	}
	chunks := make([]chunksource.Chunk, 0, n)
	for i := 0; i < n; i++ {
		id := start + int64(i)
		doc := int64(i/perDoc) + 1
		chunks = append(chunks, chunksource.Chunk{
			ID:         id,
			DocumentID: doc,
			Index:      i % perDoc,
			Text:       ChunkText(id),
			Title:      fmt.Sprintf("Document %d", doc),
			SourceType: chunksource.SourceTypePDF,
		})
	}
	return chunks
}

// ScriptedEmbedder wraps an embedder and fails selected texts.
type ScriptedEmbedder struct {
	Base embedding.Embedder

	mu        sync.Mutex
	remaining map[string]int // -1 fails forever
	errs      map[string]error
	calls     map[string]int
}

// NewScriptedEmbedder creates a ScriptedEmbedder delegating to base.
func NewScriptedEmbedder(base embedding.Embedder) *ScriptedEmbedder {
	return &ScriptedEmbedder{
		Base:      base,
		remaining: make(map[string]int),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// FailTimes makes the next n calls for text return err.
func (s *ScriptedEmbedder) FailTimes(text string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining[text] = n
	s.errs[text] = err
}

// FailAlways makes every call for text return err.
func (s *ScriptedEmbedder) FailAlways(text string, err error) {
	s.FailTimes(text, -1, err)
}

// Calls returns how many times text was embedded, failures included.
func (s *ScriptedEmbedder) Calls(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

// TotalCalls returns the number of Embed calls.
func (s *ScriptedEmbedder) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Embed implements embedding.Embedder.
func (s *ScriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls[text]++
	left, scripted := s.remaining[text]
	if scripted && left != 0 {
		if left > 0 {
			s.remaining[text] = left - 1
		}
		err := s.errs[text]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.Base.Embed(ctx, text)
}
