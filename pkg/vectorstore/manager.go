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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kraklabs/vecsync/pkg/embedding"
)

// File names inside the store directory.
const (
	DocStoreFile = "documents.json"
	IndexFile    = "vectors.idx"
)

var (
	// ErrDimensionMismatch is returned when a vector or a file does not match
	// the store dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDuplicateChunk is returned by Add when the source chunk already has an entry.
	ErrDuplicateChunk = errors.New("chunk already stored")
	// ErrNoBackup is returned by RestoreLatestBackup when nothing can be restored.
	ErrNoBackup = errors.New("no backup available")
	// ErrReadOnly is returned by Add, Save and restores on a read-only Manager.
	ErrReadOnly = errors.New("vector store opened read-only")

	errNoEmbedder = errors.New("vectorstore: no embedder configured")
)

// Options configures a Manager.
type Options struct {
	// Dir holds the document store, the index and their backups.
	Dir string
	// Dimension is the expected vector size. Zero adopts the size of the
	// files on disk or of the first added vector.
	Dimension int
	// Embedder is needed by Add only.
	Embedder embedding.Embedder
	Logger   *slog.Logger
	// ReadOnly disables writes and leaves unreadable files in place on Load.
	ReadOnly bool
}

// Stats summarizes the loaded store.
type Stats struct {
	Entries   int       `json:"entries"`
	Dimension int       `json:"dimension"`
	Dirty     bool      `json:"dirty"`
	LastSaved time.Time `json:"last_saved,omitempty"`
}

// Manager owns the vector index and the document store as one unit.
// It is the only writer of the store files.
type Manager struct {
	mu       sync.RWMutex
	dir      string
	embedder embedding.Embedder
	logger   *slog.Logger
	wantDim  int
	readOnly bool

	docs      *docStore
	index     *flatIndex
	chunkIDs  map[int64]int // source chunk id -> entry id
	dirty     bool
	lastSaved time.Time
}

// NewManager creates a Manager. Call Load before using it.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("vectorstore: directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		dir:      opts.Dir,
		embedder: opts.Embedder,
		logger:   opts.Logger,
		wantDim:  opts.Dimension,
		readOnly: opts.ReadOnly,
	}
	m.reset(opts.Dimension)
	return m, nil
}

func (m *Manager) reset(dim int) {
	m.docs = &docStore{dimension: dim}
	m.index = newFlatIndex(dim)
	m.chunkIDs = make(map[int64]int)
	m.dirty = false
}

// DocStorePath returns the path of the document store file.
func (m *Manager) DocStorePath() string { return filepath.Join(m.dir, DocStoreFile) }

// IndexPath returns the path of the vector index file.
func (m *Manager) IndexPath() string { return filepath.Join(m.dir, IndexFile) }

// Load replaces the in-memory state with what is on disk. Unsaved entries
// are discarded.
//
// Missing files give an empty store. A primary file that is missing or
// unreadable while backups exist is recovered from the newest readable
// backup. When the two files disagree on the entry count, the shorter side
// wins and the longer one is trimmed; the repaired state is written on the
// next Save.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docRes, docSrc, err := loadWithRecovery(m.DocStorePath(), readDocStore, m.readOnly, m.logger)
	if err != nil {
		return fmt.Errorf("load document store: %w", err)
	}
	idxRes, idxSrc, err := loadWithRecovery(m.IndexPath(), readIndex, m.readOnly, m.logger)
	if err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}

	m.reset(m.wantDim)
	repaired := docSrc != m.DocStorePath() && docSrc != "" || idxSrc != m.IndexPath() && idxSrc != ""

	if idxRes != nil {
		if m.wantDim != 0 && idxRes.index.dim != 0 && idxRes.index.dim != m.wantDim {
			return fmt.Errorf("%w: index has %d, configured %d", ErrDimensionMismatch, idxRes.index.dim, m.wantDim)
		}
		if idxRes.index.count() != idxRes.headerCount {
			m.logger.Error("vectorstore.load.index_truncated",
				"path", idxSrc,
				"header_count", idxRes.headerCount,
				"readable_rows", idxRes.index.count(),
			)
			repaired = true
		}
		m.index = idxRes.index
	}
	if docRes != nil {
		if docRes.gapAt >= 0 || docRes.fileNextID != docRes.fileCount {
			m.logger.Warn("vectorstore.load.docstore_inconsistent",
				"path", docSrc,
				"next_id", docRes.fileNextID,
				"entries", docRes.fileCount,
				"first_gap", docRes.gapAt,
			)
			repaired = true
		}
		m.docs = docRes.store
	}

	dim := m.index.dim
	if dim == 0 {
		dim = m.docs.dimension
	}
	if dim == 0 {
		dim = m.wantDim
	}
	if m.index.dim == 0 {
		m.index.dim = dim
	}
	m.docs.dimension = dim

	docCount, idxCount := m.docs.count(), m.index.count()
	if docCount != idxCount {
		keep := min(docCount, idxCount)
		m.logger.Error("vectorstore.load.mismatch",
			"document_entries", docCount,
			"index_rows", idxCount,
			"kept", keep,
		)
		m.docs.truncate(keep)
		m.index.truncate(keep)
		repaired = true
	}

	dups := 0
	for i, e := range m.docs.entries {
		if _, seen := m.chunkIDs[e.SourceChunkID]; seen {
			dups++
			continue
		}
		m.chunkIDs[e.SourceChunkID] = i
	}
	if dups > 0 {
		m.logger.Warn("vectorstore.load.duplicates", "duplicate_chunk_entries", dups)
	}

	m.dirty = repaired
	m.logger.Info("vectorstore.load.done",
		"entries", m.docs.count(),
		"dimension", dim,
		"repaired", repaired,
	)
	return nil
}

// loadWithRecovery reads path, falling back to its backups (newest first)
// when the primary is missing or unreadable. It returns a nil result when
// neither the primary nor any backup exists, and the path actually used.
func loadWithRecovery[T any](path string, read func(string) (*T, error), readOnly bool, logger *slog.Logger) (*T, string, error) {
	res, err := read(path)
	if err == nil {
		return res, path, nil
	}
	missing := errors.Is(err, os.ErrNotExist)

	backups, lerr := ListBackups(path)
	if lerr != nil {
		return nil, "", lerr
	}
	if len(backups) == 0 {
		if missing {
			return nil, "", nil
		}
		if readOnly {
			logger.Error("vectorstore.load.corrupt_no_backup", "path", path, "err", err)
			return nil, "", nil
		}
		// Unreadable primary and nothing to fall back to: start empty,
		// moving the broken file aside for inspection.
		aside := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UnixNano())
		logger.Error("vectorstore.load.corrupt_no_backup", "path", path, "err", err, "moved_to", aside)
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, "", fmt.Errorf("move corrupt %s aside: %w", path, rerr)
		}
		return nil, "", nil
	}

	logger.Error("vectorstore.load.recovering",
		"path", path,
		"missing", missing,
		"err", err,
		"backups", len(backups),
	)
	for _, b := range backups {
		res, berr := read(b.Path)
		if berr != nil {
			logger.Warn("vectorstore.load.backup_unreadable", "backup", b.Path, "err", berr)
			continue
		}
		logger.Warn("vectorstore.load.recovered", "path", path, "backup", b.Path)
		return res, b.Path, nil
	}
	return nil, "", fmt.Errorf("%s is unreadable and no backup could be read: %w", path, err)
}

// Add embeds doc and appends it to both the index and the document store.
// Either both get the row or neither does. The new entry id is returned.
func (m *Manager) Add(ctx context.Context, doc Document) (int, error) {
	if m.readOnly {
		return -1, ErrReadOnly
	}
	if m.embedder == nil {
		return -1, errNoEmbedder
	}
	m.mu.RLock()
	existing, dup := m.chunkIDs[doc.SourceChunkID]
	m.mu.RUnlock()
	if dup {
		return existing, fmt.Errorf("%w: chunk %d is entry %d", ErrDuplicateChunk, doc.SourceChunkID, existing)
	}

	vec, err := m.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return -1, err
	}
	if len(vec) == 0 {
		return -1, &embedding.Error{Provider: "store", Message: "embedder returned an empty vector", Permanent: true}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index.dim == 0 {
		m.index.dim = len(vec)
		m.docs.dimension = len(vec)
	}
	if len(vec) != m.index.dim {
		return -1, fmt.Errorf("%w: got %d, store has %d", ErrDimensionMismatch, len(vec), m.index.dim)
	}
	if id, ok := m.chunkIDs[doc.SourceChunkID]; ok {
		return id, fmt.Errorf("%w: chunk %d is entry %d", ErrDuplicateChunk, doc.SourceChunkID, id)
	}

	id := m.docs.count()
	m.index.add(vec)
	m.docs.entries = append(m.docs.entries, Entry{
		ID:               id,
		SourceChunkID:    doc.SourceChunkID,
		SourceDocumentID: doc.SourceDocumentID,
		Text:             doc.Text,
		Metadata:         doc.Metadata,
	})
	m.chunkIDs[doc.SourceChunkID] = id
	m.dirty = true
	return id, nil
}

// Save persists the store. The current files are backed up first, then the
// document store and the index are replaced atomically, in that order.
// A clean store is not rewritten.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readOnly {
		return ErrReadOnly
	}
	if !m.dirty {
		return nil
	}
	start := time.Now()

	docBackup, err := BackupFile(m.DocStorePath())
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	idxBackup, err := BackupFile(m.IndexPath())
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	if err := WriteFileAtomic(m.DocStorePath(), m.docs.write); err != nil {
		return fmt.Errorf("save document store: %w", err)
	}
	if err := WriteFileAtomic(m.IndexPath(), m.index.write); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}

	m.dirty = false
	m.lastSaved = time.Now()
	m.logger.Debug("vectorstore.save.done",
		"entries", m.docs.count(),
		"doc_backup", docBackup,
		"index_backup", idxBackup,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// ProcessedChunkIDs returns the source chunk ids that have an entry.
func (m *Manager) ProcessedChunkIDs() map[int64]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]struct{}, len(m.chunkIDs))
	for id := range m.chunkIDs {
		out[id] = struct{}{}
	}
	return out
}

// HasChunk reports whether the source chunk has an entry.
func (m *Manager) HasChunk(chunkID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.chunkIDs[chunkID]
	return ok
}

// Entry returns the stored entry and its vector.
func (m *Manager) Entry(id int) (Entry, []float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 0 || id >= m.docs.count() {
		return Entry{}, nil, false
	}
	vec := append([]float32(nil), m.index.vector(id)...)
	return m.docs.entries[id], vec, true
}

// Stats returns the entry count and dimension.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Entries:   m.docs.count(),
		Dimension: m.index.dim,
		Dirty:     m.dirty,
		LastSaved: m.lastSaved,
	}
}

// Dirty reports whether entries were added since the last Save or Load.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// RestoreLatestBackup replaces both store files with their newest backups
// and reloads. The files being replaced are backed up first.
func (m *Manager) RestoreLatestBackup(ctx context.Context) error {
	if m.readOnly {
		return ErrReadOnly
	}
	for _, path := range []string{m.DocStorePath(), m.IndexPath()} {
		backups, err := ListBackups(path)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			return fmt.Errorf("%w for %s", ErrNoBackup, filepath.Base(path))
		}
	}

	for _, path := range []string{m.DocStorePath(), m.IndexPath()} {
		backups, _ := ListBackups(path)
		latest := backups[0]

		if _, err := BackupFile(path); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		err := WriteFileAtomic(path, func(w io.Writer) error {
			f, err := os.Open(latest.Path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			_, err = io.Copy(w, f)
			return err
		})
		if err != nil {
			return fmt.Errorf("restore %s: %w", filepath.Base(path), err)
		}
		m.logger.Warn("vectorstore.restore", "path", path, "from", latest.Path)
	}
	return m.Load(ctx)
}
