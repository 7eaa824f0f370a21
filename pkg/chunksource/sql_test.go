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
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chunkColumns = []string{"id", "document_id", "chunk_index", "content",
	"title", "filename", "doi", "citation", "source_type", "url"}

func newMockSource(t *testing.T, opts SQLOptions) (*SQLSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	src, err := NewSQLSource(db, opts, nil)
	require.NoError(t, err)
	return src, mock
}

func TestSQLSource_TotalCount(t *testing.T) {
	src, mock := newMockSource(t, SQLOptions{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM chunks")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := src.TotalCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_TotalCount_Error(t *testing.T) {
	src, mock := newMockSource(t, SQLOptions{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM chunks")).
		WillReturnError(errors.New("connection refused"))

	_, err := src.TotalCount(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count chunks")
}

func TestSQLSource_FetchUnprocessed_SkipsExcludedAcrossPages(t *testing.T) {
	src, mock := newMockSource(t, SQLOptions{PageSize: 2})

	mock.ExpectQuery(regexp.QuoteMeta(src.firstPageQuery)).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow(101, 1, 0, "alpha", "Doc", "doc.pdf", "", "", "pdf", "").
			AddRow(102, 1, 1, "beta", "Doc", "doc.pdf", "", "", "pdf", ""))
	mock.ExpectQuery(regexp.QuoteMeta(src.nextPageQuery)).
		WithArgs(1, 1, 102, 2).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow(103, 2, 0, "gamma", "Web", "", "10.1/x", "Cite", "web", "https://example.org"))

	excluded := map[int64]struct{}{101: {}}
	chunks, err := src.FetchUnprocessed(context.Background(), nil, excluded, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, int64(102), chunks[0].ID)
	assert.Equal(t, int64(103), chunks[1].ID)
	assert.Equal(t, "10.1/x", chunks[1].DOI)
	assert.Equal(t, "https://example.org", chunks[1].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_FetchUnprocessed_StopsAtLimit(t *testing.T) {
	src, mock := newMockSource(t, SQLOptions{PageSize: 10})

	mock.ExpectQuery(regexp.QuoteMeta(src.firstPageQuery)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow(1, 1, 0, "a", "", "", "", "", "", "").
			AddRow(2, 1, 1, "b", "", "", "", "", "", "").
			AddRow(3, 1, 2, "c", "", "", "", "", "", ""))

	chunks, err := src.FetchUnprocessed(context.Background(), nil, nil, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(2), chunks[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_FetchUnprocessed_ResumesAfterCursor(t *testing.T) {
	src, mock := newMockSource(t, SQLOptions{PageSize: 10})

	// A resumed fetch starts at the cursor; it never rereads the first page.
	mock.ExpectQuery(regexp.QuoteMeta(src.nextPageQuery)).
		WithArgs(4, 2, 57, 10).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow(58, 4, 3, "d", "", "", "", "", "", "").
			AddRow(60, 5, 0, "e", "", "", "", "", "", ""))

	after := &Cursor{DocumentID: 4, Index: 2, ID: 57}
	chunks, err := src.FetchUnprocessed(context.Background(), after, map[int64]struct{}{58: {}}, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(60), chunks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_PostgresPlaceholders(t *testing.T) {
	src, _ := newMockSource(t, SQLOptions{Dialect: DialectPostgres})
	assert.Contains(t, src.nextPageQuery, "($1, $2, $3)")
	assert.Contains(t, src.nextPageQuery, "LIMIT $4")

	lite, _ := newMockSource(t, SQLOptions{Dialect: DialectSQLite})
	assert.Contains(t, lite.nextPageQuery, "(?, ?, ?)")
	assert.NotContains(t, lite.nextPageQuery, "$")
}

func TestSQLOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    SQLOptions
		wantErr bool
	}{
		{"defaults", SQLOptions{}, false},
		{"schema qualified", SQLOptions{ChunksTable: "corpus.chunks"}, false},
		{"unknown dialect", SQLOptions{Dialect: "mysql"}, true},
		{"injection", SQLOptions{ChunksTable: "chunks; DROP TABLE x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.applyDefaults()
			err := opts.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLSource_SQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")

	setup, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = setup.Exec(`
		CREATE TABLE documents (id INTEGER PRIMARY KEY, title TEXT, filename TEXT, doi TEXT,
			citation TEXT, source_type TEXT, url TEXT);
		CREATE TABLE chunks (id INTEGER PRIMARY KEY, document_id INTEGER, chunk_index INTEGER, content TEXT);
		INSERT INTO documents VALUES (1, 'Paper', 'paper.pdf', '10.1/p', NULL, 'pdf', NULL);
		INSERT INTO documents VALUES (2, 'Page', NULL, NULL, NULL, 'web', 'https://example.org');
		INSERT INTO chunks VALUES (103, 2, 0, 'third');
		INSERT INTO chunks VALUES (102, 1, 1, 'second');
		INSERT INTO chunks VALUES (101, 1, 0, 'first');
	`)
	require.NoError(t, err)
	require.NoError(t, setup.Close())

	ctx := context.Background()
	src, err := Open(ctx, path, SQLOptions{Dialect: DialectSQLite, PageSize: 2}, nil)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	total, err := src.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	chunks, err := src.FetchUnprocessed(ctx, nil, map[int64]struct{}{102: {}}, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(101), chunks[0].ID)
	assert.Equal(t, "Paper", chunks[0].Title)
	assert.Equal(t, "", chunks[0].Citation)
	assert.Equal(t, int64(103), chunks[1].ID)
	assert.Equal(t, "https://example.org", chunks[1].URL)
}

func TestSQLSource_SQLiteBatchWalkScansEachRowOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")
	setup, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = setup.Exec(`
		CREATE TABLE documents (id INTEGER PRIMARY KEY, title TEXT, filename TEXT, doi TEXT,
			citation TEXT, source_type TEXT, url TEXT);
		CREATE TABLE chunks (id INTEGER PRIMARY KEY, document_id INTEGER, chunk_index INTEGER, content TEXT);
		WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 50)
		INSERT INTO chunks SELECT i, (i - 1) / 10, (i - 1) % 10, 'chunk ' || i FROM n;
	`)
	require.NoError(t, err)
	require.NoError(t, setup.Close())

	ctx := context.Background()
	src, err := Open(ctx, path, SQLOptions{Dialect: DialectSQLite, PageSize: 4}, nil)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	var (
		after *Cursor
		seen  []int64
	)
	for {
		batch, err := src.FetchUnprocessed(ctx, after, nil, 7)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			seen = append(seen, c.ID)
		}
		after = CursorAt(batch[len(batch)-1])
	}

	require.Len(t, seen, 50)
	for i, id := range seen {
		assert.Equal(t, int64(i+1), id)
	}
}
