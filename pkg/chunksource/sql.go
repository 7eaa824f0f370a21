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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const defaultPageSize = 500

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLOptions configures an SQLSource.
type SQLOptions struct {
	Dialect        string // DialectPostgres or DialectSQLite
	ChunksTable    string // default "chunks"
	DocumentsTable string // default "documents"
	PageSize       int    // rows scanned per round trip, default 500
}

func (o *SQLOptions) applyDefaults() {
	if o.Dialect == "" {
		o.Dialect = DialectPostgres
	}
	if o.ChunksTable == "" {
		o.ChunksTable = "chunks"
	}
	if o.DocumentsTable == "" {
		o.DocumentsTable = "documents"
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
}

func (o SQLOptions) validate() error {
	switch o.Dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return fmt.Errorf("unsupported dialect %q (supported: postgres, sqlite)", o.Dialect)
	}
	for _, name := range []string{o.ChunksTable, o.DocumentsTable} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// SQLSource reads chunks through database/sql.
//
// Expected schema (column names are fixed, table names are configurable):
//
//	chunks(id, document_id, chunk_index, content)
//	documents(id, title, filename, doi, citation, source_type, url)
type SQLSource struct {
	db     *sql.DB
	opts   SQLOptions
	logger *slog.Logger

	countQuery     string
	firstPageQuery string
	nextPageQuery  string
}

// Open connects to the chunk database and verifies the connection.
func Open(ctx context.Context, dsn string, opts SQLOptions, logger *slog.Logger) (*SQLSource, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	driverDSN := dsn
	if opts.Dialect == DialectSQLite && !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		driverDSN = dsn + sep + "_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	}

	db, err := sql.Open(opts.Dialect, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Dialect, err)
	}
	return NewSQLSource(db, opts, logger)
}

// NewSQLSource wraps an existing connection pool.
func NewSQLSource(db *sql.DB, opts SQLOptions, logger *slog.Logger) (*SQLSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &SQLSource{db: db, opts: opts, logger: logger}
	s.buildQueries()
	return s, nil
}

func (s *SQLSource) buildQueries() {
	ph := func(n int) string {
		if s.opts.Dialect == DialectPostgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	selectCols := fmt.Sprintf(`SELECT c.id, c.document_id, c.chunk_index, c.content, `+
		`COALESCE(d.title, ''), COALESCE(d.filename, ''), COALESCE(d.doi, ''), `+
		`COALESCE(d.citation, ''), COALESCE(d.source_type, ''), COALESCE(d.url, '') `+
		`FROM %s c LEFT JOIN %s d ON d.id = c.document_id`,
		s.opts.ChunksTable, s.opts.DocumentsTable)
	order := " ORDER BY c.document_id, c.chunk_index, c.id"

	s.countQuery = fmt.Sprintf("SELECT COUNT(*) FROM %s", s.opts.ChunksTable)
	s.firstPageQuery = selectCols + order + " LIMIT " + ph(1)
	s.nextPageQuery = selectCols +
		fmt.Sprintf(" WHERE (c.document_id, c.chunk_index, c.id) > (%s, %s, %s)", ph(1), ph(2), ph(3)) +
		order + " LIMIT " + ph(4)
}

// Close closes the underlying connection pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// TotalCount implements Source.
func (s *SQLSource) TotalCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.countQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// FetchUnprocessed implements Source.
func (s *SQLSource) FetchUnprocessed(ctx context.Context, after *Cursor, excluded map[int64]struct{}, limit int) ([]Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	out := make([]Chunk, 0, limit)
	cur := after
	scanned, pages := 0, 0

	for len(out) < limit {
		page, err := s.page(ctx, cur)
		if err != nil {
			return nil, err
		}
		pages++
		for _, c := range page {
			scanned++
			if _, skip := excluded[c.ID]; skip {
				continue
			}
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
		if len(page) < s.opts.PageSize {
			break
		}
		cur = CursorAt(page[len(page)-1])
	}

	s.logger.Debug("chunksource.fetch",
		"returned", len(out),
		"scanned", scanned,
		"pages", pages,
		"excluded", len(excluded),
		"resumed", after != nil,
	)
	return out, nil
}

func (s *SQLSource) page(ctx context.Context, cur *Cursor) ([]Chunk, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cur == nil {
		rows, err = s.db.QueryContext(ctx, s.firstPageQuery, s.opts.PageSize)
	} else {
		rows, err = s.db.QueryContext(ctx, s.nextPageQuery, cur.DocumentID, cur.Index, cur.ID, s.opts.PageSize)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var page []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text,
			&c.Title, &c.Filename, &c.DOI, &c.Citation, &c.SourceType, &c.URL); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		page = append(page, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return page, nil
}
