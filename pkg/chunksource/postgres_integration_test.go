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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSource_PostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vecsync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	setup, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	_, err = setup.ExecContext(ctx, `
		CREATE TABLE documents (id BIGINT PRIMARY KEY, title TEXT, filename TEXT, doi TEXT,
			citation TEXT, source_type TEXT, url TEXT);
		CREATE TABLE chunks (id BIGINT PRIMARY KEY, document_id BIGINT, chunk_index INT, content TEXT);
		INSERT INTO documents VALUES (1, 'Paper', 'paper.pdf', NULL, NULL, 'pdf', NULL);
		INSERT INTO chunks VALUES (101, 1, 0, 'first'), (102, 1, 1, 'second'), (103, 1, 2, 'third');
	`)
	require.NoError(t, err)
	require.NoError(t, setup.Close())

	src, err := Open(ctx, dsn, SQLOptions{Dialect: DialectPostgres, PageSize: 1}, nil)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	total, err := src.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	chunks, err := src.FetchUnprocessed(ctx, nil, map[int64]struct{}{101: {}}, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(102), chunks[0].ID)
	assert.Equal(t, int64(103), chunks[1].ID)
}
