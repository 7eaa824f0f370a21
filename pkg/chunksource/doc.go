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

// Package chunksource reads document chunks from the relational source of truth.
//
// A [Source] answers two questions for the ingestion engine: how many chunks
// exist in total, and which chunks come next that have not been processed yet.
// Chunks are always returned ordered by (document id, chunk ordinal) so that a
// resumed run walks the corpus in the same order as the run that was interrupted.
//
// # Implementations
//
//   - [SQLSource]: PostgreSQL (lib/pq) or SQLite (modernc.org/sqlite) over database/sql
//   - [Memory]: an in-memory source for tests and dry runs
//
// # Exclusion
//
// The excluded set passed to FetchUnprocessed can hold hundreds of thousands of
// ids. Instead of sending it to the database, SQLSource pages through the
// ordered chunk table with keyset pagination and drops excluded ids while
// scanning. Callers that walk the table batch by batch pass the [Cursor] of
// the last chunk they received, so each row is scanned once per run rather
// than once per batch. The source is never written to.
package chunksource
