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

// Package vectorstore persists embedded chunks as a flat vector index paired
// with a document store.
//
// Row i of the index is the vector of document entry i. The [Manager] is the
// only component that writes either file, and it keeps the pairing intact:
//
//   - Add embeds first and appends to both structures only on success.
//   - Save backs up the current files to <file>.bak.<unix-nanos>, then
//     replaces the document store and the index atomically (temp file,
//     fsync, rename), document store first.
//   - Load trims whichever side is longer when the counts disagree, and
//     recovers a missing or unreadable file from its newest backup.
//
// Backups are never deleted automatically.
//
// # Files
//
//	documents.json   {"version":1,"next_id":N,"dimension":D,"entries":{"0":{...},...}}
//	vectors.idx      "VSIX" | version u32 | dim u32 | count u64 | count*dim float32 (LE)
//
// Entries added since the last Save live only in memory; a crash loses them
// and nothing else.
package vectorstore
