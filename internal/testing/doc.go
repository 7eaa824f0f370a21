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

// Package testing provides test helpers shared by vecsync packages.
//
// # Quick Start
//
// Use SetupTestStore to get an empty vector store in a temporary directory,
// backed by the deterministic mock embedder:
//
//	func TestMyFeature(t *testing.T) {
//	    store := testing.SetupTestStore(t, 8)
//	    source := chunksource.NewMemory(testing.SeedChunks(1, 10, 4)...)
//
//	    // Run the code under test against store and source...
//	}
//
// # Scripted Failures
//
// ScriptedEmbedder wraps another embedder and fails chosen chunk texts,
// either a fixed number of times or on every call:
//   - FailTimes: fail the next n calls for a text, then succeed
//   - FailAlways: fail every call for a text
//   - Calls: count calls per text
//
// # Integration Tests
//
// Tests that need Docker (PostgreSQL via testcontainers) are skipped with
// -short. Run them with:
//
//	go test ./... -run Integration
package testing
