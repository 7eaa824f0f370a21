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

// Package ingestion drives resumable, idempotent embedding of source chunks
// into a vector store.
//
// An Engine pulls unprocessed chunks from a chunksource.Source in batches,
// embeds each one through the vector store, and persists progress so that
// an interrupted run resumes where it stopped without embedding any chunk
// twice.
//
// # Run Lifecycle
//
// Each StartRun call moves the engine through these states:
//
//  1. Loading: load the vector store and checkpoint, derive the processed set
//  2. Running: fetch, embed and persist batches
//  3. Paused: stop once the target percentage is reached, the source is
//     exhausted or the batch limit is hit
//
// A failure to load, fetch or save ends the run in StateFailed. A single
// chunk that keeps failing after its retries is logged, counted and skipped
// for the rest of the run; it is fetched again by the next run.
//
// # Durability
//
// The vector store is always saved before the checkpoint is written, so the
// checkpoint never lists a chunk whose entry is not on disk. With
// DurabilityPerChunk both are persisted after every chunk; with
// DurabilityPerBatch after every batch. Canceling the context stops the run
// after the current chunk and persists what was done.
//
// # Target Percentage
//
// A run stops once processed*100 >= target*total. The fetch size is capped
// so that a run never embeds more chunks than the target needs.
//
// # Quick Start
//
//	engine, err := ingestion.NewEngine(ingestion.Config{
//	    Source:     source,
//	    Store:      manager,
//	    Checkpoint: ingestion.NewCheckpointStore(".vecsync/checkpoint.json", logger),
//	    Logger:     logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	summary, err := engine.StartRun(ctx, ingestion.RunOptions{
//	    BatchSize:        100,
//	    TargetPercentage: 100,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("processed %d chunks, now at %.2f%%\n",
//	    summary.ChunksProcessed, summary.FinalPercentage)
package ingestion
