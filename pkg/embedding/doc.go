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

// Package embedding turns chunk text into fixed-dimension float vectors.
//
// # Providers
//
//   - "mock": deterministic hash-based vectors, no network
//   - "openai": OpenAI or any compatible /embeddings endpoint
//   - "ollama": local Ollama server
//   - "nomic": Nomic Atlas API
//   - "llamacpp": llama.cpp server started with --embedding
//   - "gemini": Google Gemini through the generative-ai-go client
//
// Every provider returns L2-normalized vectors. Failures are reported as
// [*Error], which records the HTTP status when one is known so that callers
// can tell transient failures (timeouts, 429, 5xx) from permanent ones
// (bad request, bad credentials) with [IsRetryable] and [IsRateLimited].
//
// # Usage
//
//	emb, err := embedding.New(ctx, embedding.Config{Provider: "openai", APIKey: key}, logger)
//	if err != nil {
//	    return err
//	}
//	vec, err := emb.Embed(ctx, "some chunk text")
package embedding
