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

package embedding

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// LlamaCpp embeds text with a llama.cpp server.
// The server must run with: llama-server --embedding -m model.gguf --port 8090
type LlamaCpp struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type llamaCppRequest struct {
	Content string `json:"content"`
}

// llama.cpp answers with a list of results, each holding a nested vector list.
type llamaCppResponse []struct {
	Index     int         `json:"index"`
	Embedding [][]float64 `json:"embedding"`
}

// NewLlamaCpp creates a llama.cpp embedder.
func NewLlamaCpp(baseURL string, timeout time.Duration, logger *slog.Logger) *LlamaCpp {
	if logger == nil {
		logger = slog.Default()
	}
	return &LlamaCpp{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Embed implements Embedder.
func (l *LlamaCpp) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp llamaCppResponse
	if err := postJSON(ctx, l.httpClient, "llamacpp", l.baseURL+"/embedding", "",
		llamaCppRequest{Content: text}, &resp, nil); err != nil {
		return nil, err
	}

	if len(resp) == 0 || len(resp[0].Embedding) == 0 || len(resp[0].Embedding[0]) == 0 {
		return nil, &Error{Provider: "llamacpp", Message: "empty embedding in response"}
	}
	return Normalize(toFloat32(resp[0].Embedding[0])), nil
}
