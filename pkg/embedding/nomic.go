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
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Nomic embeds text with the Nomic Atlas API.
// API docs: https://docs.nomic.ai/reference/endpoints/nomic-embed-text
type Nomic struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type nomicRequest struct {
	Texts    []string `json:"texts"`
	Model    string   `json:"model"`
	TaskType string   `json:"task_type,omitempty"`
}

type nomicResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Usage      struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewNomic creates a Nomic Atlas embedder.
func NewNomic(apiKey, baseURL, model string, timeout time.Duration, logger *slog.Logger) *Nomic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nomic{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Embed implements Embedder.
func (n *Nomic) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp nomicResponse
	err := postJSON(ctx, n.httpClient, "nomic", n.baseURL+"/embedding/text", n.apiKey,
		nomicRequest{Texts: []string{text}, Model: n.model, TaskType: "search_document"}, &resp,
		func(body []byte) string {
			var e struct {
				Detail string `json:"detail"`
			}
			if json.Unmarshal(body, &e) == nil {
				return e.Detail
			}
			return ""
		})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, &Error{Provider: "nomic", Message: "empty embedding in response"}
	}
	return Normalize(toFloat32(resp.Embeddings[0])), nil
}
