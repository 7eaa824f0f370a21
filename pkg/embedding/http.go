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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends body as JSON and decodes a 200 response into out.
// Non-200 responses are returned as *Error carrying the status code and the
// message extracted by errMsg (or the raw body when errMsg finds nothing).
func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string,
	body any, out any, errMsg func([]byte) string) error {

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &Error{Provider: provider, Message: "marshal request", Err: err, Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return &Error{Provider: provider, Message: "create request", Err: err, Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Provider: provider, Message: fmt.Sprintf("http request to %s: %v", url, err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Provider: provider, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := ""
		if errMsg != nil {
			msg = errMsg(respBody)
		}
		if msg == "" {
			msg = string(respBody)
		}
		return &Error{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Provider: provider, StatusCode: resp.StatusCode, Message: "parse response", Err: err, Permanent: true}
	}
	return nil
}
