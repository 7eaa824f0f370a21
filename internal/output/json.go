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

// Package output renders command results for the vecsync CLI.
//
// Every command produces a result value. With --json it is encoded as
// indented JSON on stdout; otherwise a command-specific text renderer
// prints it:
//
//	return output.Render(os.Stdout, jsonMode, summary, func(w io.Writer) error {
//	    _, err := fmt.Fprintf(w, "processed %d chunks\n", summary.ChunksProcessed)
//	    return err
//	})
package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONTo writes v to w as JSON indented by two spaces.
func JSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}

// JSONLineTo writes v to w as a single line of JSON. Used for streamed
// per-chunk events.
func JSONLineTo(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}

// Render writes v as JSON when jsonMode is set and calls text otherwise.
func Render(w io.Writer, jsonMode bool, v any, text func(io.Writer) error) error {
	if jsonMode {
		return JSONTo(w, v)
	}
	return text(w)
}
