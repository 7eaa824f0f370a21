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

package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// capture redirects Out and disables colors for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	savedOut, savedNoColor := Out, color.NoColor
	Out, color.NoColor = &buf, true
	t.Cleanup(func() { Out, color.NoColor = savedOut, savedNoColor })
	return &buf
}

func TestInitColors(t *testing.T) {
	original := color.NoColor
	defer func() { color.NoColor = original }()

	InitColors(true)
	assert.True(t, color.NoColor)

	t.Setenv("NO_COLOR", "")
	InitColors(false)
	assert.Equal(t, !IsTerminal(os.Stdout), color.NoColor)
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name string
		call func()
		want string
	}{
		{"success", func() { Success("saved") }, "✓ saved\n"},
		{"successf", func() { Successf("%d chunks", 3) }, "✓ 3 chunks\n"},
		{"warning", func() { Warningf("%d failed", 1) }, "⚠ 1 failed\n"},
		{"error", func() { Error("boom") }, "✗ boom\n"},
		{"info", func() { Infof("run %s", "abc") }, "ℹ run abc\n"},
		{"header", func() { Header("Status") }, "Status\n======\n"},
		{"field", func() { Field("Total", 42) }, "  Total:           42\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.call()
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestInlineHelpers(t *testing.T) {
	capture(t)

	assert.Equal(t, "Label", Label("Label"))
	assert.Equal(t, "/tmp/store", DimText("/tmp/store"))
	assert.Equal(t, "42", CountText(42))
	assert.Equal(t, "99.50%", PercentText(99.5, 100))
	assert.Equal(t, "100.00%", PercentText(100, 100))
}
