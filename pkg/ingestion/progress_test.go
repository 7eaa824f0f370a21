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

package ingestion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter(window time.Duration) (*ProgressReporter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewProgressReporter(window)
	r.now = clock.now
	return r, clock
}

func TestPercentage(t *testing.T) {
	assert.InDelta(t, 0.0, Percentage(0, 0), 1e-9)
	assert.InDelta(t, 0.0, Percentage(5, 0), 1e-9)
	assert.InDelta(t, 50.0, Percentage(5, 10), 1e-9)
	assert.InDelta(t, 100.0, Percentage(3, 3), 1e-9)
}

func TestChunksForTarget(t *testing.T) {
	assert.Equal(t, 10, chunksForTarget(10, 100))
	assert.Equal(t, 9, chunksForTarget(10, 90))
	assert.Equal(t, 1, chunksForTarget(3, 33.3))
	assert.Equal(t, 2, chunksForTarget(3, 33.34))
	assert.Equal(t, 0, chunksForTarget(0, 100))
}

func TestProgressReporter_NoSamples(t *testing.T) {
	r, _ := newTestReporter(time.Minute)

	p := r.Snapshot(0, 10)
	assert.InDelta(t, 0.0, p.Rate, 1e-9)
	assert.False(t, p.ETAKnown)
	assert.Equal(t, "unknown", p.ETAString())
}

func TestProgressReporter_RateAndETA(t *testing.T) {
	r, clock := newTestReporter(time.Minute)

	r.Observe(0)
	clock.advance(10 * time.Second)
	r.Observe(10)

	p := r.Snapshot(10, 100)
	assert.InDelta(t, 1.0, p.Rate, 1e-9)
	assert.True(t, p.ETAKnown)
	assert.Equal(t, 90*time.Second, p.ETA)
	assert.Equal(t, "1m30s", p.ETAString())
	assert.InDelta(t, 10.0, p.Percentage, 1e-9)
}

func TestProgressReporter_RollingWindow(t *testing.T) {
	r, clock := newTestReporter(time.Minute)

	r.Observe(0)
	clock.advance(30 * time.Second)
	r.Observe(100)
	clock.advance(90 * time.Second)
	r.Observe(200)

	// The first sample fell out of the window; the 30s sample is the baseline.
	assert.InDelta(t, 100.0/90.0, r.Rate(), 1e-9)
}

func TestProgressReporter_Stalled(t *testing.T) {
	r, clock := newTestReporter(time.Minute)

	r.Observe(5)
	clock.advance(10 * time.Second)
	r.Observe(5)

	p := r.Snapshot(5, 10)
	assert.InDelta(t, 0.0, p.Rate, 1e-9)
	assert.False(t, p.ETAKnown)
}

func TestProgressReporter_Complete(t *testing.T) {
	r, _ := newTestReporter(time.Minute)

	p := r.Snapshot(10, 10)
	assert.True(t, p.ETAKnown)
	assert.Equal(t, time.Duration(0), p.ETA)
}

func TestProgressReporter_ETACapped(t *testing.T) {
	r, clock := newTestReporter(time.Minute)

	r.Observe(0)
	clock.advance(400 * 24 * time.Hour)
	r.Observe(1)

	p := r.Snapshot(1, 1_000_000)
	assert.True(t, p.ETAKnown)
	assert.Equal(t, MaxETA, p.ETA)
	assert.Equal(t, ">1y", p.ETAString())
	assert.False(t, math.IsNaN(p.Rate))
}

func TestProgressReporter_Reset(t *testing.T) {
	r, clock := newTestReporter(time.Minute)

	r.Observe(0)
	clock.advance(time.Second)
	r.Observe(10)
	r.Reset()

	assert.InDelta(t, 0.0, r.Rate(), 1e-9)
}

func TestProgress_String(t *testing.T) {
	p := Progress{Processed: 5, Total: 10, Percentage: 50, Rate: 2.5, ETA: 2 * time.Second, ETAKnown: true}
	assert.Equal(t, "5/10 (50.00%) 2.50 chunks/s, ETA 2s", p.String())
}
