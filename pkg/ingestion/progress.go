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
	"fmt"
	"math"
	"sync"
	"time"
)

// MaxETA caps estimates so that a near-zero rate never yields an absurd
// or overflowing duration.
const MaxETA = 365 * 24 * time.Hour

// Progress is a point-in-time view of completion.
type Progress struct {
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Percentage float64       `json:"percentage"`
	Rate       float64       `json:"rate"` // chunks per second
	ETA        time.Duration `json:"eta"`
	ETAKnown   bool          `json:"eta_known"`
}

// ETAString renders the ETA, "unknown" when there is no rate yet.
func (p Progress) ETAString() string {
	if !p.ETAKnown {
		return "unknown"
	}
	if p.ETA >= MaxETA {
		return ">1y"
	}
	return p.ETA.Round(time.Second).String()
}

// String implements fmt.Stringer.
func (p Progress) String() string {
	return fmt.Sprintf("%d/%d (%.2f%%) %.2f chunks/s, ETA %s", p.Processed, p.Total, p.Percentage, p.Rate, p.ETAString())
}

// Percentage returns processed/total*100, 0 when total is 0.
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

// targetReached compares without dividing, so 100 is only reached when
// every chunk is processed.
func targetReached(processed, total int, target float64) bool {
	if total <= 0 {
		return false
	}
	return float64(processed)*100 >= target*float64(total)
}

// chunksForTarget returns how many processed chunks satisfy target.
func chunksForTarget(total int, target float64) int {
	return int(math.Ceil(target * float64(total) / 100))
}

type sample struct {
	at        time.Time
	processed int
}

// ProgressReporter derives a smoothed rate and ETA from processed counts
// observed over a rolling time window.
type ProgressReporter struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
	now     func() time.Time
}

// NewProgressReporter creates a reporter averaging over window
// (60s when window <= 0).
func NewProgressReporter(window time.Duration) *ProgressReporter {
	if window <= 0 {
		window = time.Minute
	}
	return &ProgressReporter{window: window, now: time.Now}
}

// Reset drops all samples.
func (r *ProgressReporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
}

// Observe records the processed count at the current time.
func (r *ProgressReporter) Observe(processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.samples = append(r.samples, sample{at: now, processed: processed})

	// Keep one sample older than the window as the rate baseline.
	cutoff := now.Add(-r.window)
	drop := 0
	for drop < len(r.samples)-2 && !r.samples[drop+1].at.After(cutoff) {
		drop++
	}
	if drop > 0 {
		r.samples = append(r.samples[:0], r.samples[drop:]...)
	}
}

// Rate returns chunks per second over the window, 0 when unknown.
func (r *ProgressReporter) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < 2 {
		return 0
	}
	first, last := r.samples[0], r.samples[len(r.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	dp := last.processed - first.processed
	if dt <= 0 || dp <= 0 {
		return 0
	}
	return float64(dp) / dt
}

// Snapshot combines counts with the current rate.
func (r *ProgressReporter) Snapshot(processed, total int) Progress {
	p := Progress{
		Processed:  processed,
		Total:      total,
		Percentage: Percentage(processed, total),
		Rate:       r.Rate(),
	}

	remaining := total - processed
	switch {
	case remaining <= 0:
		p.ETA, p.ETAKnown = 0, true
	case p.Rate > 0:
		secs := float64(remaining) / p.Rate
		if math.IsInf(secs, 0) || math.IsNaN(secs) || secs >= MaxETA.Seconds() {
			p.ETA = MaxETA
		} else {
			p.ETA = time.Duration(secs * float64(time.Second))
		}
		p.ETAKnown = true
	}
	return p
}
