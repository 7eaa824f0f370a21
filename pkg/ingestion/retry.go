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
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/kraklabs/vecsync/pkg/embedding"
	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// RetryConfig controls per-chunk retries.
type RetryConfig struct {
	MaxAttempts    int           // total attempts per chunk, including the first
	InitialBackoff time.Duration // zero disables sleeping between attempts
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig returns 3 attempts with jittered exponential backoff
// starting at 200ms and capped at 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 2.0}
}

func (c RetryConfig) sanitize() RetryConfig {
	if c == (RetryConfig{}) {
		return DefaultRetryConfig()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff < 0 {
		c.InitialBackoff = 0
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = 2.0
	}
	return c
}

// backoff returns the sleep before retry number attempt (0-based), drawn
// uniformly from [0, min(max, initial*mult^attempt)].
func (c RetryConfig) backoff(attempt int) time.Duration {
	if c.InitialBackoff <= 0 {
		return 0
	}
	exp := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		exp *= c.Multiplier
	}
	d := time.Duration(exp)
	if d > c.MaxBackoff || d <= 0 {
		d = c.MaxBackoff
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// shouldRetry decides whether a failed Add is worth another attempt.
// Provider errors follow their own classification; anything unclassified
// is treated as transient.
func shouldRetry(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, vectorstore.ErrDimensionMismatch):
		return false
	}
	var e *embedding.Error
	if errors.As(err, &e) {
		return embedding.IsRetryable(err)
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
