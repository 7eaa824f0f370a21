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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces embedding calls at least delay apart and backs off
// further after the provider reports a rate limit.
type Throttle struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	notBefore time.Time
	now       func() time.Time
}

// NewThrottle creates a throttle. A delay <= 0 never waits unless penalized.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1), now: time.Now}
}

// Wait blocks until the next call is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	until := t.notBefore
	t.mu.Unlock()

	if wait := until.Sub(t.now()); wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	return t.limiter.Wait(ctx)
}

// Penalize pushes the next permitted call at least d into the future.
func (t *Throttle) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if at := t.now().Add(d); at.After(t.notBefore) {
		t.notBefore = at
	}
}
