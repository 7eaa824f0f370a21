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
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2(v []float32) float64 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	return math.Sqrt(norm)
}

func TestMock_Embed(t *testing.T) {
	m := NewMock(64)
	ctx := context.Background()

	a, err := m.Embed(ctx, "chunk one")
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, l2(a), 0.001)

	again, err := m.Embed(ctx, "chunk one")
	require.NoError(t, err)
	assert.Equal(t, a, again, "same text must give the same vector")

	b, err := m.Embed(ctx, "chunk two")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMock_EmbedCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMock(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
	}{
		{"typical vector", []float32{1, 2, 3, 4, 5}},
		{"large values", []float32{1000, 2000, 3000}},
		{"small values", []float32{0.001, 0.002, 0.003}},
		{"negative values", []float32{-1, 2, -3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if math.Abs(l2(got)-1.0) > 0.001 {
				t.Errorf("Normalize() L2 norm = %f, want ~1.0", l2(got))
			}
		})
	}

	t.Run("zero vector unchanged", func(t *testing.T) {
		got := Normalize([]float32{0, 0, 0})
		assert.Equal(t, []float32{0, 0, 0}, got)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &Error{Provider: "openai", StatusCode: 429}, true},
		{"server error", &Error{Provider: "openai", StatusCode: 503}, true},
		{"request timeout", &Error{Provider: "openai", StatusCode: 408}, true},
		{"bad request", &Error{Provider: "openai", StatusCode: 400}, false},
		{"unauthorized", &Error{Provider: "openai", StatusCode: 401}, false},
		{"permanent", &Error{Provider: "openai", StatusCode: 503, Permanent: true}, false},
		{"wrapped server error", fmt.Errorf("embed: %w", &Error{Provider: "x", StatusCode: 502}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"opaque", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(fmt.Errorf("wrap: %w", &Error{StatusCode: 429})))
	assert.False(t, IsRateLimited(&Error{StatusCode: 500}))
	assert.False(t, IsRateLimited(errors.New("429")))
}

func TestError_Message(t *testing.T) {
	err := &Error{Provider: "ollama", StatusCode: 500, Message: "model not loaded"}
	assert.Equal(t, "ollama embedding error (status 500): model not loaded", err.Error())

	cause := errors.New("boom")
	err = &Error{Provider: "gemini", Err: cause}
	assert.Equal(t, "gemini embedding error: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		cfg         Config
		wantMissing bool
		wantErr     bool
	}{
		{name: "mock default", cfg: Config{Provider: "mock"}},
		{name: "empty means mock", cfg: Config{}},
		{name: "openai with key", cfg: Config{Provider: "openai", APIKey: "sk-test"}},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantMissing: true, wantErr: true},
		{name: "nomic without key", cfg: Config{Provider: "nomic"}, wantMissing: true, wantErr: true},
		{name: "gemini without key", cfg: Config{Provider: "gemini"}, wantMissing: true, wantErr: true},
		{name: "ollama needs no key", cfg: Config{Provider: "ollama"}},
		{name: "llamacpp needs no key", cfg: Config{Provider: "llamacpp"}},
		{name: "unknown", cfg: Config{Provider: "word2vec"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(ctx, tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantMissing, errors.Is(err, ErrMissingCredentials))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, emb)
		})
	}
}

func TestNew_MockDimensions(t *testing.T) {
	emb, err := New(context.Background(), Config{Provider: "mock", Dimensions: 16}, nil)
	require.NoError(t, err)
	vec, err := emb.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}
