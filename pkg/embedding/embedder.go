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
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

// Embedder generates embeddings for chunk text.
type Embedder interface {
	// Embed returns a normalized vector (L2 norm = 1.0) or an error.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrMissingCredentials is returned by New when a provider needs an API key
// that was not configured.
var ErrMissingCredentials = errors.New("embedding credentials missing")

// Error is the failure type returned by all providers.
type Error struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
	// Permanent marks errors that will not go away on retry.
	Permanent bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding error (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s embedding error: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying.
//
// Status codes win when known: 408, 429 and 5xx retry, other 4xx do not.
// Without a status, classification falls back to the error text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Permanent {
			return false
		}
		switch {
		case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
			return true
		case e.StatusCode >= 500:
			return true
		case e.StatusCode >= 400:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "temporarily unavailable", "connection refused", "connection reset", "deadline exceeded", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err is an HTTP 429 from the provider.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusTooManyRequests
}

// Config selects and configures a provider.
type Config struct {
	Provider   string        // mock, openai, ollama, nomic, llamacpp, gemini
	Model      string        // provider default when empty
	BaseURL    string        // provider default when empty
	APIKey     string        // required by openai, nomic and gemini
	Dimensions int           // mock vector size, default 384
	Timeout    time.Duration // HTTP timeout, provider default when zero
}

// New creates the configured embedder. Missing credentials are reported
// through ErrMissingCredentials before any network call is made.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case "mock", "":
		dim := cfg.Dimensions
		if dim <= 0 {
			dim = 384
		}
		return NewMock(dim), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai provider requires OPENAI_API_KEY", ErrMissingCredentials)
		}
		return NewOpenAI(cfg.APIKey, withDefault(cfg.BaseURL, "https://api.openai.com/v1"),
			withDefault(cfg.Model, "text-embedding-3-small"), timeoutOr(cfg.Timeout, 60*time.Second), logger), nil

	case "ollama":
		return NewOllama(withDefault(cfg.BaseURL, "http://localhost:11434"),
			withDefault(cfg.Model, "nomic-embed-text"), timeoutOr(cfg.Timeout, 120*time.Second), logger), nil

	case "nomic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: nomic provider requires NOMIC_API_KEY", ErrMissingCredentials)
		}
		return NewNomic(cfg.APIKey, withDefault(cfg.BaseURL, "https://api-atlas.nomic.ai/v1"),
			withDefault(cfg.Model, "nomic-embed-text-v1.5"), timeoutOr(cfg.Timeout, 60*time.Second), logger), nil

	case "llamacpp":
		return NewLlamaCpp(withDefault(cfg.BaseURL, "http://localhost:8090"),
			timeoutOr(cfg.Timeout, 120*time.Second), logger), nil

	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini provider requires GEMINI_API_KEY", ErrMissingCredentials)
		}
		g, err := NewGemini(ctx, cfg.APIKey, withDefault(cfg.Model, "gemini-embedding-001"), logger)
		if err != nil {
			return nil, err
		}
		return g, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, openai, ollama, nomic, llamacpp, gemini)", cfg.Provider)
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Normalize scales v to unit length in place. Zero vectors are returned as is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	n := float32(norm)
	for i := range v {
		v[i] /= n
	}
	return v
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
