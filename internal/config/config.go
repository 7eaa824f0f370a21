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

// Package config loads the vecsync configuration.
//
// Settings come from .vecsync/config.yaml, overlaid by environment
// variables. A .env file in the working directory or next to the config
// file is loaded first and never overrides variables already set.
//
// Every setting can be overridden with a VECSYNC_ variable
// (VECSYNC_BATCH_SIZE, VECSYNC_TARGET_PERCENTAGE, ...). The common
// unprefixed names DATABASE_URL, OPENAI_API_KEY, GEMINI_API_KEY,
// NOMIC_API_KEY and OLLAMA_HOST are honored as well.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/vecsync/pkg/chunksource"
	"github.com/kraklabs/vecsync/pkg/embedding"
	"github.com/kraklabs/vecsync/pkg/ingestion"
)

const (
	DefaultDir  = ".vecsync"
	DefaultFile = "config.yaml"
	EnvPrefix   = "VECSYNC"
)

var (
	// ErrMissingRequired is returned by Validate when a required setting is empty.
	ErrMissingRequired = errors.New("missing required configuration")
	// ErrInvalid is returned by Validate for out-of-range settings.
	ErrInvalid = errors.New("invalid configuration")
	// ErrExists is returned by WriteDefaultTemplate when the file is already there.
	ErrExists = errors.New("configuration file already exists")
)

type SourceConfig struct {
	Driver         string `yaml:"driver"` // postgres or sqlite
	DSN            string `yaml:"dsn"`
	ChunksTable    string `yaml:"chunks_table"`
	DocumentsTable string `yaml:"documents_table"`
	PageSize       int    `yaml:"page_size"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model,omitempty"`
	BaseURL    string        `yaml:"base_url,omitempty"`
	APIKey     string        `yaml:"api_key,omitempty"`
	Dimensions int           `yaml:"dimensions,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

type StoreConfig struct {
	DataDir   string `yaml:"data_dir"`
	Reconcile string `yaml:"reconcile"` // union or store
}

type RunConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	TargetPercentage float64       `yaml:"target_percentage"`
	Delay            time.Duration `yaml:"delay"`
	Durability       string        `yaml:"durability"` // per-batch or per-chunk
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	ProgressWindow   time.Duration `yaml:"progress_window"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // empty disables the metrics endpoint
}

// Config is the complete vecsync configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Run       RunConfig       `yaml:"run"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Path is the file the configuration was read from, "" when none existed.
	Path string `yaml:"-"`
}

// envOverlay lists the environment variables Load applies on top of the
// file. Zero values leave the file setting alone.
type envOverlay struct {
	SourceDriver      string        `split_words:"true"`
	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	EmbeddingProvider string        `split_words:"true"`
	EmbeddingModel    string        `split_words:"true"`
	EmbeddingBaseURL  string        `split_words:"true"`
	EmbeddingAPIKey   string        `envconfig:"EMBEDDING_API_KEY"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	NomicAPIKey       string        `envconfig:"NOMIC_API_KEY"`
	OllamaHost        string        `envconfig:"OLLAMA_HOST"`
	DataDir           string        `split_words:"true"`
	BatchSize         int           `split_words:"true"`
	TargetPercentage  float64       `split_words:"true"`
	Delay             time.Duration `split_words:"true"`
	Durability        string        `split_words:"true"`
	MetricsAddr       string        `split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Source.Driver == "" {
		c.Source.Driver = chunksource.DialectPostgres
	}
	if c.Source.ChunksTable == "" {
		c.Source.ChunksTable = "chunks"
	}
	if c.Source.DocumentsTable == "" {
		c.Source.DocumentsTable = "documents"
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = 500
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = filepath.Join(DefaultDir, "data")
	}
	if c.Store.Reconcile == "" {
		c.Store.Reconcile = string(ingestion.ReconcileUnion)
	}
	if c.Run.BatchSize == 0 {
		c.Run.BatchSize = 100
	}
	if c.Run.TargetPercentage == 0 {
		c.Run.TargetPercentage = 100
	}
	if c.Run.Durability == "" {
		c.Run.Durability = string(ingestion.DurabilityPerBatch)
	}
	if c.Run.MaxAttempts == 0 {
		c.Run.MaxAttempts = 3
	}
	if c.Run.InitialBackoff == 0 {
		c.Run.InitialBackoff = 200 * time.Millisecond
	}
	if c.Run.MaxBackoff == 0 {
		c.Run.MaxBackoff = 2 * time.Second
	}
	if c.Run.ProgressWindow == 0 {
		c.Run.ProgressWindow = time.Minute
	}
}

// DefaultPath returns .vecsync/config.yaml under the working directory.
func DefaultPath() string {
	return filepath.Join(DefaultDir, DefaultFile)
}

// Load reads the configuration at path (DefaultPath when empty), applies
// the environment overlay and defaults. A missing file is not an error:
// the result is the defaults plus the environment. Load does not validate.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	_ = godotenv.Load(".env")
	if envFile := filepath.Join(filepath.Dir(path), ".env"); envFile != ".env" {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Source.Driver, env.SourceDriver)
	set(&c.Source.DSN, env.DatabaseURL)
	set(&c.Embedding.Provider, env.EmbeddingProvider)
	set(&c.Embedding.Model, env.EmbeddingModel)
	set(&c.Embedding.BaseURL, env.EmbeddingBaseURL)
	set(&c.Embedding.APIKey, env.EmbeddingAPIKey)
	set(&c.Store.DataDir, env.DataDir)
	set(&c.Run.Durability, env.Durability)
	set(&c.Metrics.Addr, env.MetricsAddr)
	if env.BatchSize != 0 {
		c.Run.BatchSize = env.BatchSize
	}
	if env.TargetPercentage != 0 {
		c.Run.TargetPercentage = env.TargetPercentage
	}
	if env.Delay != 0 {
		c.Run.Delay = env.Delay
	}

	// Provider-specific credentials only fill an empty key.
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.APIKey = env.OpenAIAPIKey
		case "gemini":
			c.Embedding.APIKey = env.GeminiAPIKey
		case "nomic":
			c.Embedding.APIKey = env.NomicAPIKey
		}
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == "ollama" {
		c.Embedding.BaseURL = env.OllamaHost
	}
	return nil
}

// Validate checks the settings every command needs. Source settings are
// checked by ValidateSource, since only run and status talk to the database.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("%w: store.data_dir", ErrMissingRequired)
	}
	switch ingestion.ReconcileMode(c.Store.Reconcile) {
	case ingestion.ReconcileUnion, ingestion.ReconcileStore:
	default:
		return fmt.Errorf("%w: store.reconcile must be union or store, got %q", ErrInvalid, c.Store.Reconcile)
	}
	switch ingestion.Durability(c.Run.Durability) {
	case ingestion.DurabilityPerBatch, ingestion.DurabilityPerChunk:
	default:
		return fmt.Errorf("%w: run.durability must be per-batch or per-chunk, got %q", ErrInvalid, c.Run.Durability)
	}
	if c.Run.BatchSize <= 0 {
		return fmt.Errorf("%w: run.batch_size must be positive", ErrInvalid)
	}
	if c.Run.TargetPercentage <= 0 || c.Run.TargetPercentage > 100 {
		return fmt.Errorf("%w: run.target_percentage must be in (0, 100]", ErrInvalid)
	}
	if c.Run.Delay < 0 {
		return fmt.Errorf("%w: run.delay must not be negative", ErrInvalid)
	}
	return nil
}

// ValidateSource checks the chunk database settings.
func (c *Config) ValidateSource() error {
	if c.Source.DSN == "" {
		return fmt.Errorf("%w: source.dsn (or DATABASE_URL)", ErrMissingRequired)
	}
	switch c.Source.Driver {
	case chunksource.DialectPostgres, chunksource.DialectSQLite:
	default:
		return fmt.Errorf("%w: source.driver must be postgres or sqlite, got %q", ErrInvalid, c.Source.Driver)
	}
	return nil
}

// StoreDir is the vector store directory.
func (c *Config) StoreDir() string { return filepath.Join(c.Store.DataDir, "store") }

// CheckpointPath is the checkpoint file.
func (c *Config) CheckpointPath() string { return filepath.Join(c.Store.DataDir, "checkpoint.json") }

// PIDPath is the single-instance lock file.
func (c *Config) PIDPath() string { return filepath.Join(c.Store.DataDir, "vecsync.pid") }

// SourceOptions converts the source section for chunksource.Open.
func (c *Config) SourceOptions() chunksource.SQLOptions {
	return chunksource.SQLOptions{
		Dialect:        c.Source.Driver,
		ChunksTable:    c.Source.ChunksTable,
		DocumentsTable: c.Source.DocumentsTable,
		PageSize:       c.Source.PageSize,
	}
}

// EmbedderConfig converts the embedding section for embedding.New.
func (c *Config) EmbedderConfig() embedding.Config {
	return embedding.Config{
		Provider:   c.Embedding.Provider,
		Model:      c.Embedding.Model,
		BaseURL:    c.Embedding.BaseURL,
		APIKey:     c.Embedding.APIKey,
		Dimensions: c.Embedding.Dimensions,
		Timeout:    c.Embedding.Timeout,
	}
}

// RetryConfig converts the retry settings of the run section.
func (c *Config) RetryConfig() ingestion.RetryConfig {
	return ingestion.RetryConfig{
		MaxAttempts:    c.Run.MaxAttempts,
		InitialBackoff: c.Run.InitialBackoff,
		MaxBackoff:     c.Run.MaxBackoff,
		Multiplier:     2.0,
	}
}

// RunOptions converts the run section for Engine.StartRun.
func (c *Config) RunOptions() ingestion.RunOptions {
	return ingestion.RunOptions{
		BatchSize:        c.Run.BatchSize,
		TargetPercentage: c.Run.TargetPercentage,
		Delay:            c.Run.Delay,
	}
}

const template = `# vecsync configuration
#
# Environment variables override these settings: VECSYNC_<NAME>
# (VECSYNC_BATCH_SIZE, VECSYNC_DATA_DIR, ...), DATABASE_URL and the
# provider keys OPENAI_API_KEY, GEMINI_API_KEY, NOMIC_API_KEY.

source:
  driver: postgres          # postgres or sqlite
  dsn: ""                   # or DATABASE_URL
  chunks_table: chunks
  documents_table: documents
  page_size: 500

embedding:
  provider: ollama          # mock, openai, ollama, nomic, llamacpp, gemini
  model: nomic-embed-text
  base_url: http://localhost:11434
  timeout: 30s

store:
  data_dir: .vecsync/data
  reconcile: union          # union, or store to re-embed checkpointed chunks missing from the store

run:
  batch_size: 100
  target_percentage: 100
  delay: 0s                 # minimum spacing between embedding calls
  durability: per-batch     # per-batch or per-chunk
  max_attempts: 3
  initial_backoff: 200ms
  max_backoff: 2s
  progress_window: 1m

metrics:
  addr: ""                  # e.g. 127.0.0.1:9464 to serve /metrics during runs
`

// WriteDefaultTemplate writes a commented configuration file to path,
// creating its directory. An existing file is kept unless force is set.
func WriteDefaultTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
