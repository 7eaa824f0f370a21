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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one engine.
type Metrics struct {
	ChunksProcessed  prometheus.Counter
	ChunksFailed     prometheus.Counter
	ChunksDuplicate  prometheus.Counter
	EmbedRetries     prometheus.Counter
	RateLimited      prometheus.Counter
	Batches          prometheus.Counter
	Saves            prometheus.Counter
	SaveErrors       prometheus.Counter
	CheckpointErrors prometheus.Counter
	DataLoss         prometheus.Counter

	Processed  prometheus.Gauge
	Total      prometheus.Gauge
	Percentage prometheus.Gauge
	Rate       prometheus.Gauge

	EmbedDuration prometheus.Histogram
	SaveDuration  prometheus.Histogram
	BatchDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "vecsync", Subsystem: "ing", Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "vecsync", Subsystem: "ing", Name: name, Help: help})
	}
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	histogram := func(name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "vecsync", Subsystem: "ing", Name: name, Help: help, Buckets: buckets})
	}

	m := &Metrics{
		ChunksProcessed:  counter("chunks_processed_total", "Chunks embedded and added to the vector store"),
		ChunksFailed:     counter("chunks_failed_total", "Chunks skipped after exhausting retries"),
		ChunksDuplicate:  counter("chunks_duplicate_total", "Chunks already present in the vector store"),
		EmbedRetries:     counter("embed_retries_total", "Embedding retries"),
		RateLimited:      counter("rate_limited_total", "Embedding calls rejected with HTTP 429"),
		Batches:          counter("batches_total", "Batches fetched from the chunk source"),
		Saves:            counter("saves_total", "Vector store saves"),
		SaveErrors:       counter("save_errors_total", "Failed vector store saves"),
		CheckpointErrors: counter("checkpoint_errors_total", "Failed checkpoint writes"),
		DataLoss:         counter("data_loss_chunks_total", "Checkpointed chunks found missing from the vector store"),

		Processed:  gauge("processed_chunks", "Processed chunks"),
		Total:      gauge("total_chunks", "Chunks in the source"),
		Percentage: gauge("percentage", "Completion percentage"),
		Rate:       gauge("rate_chunks_per_second", "Smoothed processing rate"),

		EmbedDuration: histogram("embed_seconds", "Duration of embed+add per chunk"),
		SaveDuration:  histogram("save_seconds", "Duration of vector store saves"),
		BatchDuration: histogram("batch_seconds", "Duration of a batch"),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChunksProcessed, m.ChunksFailed, m.ChunksDuplicate, m.EmbedRetries, m.RateLimited,
			m.Batches, m.Saves, m.SaveErrors, m.CheckpointErrors, m.DataLoss,
			m.Processed, m.Total, m.Percentage, m.Rate,
			m.EmbedDuration, m.SaveDuration, m.BatchDuration,
		)
	}
	return m
}

func (m *Metrics) setProgress(p Progress) {
	m.Processed.Set(float64(p.Processed))
	m.Total.Set(float64(p.Total))
	m.Percentage.Set(p.Percentage)
	m.Rate.Set(p.Rate)
}
