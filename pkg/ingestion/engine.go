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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/vecsync/internal/logging"
	"github.com/kraklabs/vecsync/pkg/chunksource"
	"github.com/kraklabs/vecsync/pkg/embedding"
	"github.com/kraklabs/vecsync/pkg/vectorstore"
)

// State is the engine lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateRunning
	StatePausedTargetReached
	StatePausedExhausted
	StatePausedBatchLimit
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StatePausedTargetReached:
		return "paused_target_reached"
	case StatePausedExhausted:
		return "paused_exhausted"
	case StatePausedBatchLimit:
		return "paused_batch_limit"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StopReason tells why a run ended.
type StopReason string

const (
	StopTargetReached StopReason = "target_reached"
	StopExhausted     StopReason = "exhausted"
	StopBatchLimit    StopReason = "batch_limit"
	StopCanceled      StopReason = "canceled"
	StopFailed        StopReason = "failed"
)

func (r StopReason) state() State {
	switch r {
	case StopTargetReached:
		return StatePausedTargetReached
	case StopExhausted:
		return StatePausedExhausted
	case StopBatchLimit:
		return StatePausedBatchLimit
	case StopFailed:
		return StateFailed
	default:
		return StateIdle
	}
}

// Durability selects when the vector store and checkpoint are persisted.
type Durability string

const (
	DurabilityPerChunk Durability = "per-chunk"
	DurabilityPerBatch Durability = "per-batch"
)

// ReconcileMode selects how checkpoint ids and stored ids are combined
// when a run starts.
type ReconcileMode string

const (
	// ReconcileUnion treats every id in the checkpoint or the store as processed.
	ReconcileUnion ReconcileMode = "union"
	// ReconcileStore trusts only the store: checkpointed ids without an
	// entry are embedded again.
	ReconcileStore ReconcileMode = "store"
)

var (
	// ErrRunInProgress is returned when a run or reconciliation is already active.
	ErrRunInProgress = errors.New("ingestion run already in progress")
	// ErrInvalidOptions is returned for unusable RunOptions.
	ErrInvalidOptions = errors.New("invalid run options")
	// ErrSource wraps failures to count or fetch source chunks.
	ErrSource = errors.New("chunk source failed")
	// ErrStore wraps failures to load or save the vector store.
	ErrStore = errors.New("vector store failed")
)

// Store is the part of vectorstore.Manager the engine uses.
type Store interface {
	Load(ctx context.Context) error
	Add(ctx context.Context, doc vectorstore.Document) (int, error)
	Save() error
	ProcessedChunkIDs() map[int64]struct{}
	Stats() vectorstore.Stats
	Dirty() bool
}

// Config wires an Engine.
type Config struct {
	Source     chunksource.Source
	Store      Store
	Checkpoint Checkpointer

	Enricher   Enricher      // DefaultEnricher when nil
	Durability Durability    // per-batch when empty
	Reconcile  ReconcileMode // union when empty
	Retry      RetryConfig   // DefaultRetryConfig when zero

	// ProgressWindow is the rolling window for the rate (60s when zero).
	ProgressWindow time.Duration

	Metrics *Metrics // unregistered collectors when nil
	Logger  *slog.Logger
}

// RunOptions parameterize one StartRun call.
type RunOptions struct {
	BatchSize        int           // chunks fetched per batch
	TargetPercentage float64       // stop once processed/total*100 >= target, in (0, 100]
	Delay            time.Duration // minimum spacing between embedding calls
	MaxBatches       int           // 0 means unlimited
}

func (o RunOptions) validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOptions, o.BatchSize)
	}
	if o.TargetPercentage <= 0 || o.TargetPercentage > 100 {
		return fmt.Errorf("%w: target percentage must be in (0, 100], got %g", ErrInvalidOptions, o.TargetPercentage)
	}
	if o.Delay < 0 || o.MaxBatches < 0 {
		return fmt.Errorf("%w: delay and max batches must not be negative", ErrInvalidOptions)
	}
	return nil
}

// RunSummary reports the outcome of one run.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	Batches          int           `json:"batches"`
	ChunksProcessed  int           `json:"chunks_processed"`
	ChunksFailed     int           `json:"chunks_failed"`
	ChunksDuplicate  int           `json:"chunks_duplicate"`
	FailedChunkIDs   []int64       `json:"failed_chunk_ids,omitempty"`
	Retries          int           `json:"retries"`
	Saves            int           `json:"saves"`
	StartPercentage  float64       `json:"start_percentage"`
	FinalPercentage  float64       `json:"final_percentage"`
	TargetPercentage float64       `json:"target_percentage"`
	ReachedTarget    bool          `json:"reached_target"`
	StopReason       StopReason    `json:"stop_reason"`
	Processed        int           `json:"processed"`
	Total            int           `json:"total"`
	Duration         time.Duration `json:"duration_ns"`
}

// ChunkResult is passed to the OnChunk observer after every chunk.
type ChunkResult struct {
	ChunkID    int64
	DocumentID int64
	OK         bool
	Duplicate  bool
	Attempts   int
	Err        error
	Progress   Progress
}

// Reconciliation describes the processed set derived at load time.
type Reconciliation struct {
	Processed        int     `json:"processed"`
	Total            int     `json:"total"`
	Percentage       float64 `json:"percentage"`
	StoreEntries     int     `json:"store_entries"`
	Dimension        int     `json:"dimension"`
	CheckpointIDs    int     `json:"checkpoint_ids"`
	MissingFromStore int     `json:"missing_from_store"`
	NotCheckpointed  int     `json:"not_checkpointed"`
	CheckpointTime   string  `json:"checkpoint_time,omitempty"`
}

// Engine is the resumable ingestion state machine. One engine runs at most
// one StartRun at a time.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	reporter *ProgressReporter

	state atomic.Int32

	mu        sync.Mutex
	processed int
	total     int
	observer  func(ChunkResult)
}

// run holds the state of one StartRun call.
type run struct {
	id       string
	opts     RunOptions
	throttle *Throttle
	summary  *RunSummary

	processed map[int64]struct{}  // chunks with an entry (or treated as such)
	exclude   map[int64]struct{}  // processed plus chunks that failed in this run
	after     *chunksource.Cursor // last chunk fetched; everything up to it is settled

	recordedCount int // processed count at the last checkpoint write
	recorded      bool
}

// NewEngine validates cfg and creates an idle engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Source == nil || cfg.Store == nil || cfg.Checkpoint == nil {
		return nil, errors.New("ingestion: source, store and checkpoint are required")
	}
	if cfg.Enricher == nil {
		cfg.Enricher = DefaultEnricher{}
	}
	switch cfg.Durability {
	case "":
		cfg.Durability = DurabilityPerBatch
	case DurabilityPerChunk, DurabilityPerBatch:
	default:
		return nil, fmt.Errorf("ingestion: unknown durability %q", cfg.Durability)
	}
	switch cfg.Reconcile {
	case "":
		cfg.Reconcile = ReconcileUnion
	case ReconcileUnion, ReconcileStore:
	default:
		return nil, fmt.Errorf("ingestion: unknown reconcile mode %q", cfg.Reconcile)
	}
	cfg.Retry = cfg.Retry.sanitize()
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		reporter: NewProgressReporter(cfg.ProgressWindow),
	}, nil
}

// State returns the current state. After a run ends the engine stays in
// the run's terminal state until the next run starts.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// begin moves the engine to Loading unless a run is active.
func (e *Engine) begin() bool {
	for {
		cur := e.state.Load()
		if State(cur) == StateLoading || State(cur) == StateRunning {
			return false
		}
		if e.state.CompareAndSwap(cur, int32(StateLoading)) {
			return true
		}
	}
}

// OnChunk registers fn to be called after every processed or failed chunk.
// It runs on the engine goroutine.
func (e *Engine) OnChunk(fn func(ChunkResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Progress returns the current progress. It is safe to call from any goroutine.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	processed, total := e.processed, e.total
	e.mu.Unlock()
	return e.reporter.Snapshot(processed, total)
}

func (e *Engine) setCounts(processed, total int) {
	e.mu.Lock()
	e.processed, e.total = processed, total
	e.mu.Unlock()
	e.reporter.Observe(processed)
	e.metrics.setProgress(e.Progress())
}

// Reconcile performs the loading phase without processing anything and
// reports the derived processed set.
func (e *Engine) Reconcile(ctx context.Context) (*Reconciliation, error) {
	if !e.begin() {
		return nil, ErrRunInProgress
	}
	defer e.setState(StateIdle)

	processed, rec, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	e.setCounts(len(processed), rec.Total)
	return rec, nil
}

func (e *Engine) load(ctx context.Context) (map[int64]struct{}, *Reconciliation, error) {
	if err := e.cfg.Store.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: load: %w", ErrStore, err)
	}
	cpIDs, cpRec := e.cfg.Checkpoint.Load()
	storeIDs := e.cfg.Store.ProcessedChunkIDs()
	stats := e.cfg.Store.Stats()

	processed := make(map[int64]struct{}, len(storeIDs)+len(cpIDs))
	for id := range storeIDs {
		processed[id] = struct{}{}
	}
	missing := 0
	for id := range cpIDs {
		if _, ok := storeIDs[id]; ok {
			continue
		}
		missing++
		if e.cfg.Reconcile == ReconcileUnion {
			processed[id] = struct{}{}
		}
	}
	notCheckpointed := 0
	for id := range storeIDs {
		if _, ok := cpIDs[id]; !ok {
			notCheckpointed++
		}
	}

	rec := &Reconciliation{
		Processed:        len(processed),
		StoreEntries:     stats.Entries,
		Dimension:        stats.Dimension,
		CheckpointIDs:    len(cpIDs),
		MissingFromStore: missing,
		NotCheckpointed:  notCheckpointed,
	}
	if cpRec != nil {
		rec.CheckpointTime = cpRec.Timestamp
	}

	if missing > 0 {
		e.metrics.DataLoss.Add(float64(missing))
		e.logger.ErrorContext(ctx, "ingestion.reconcile.data_loss",
			"checkpointed_without_entry", missing,
			"mode", string(e.cfg.Reconcile),
			"will_reembed", e.cfg.Reconcile == ReconcileStore,
		)
	}
	if cpRec != nil && cpRec.ProgressSnapshot.Processed > stats.Entries {
		e.logger.WarnContext(ctx, "ingestion.reconcile.count_shrunk",
			"checkpoint_processed", cpRec.ProgressSnapshot.Processed,
			"store_entries", stats.Entries,
			"delta", cpRec.ProgressSnapshot.Processed-stats.Entries,
		)
	}
	if notCheckpointed > 0 {
		e.logger.InfoContext(ctx, "ingestion.reconcile.store_ahead", "stored_not_checkpointed", notCheckpointed)
	}

	total, err := e.cfg.Source.TotalCount(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: count source chunks: %w", ErrSource, err)
	}
	rec.Total = total
	rec.Percentage = Percentage(len(processed), total)
	return processed, rec, nil
}

// StartRun processes batches until the target percentage is reached, the
// source has nothing left, the batch limit is hit or ctx is canceled.
//
// A returned error means the run failed (source or store unusable) and the
// engine is in StateFailed; the summary is still returned when available.
// Cancellation is not an error: work done so far is persisted and the
// summary reports StopCanceled.
func (e *Engine) StartRun(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !e.begin() {
		return nil, ErrRunInProgress
	}
	started := time.Now()

	r := &run{
		id:       uuid.NewString(),
		opts:     opts,
		throttle: NewThrottle(opts.Delay),
	}
	r.summary = &RunSummary{RunID: r.id, TargetPercentage: opts.TargetPercentage}
	ctx = logging.WithRunID(ctx, r.id)
	e.reporter.Reset()

	processed, rec, err := e.load(ctx)
	if err != nil {
		return e.finish(ctx, r, started, StopFailed, err)
	}
	r.processed = processed
	r.exclude = make(map[int64]struct{}, len(processed))
	for id := range processed {
		r.exclude[id] = struct{}{}
	}
	e.setCounts(len(processed), rec.Total)
	r.summary.StartPercentage = rec.Percentage

	e.logger.InfoContext(ctx, "ingestion.run.start",
		"processed", rec.Processed,
		"total", rec.Total,
		"percentage", fmt.Sprintf("%.2f", rec.Percentage),
		"target", opts.TargetPercentage,
		"batch_size", opts.BatchSize,
		"durability", string(e.cfg.Durability),
	)

	e.setState(StateRunning)
	reason, err := e.loop(ctx, r)
	if err != nil {
		return e.finish(ctx, r, started, StopFailed, err)
	}
	if perr := e.persist(ctx, r); perr != nil {
		return e.finish(ctx, r, started, StopFailed, perr)
	}
	return e.finish(ctx, r, started, reason, nil)
}

func (e *Engine) loop(ctx context.Context, r *run) (StopReason, error) {
	for {
		if ctx.Err() != nil {
			return StopCanceled, nil
		}

		done := len(r.processed)
		total := e.totalCount()
		switch {
		case total == 0:
			return StopExhausted, nil
		case targetReached(done, total, r.opts.TargetPercentage):
			return StopTargetReached, nil
		case r.opts.MaxBatches > 0 && r.summary.Batches >= r.opts.MaxBatches:
			return StopBatchLimit, nil
		}

		limit := min(r.opts.BatchSize, chunksForTarget(total, r.opts.TargetPercentage)-done)
		if limit < 1 {
			limit = 1
		}
		batch, err := e.cfg.Source.FetchUnprocessed(ctx, r.after, r.exclude, limit)
		if err != nil {
			if ctx.Err() != nil {
				return StopCanceled, nil
			}
			return StopFailed, fmt.Errorf("%w: fetch batch: %w", ErrSource, err)
		}
		if len(batch) == 0 {
			return StopExhausted, nil
		}
		r.after = chunksource.CursorAt(batch[len(batch)-1])

		r.summary.Batches++
		e.metrics.Batches.Inc()
		batchStart := time.Now()
		ok, failed := 0, 0

		for _, c := range batch {
			if ctx.Err() != nil {
				break
			}
			if _, skip := r.exclude[c.ID]; skip {
				continue
			}
			if !e.processChunk(ctx, r, c) {
				if ctx.Err() == nil {
					failed++
				}
				continue
			}
			ok++
			if e.cfg.Durability == DurabilityPerChunk {
				if err := e.persist(ctx, r); err != nil {
					return StopFailed, err
				}
			}
		}

		if e.cfg.Durability == DurabilityPerBatch {
			if err := e.persist(ctx, r); err != nil {
				return StopFailed, err
			}
		}
		e.metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())

		p := e.Progress()
		e.logger.InfoContext(ctx, "ingestion.batch.done",
			"batch", r.summary.Batches,
			"size", len(batch),
			"ok", ok,
			"failed", failed,
			"processed", p.Processed,
			"total", p.Total,
			"percentage", fmt.Sprintf("%.2f", p.Percentage),
			"rate", fmt.Sprintf("%.2f", p.Rate),
			"eta", p.ETAString(),
		)
	}
}

func (e *Engine) totalCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// processChunk embeds and stores one chunk with retries. It returns true
// when the chunk ends up with an entry. A chunk interrupted by
// cancellation is neither processed nor failed.
func (e *Engine) processChunk(ctx context.Context, r *run, c chunksource.Chunk) bool {
	res := ChunkResult{ChunkID: c.ID, DocumentID: c.DocumentID}
	defer func() {
		res.Progress = e.Progress()
		e.mu.Lock()
		fn := e.observer
		e.mu.Unlock()
		if fn != nil {
			fn(res)
		}
	}()

	text, md, err := e.cfg.Enricher.Enrich(ctx, c)
	if err != nil {
		res.Err = fmt.Errorf("enrich: %w", err)
		e.markFailed(ctx, r, c, 0, res.Err)
		return false
	}
	doc := vectorstore.Document{
		SourceChunkID:    c.ID,
		SourceDocumentID: c.DocumentID,
		Text:             text,
		Metadata:         md,
	}

	retry := e.cfg.Retry
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := retry.backoff(attempt - 1)
			r.summary.Retries++
			e.metrics.EmbedRetries.Inc()
			e.logger.WarnContext(ctx, "ingestion.chunk.retry",
				"chunk_id", c.ID,
				"attempt", attempt+1,
				"max_attempts", retry.MaxAttempts,
				"backoff_ms", wait.Milliseconds(),
				"err", lastErr,
			)
			if err := sleepCtx(ctx, wait); err != nil {
				res.Err = err
				return false
			}
		}
		if err := r.throttle.Wait(ctx); err != nil {
			res.Err = err
			return false
		}

		start := time.Now()
		_, err := e.cfg.Store.Add(ctx, doc)
		e.metrics.EmbedDuration.Observe(time.Since(start).Seconds())
		res.Attempts = attempt + 1

		if err == nil {
			res.OK = true
			e.markProcessed(r, c.ID)
			r.summary.ChunksProcessed++
			e.metrics.ChunksProcessed.Inc()
			return true
		}
		if errors.Is(err, vectorstore.ErrDuplicateChunk) {
			res.OK, res.Duplicate = true, true
			e.markProcessed(r, c.ID)
			r.summary.ChunksDuplicate++
			e.metrics.ChunksDuplicate.Inc()
			e.logger.WarnContext(ctx, "ingestion.chunk.duplicate", "chunk_id", c.ID)
			return true
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return false
		}

		lastErr = err
		if embedding.IsRateLimited(err) {
			e.metrics.RateLimited.Inc()
			r.throttle.Penalize(retry.MaxBackoff)
		}
		if !shouldRetry(err) {
			break
		}
	}

	res.Err = lastErr
	e.markFailed(ctx, r, c, res.Attempts, lastErr)
	return false
}

func (e *Engine) markProcessed(r *run, id int64) {
	r.processed[id] = struct{}{}
	r.exclude[id] = struct{}{}
	e.mu.Lock()
	e.processed = len(r.processed)
	e.mu.Unlock()
	e.reporter.Observe(len(r.processed))
	e.metrics.setProgress(e.Progress())
}

func (e *Engine) markFailed(ctx context.Context, r *run, c chunksource.Chunk, attempts int, err error) {
	r.exclude[c.ID] = struct{}{}
	r.summary.ChunksFailed++
	r.summary.FailedChunkIDs = append(r.summary.FailedChunkIDs, c.ID)
	e.metrics.ChunksFailed.Inc()
	e.logger.ErrorContext(ctx, "ingestion.chunk.failed",
		"chunk_id", c.ID,
		"document_id", c.DocumentID,
		"attempts", attempts,
		"err", err,
	)
}

// persist saves the store when it has unsaved entries, then records the
// checkpoint. The store always goes first so the checkpoint never names a
// chunk without a saved entry. Checkpoint failures are logged and the run
// continues; store failures end the run.
func (e *Engine) persist(ctx context.Context, r *run) error {
	saved := false
	if e.cfg.Store.Dirty() {
		start := time.Now()
		if err := e.cfg.Store.Save(); err != nil {
			e.metrics.SaveErrors.Inc()
			return fmt.Errorf("%w: save: %w", ErrStore, err)
		}
		e.metrics.Saves.Inc()
		e.metrics.SaveDuration.Observe(time.Since(start).Seconds())
		r.summary.Saves++
		saved = true
	}

	if r.recorded && !saved && r.recordedCount == len(r.processed) {
		return nil
	}

	p := e.Progress()
	snap := ProgressSnapshot{Processed: p.Processed, Total: p.Total, Percentage: p.Percentage, Rate: p.Rate}
	if err := e.cfg.Checkpoint.Record(r.processed, snap); err != nil {
		e.metrics.CheckpointErrors.Inc()
		e.logger.WarnContext(ctx, "checkpoint.write.failed", "err", err)
		return nil
	}
	r.recorded = true
	r.recordedCount = len(r.processed)
	return nil
}

func (e *Engine) finish(ctx context.Context, r *run, started time.Time, reason StopReason, runErr error) (*RunSummary, error) {
	if runErr != nil && r.processed != nil {
		// Keep whatever was embedded before the failure.
		if perr := e.persist(ctx, r); perr != nil {
			e.logger.ErrorContext(ctx, "ingestion.run.persist_failed", "err", perr)
		}
	}

	s := r.summary
	p := e.Progress()
	s.StopReason = reason
	s.Processed, s.Total = p.Processed, p.Total
	s.FinalPercentage = p.Percentage
	s.ReachedTarget = targetReached(p.Processed, p.Total, r.opts.TargetPercentage)
	s.Duration = time.Since(started)
	e.setState(reason.state())

	if runErr != nil {
		e.logger.ErrorContext(ctx, "ingestion.run.failed",
			"err", runErr,
			"batches", s.Batches,
			"chunks_processed", s.ChunksProcessed,
		)
		return s, runErr
	}

	e.logger.InfoContext(ctx, "ingestion.run.done",
		"stop_reason", string(reason),
		"batches", s.Batches,
		"chunks_processed", s.ChunksProcessed,
		"chunks_failed", s.ChunksFailed,
		"start_percentage", fmt.Sprintf("%.2f", s.StartPercentage),
		"final_percentage", fmt.Sprintf("%.2f", s.FinalPercentage),
		"reached_target", s.ReachedTarget,
		"duration", s.Duration.Round(time.Millisecond).String(),
	)
	return s, nil
}
