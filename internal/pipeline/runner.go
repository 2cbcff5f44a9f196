// Package pipeline orchestrates index runs: aggregate inputs, fit the
// climatology over the history window, then score the current period in
// chronological order. Artifacts already on disk are skipped, so an
// interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ltrotter/dryes-revisited/internal/config"
	"github.com/ltrotter/dryes-revisited/internal/domain"
	"github.com/ltrotter/dryes-revisited/internal/observability"
)

// Progress is a snapshot of a run, served on /statusz.
type Progress struct {
	Index         string     `json:"index"`
	Committed     int        `json:"committed_timesteps"`
	Total         int        `json:"total_timesteps"`
	LastCommitted *time.Time `json:"last_committed,omitempty"`
}

// Runner executes one configured index run against a grid store.
type Runner struct {
	cfg      *config.Config
	store    GridStore
	notifier Notifier // nil when notifications are disabled
	logger   *slog.Logger
	metrics  *observability.Metrics

	ready atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// New creates a Runner. notifier may be nil.
func New(cfg *config.Config, store GridStore, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once at least one index timestep of the current
// run has been committed.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no index timestep committed yet")
	}
	return nil
}

// Progress returns the current run snapshot.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Run executes the configured run to completion or first fatal error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("run starting",
		"index", r.cfg.Index,
		"current", fmt.Sprintf("%s..%s", r.cfg.CurrentStart.Format(time.DateOnly), r.cfg.CurrentEnd.Format(time.DateOnly)),
		"history", fmt.Sprintf("%s..%s", r.cfg.HistoryStart.Format(time.DateOnly), r.cfg.HistoryEnd.Format(time.DateOnly)),
	)
	r.metrics.EngineRunning.Set(1)
	defer r.metrics.EngineRunning.Set(0)

	var err error
	switch r.cfg.Index {
	case config.IndexSPI:
		err = r.runSPI(ctx)
	case config.IndexLFI:
		err = r.runLFI(ctx)
	default:
		err = fmt.Errorf("unknown index %q", r.cfg.Index)
	}
	if err != nil {
		return err
	}
	r.logger.Info("run complete", "index", r.cfg.Index)
	return nil
}

func (r *Runner) setTotal(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Index = r.cfg.Index
	r.progress.Total = total
}

func (r *Runner) markCommitted(t time.Time) {
	r.mu.Lock()
	r.progress.Committed++
	ts := t
	r.progress.LastCommitted = &ts
	r.mu.Unlock()

	r.metrics.TimestepsCommitted.Inc()
	r.ready.Store(true)
}

// markSkipped records a timestep found already committed by an earlier run.
// It counts toward progress and readiness but not toward the commit metrics.
func (r *Runner) markSkipped() {
	r.mu.Lock()
	r.progress.Committed++
	r.mu.Unlock()
	r.ready.Store(true)
}

// writeWithRetry commits one dated grid, retrying transient store failures
// with exponential backoff. Exhausting the budget is fatal for the run: the
// store is expected to be local and a persistent failure means something is
// wrong with the machine, not the data.
func (r *Runner) writeWithRetry(ctx context.Context, dataset, tag string, t time.Time, g *domain.Grid) error {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var err error
	for attempt := 0; attempt <= r.cfg.WriteRetries; attempt++ {
		if err = r.store.Write(ctx, dataset, tag, t, g); err == nil {
			r.metrics.GridsWritten.Inc()
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		r.metrics.WriteRetries.Inc()
		r.logger.Warn("grid write failed, retrying",
			"dataset", dataset, "tag", tag, "time", t.Format(time.DateOnly),
			"attempt", attempt+1, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return err
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return fmt.Errorf("write %s/%s for %s: retries exhausted: %w", dataset, tag, t.Format(time.DateOnly), err)
}

// notify publishes a completion notification for a committed index grid.
// Failures are logged, never fatal: the grid is already safely on disk.
func (r *Runner) notify(ctx context.Context, index, tag string, t time.Time, g *domain.Grid) {
	if r.notifier == nil {
		return
	}
	note := domain.IndexNotification{
		Index:       index,
		Tag:         tag,
		Time:        t,
		ValidCells:  g.ValidCount(),
		TotalCells:  g.Len(),
		ProcessedAt: domain.Now(),
	}
	if err := r.notifier.NotifyIndex(ctx, note); err != nil {
		r.logger.Warn("index notification failed", "key", note.Key(), "error", err)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
