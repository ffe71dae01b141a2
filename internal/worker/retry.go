package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

var retryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "achievements_retry_outcomes_total",
	Help: "Retried (event, achievement) pairs by outcome",
}, []string{"outcome"})

// FailureStore holds evaluation failures waiting for a retry
type FailureStore interface {
	ListFailures(ctx context.Context, limit int) ([]domain.EvaluationFailure, error)
	RecordFailure(ctx context.Context, f domain.EvaluationFailure) error
	DeleteFailure(ctx context.Context, eventID, achievementID string) error
}

// Retrier re-runs one (event, achievement) pair
type Retrier interface {
	Retry(ctx context.Context, ev domain.Event, achievementID string) error
}

// CycleStats summarizes one retry cycle
type CycleStats struct {
	Resolved int
	Failed   int
	Dropped  int
}

// RetryWorker periodically re-runs failed evaluations. Re-running is safe
// because every pair commits at most once.
type RetryWorker struct {
	store   FailureStore
	retrier Retrier
	config  *config.RetryConfig
	logger  *slog.Logger
	now     func() time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(
	store FailureStore,
	retrier Retrier,
	cfg *config.RetryConfig,
	logger *slog.Logger,
) *RetryWorker {
	return &RetryWorker{
		store:   store,
		retrier: retrier,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background retry loop
func (w *RetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("retry worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background retry loop
func (w *RetryWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("retry worker stopped")
	return nil
}

// run is the main worker loop
func (w *RetryWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce retries one batch of failures, oldest first
func (w *RetryWorker) RunOnce(ctx context.Context) CycleStats {
	var stats CycleStats
	startTime := time.Now()

	failures, err := w.store.ListFailures(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list evaluation failures", "error", err)
		return stats
	}
	if len(failures) == 0 {
		return stats
	}

	for _, f := range failures {
		if ctx.Err() != nil {
			break
		}
		switch w.retry(ctx, f) {
		case "resolved":
			stats.Resolved++
		case "dropped":
			stats.Dropped++
		default:
			stats.Failed++
		}
	}

	w.logger.Info("retry cycle completed",
		"duration", time.Since(startTime),
		"resolved", stats.Resolved,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	return stats
}

// retry re-runs one pair and updates its failure record
func (w *RetryWorker) retry(ctx context.Context, f domain.EvaluationFailure) string {
	outcome := "resolved"
	defer func() { retryOutcomes.WithLabelValues(outcome).Inc() }()

	err := w.retrier.Retry(ctx, f.Event, f.AchievementID)
	if err == nil {
		if err := w.store.DeleteFailure(ctx, f.EventID, f.AchievementID); err != nil {
			w.logger.Error("failed to clear evaluation failure",
				"event_id", f.EventID,
				"achievement_id", f.AchievementID,
				"error", err,
			)
		}
		w.logger.Debug("evaluation retry succeeded",
			"event_id", f.EventID,
			"achievement_id", f.AchievementID,
		)
		return outcome
	}

	if w.config.MaxAttempts > 0 && f.Attempts+1 >= w.config.MaxAttempts {
		outcome = "dropped"
		w.logger.Error("giving up on evaluation",
			"event_id", f.EventID,
			"achievement_id", f.AchievementID,
			"attempts", f.Attempts+1,
			"error", err,
		)
		if err := w.store.DeleteFailure(ctx, f.EventID, f.AchievementID); err != nil {
			w.logger.Error("failed to drop evaluation failure",
				"event_id", f.EventID,
				"achievement_id", f.AchievementID,
				"error", err,
			)
		}
		return outcome
	}

	outcome = "failed"
	w.logger.Warn("evaluation retry failed",
		"event_id", f.EventID,
		"achievement_id", f.AchievementID,
		"attempts", f.Attempts+1,
		"error", err,
	)
	f.LastError = err.Error()
	f.UpdatedAt = w.now()
	if err := w.store.RecordFailure(ctx, f); err != nil {
		w.logger.Error("failed to update evaluation failure",
			"event_id", f.EventID,
			"achievement_id", f.AchievementID,
			"error", err,
		)
	}
	return outcome
}

// IsRunning returns whether the worker is currently running
func (w *RetryWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
