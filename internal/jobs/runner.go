// Package jobs runs periodic background tasks and records every run's outcome
// as a Scheduled Task audit entry. The runner wraps an arbitrary task
// function; the task's own error handling stays with the task, while the
// audit trail gets one entry per run regardless of outcome.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/change-ledger/change-ledger/internal/recorder"
)

// TaskFunc is one unit of periodic work.
type TaskFunc func(ctx context.Context) error

// Runner executes a named task on an interval and audits each run.
type Runner struct {
	name     string
	interval time.Duration
	task     TaskFunc
	rec      *recorder.Recorder
	stopChan chan struct{}
}

// NewRunner creates a Runner. interval must be positive.
func NewRunner(name string, interval time.Duration, task TaskFunc, rec *recorder.Recorder) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
		rec:      rec,
		stopChan: make(chan struct{}),
	}
}

// Start begins the run loop: one immediate run, then one per interval. The
// loop exits when ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("task runner started", "task", r.name, "interval", r.interval)
	r.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopChan:
			slog.Info("task runner stopped", "task", r.name)
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the run loop.
func (r *Runner) Stop() {
	close(r.stopChan)
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	taskErr := r.task(ctx)
	if taskErr != nil {
		slog.Warn("task run failed", "task", r.name, "error", taskErr)
	}
	if err := r.rec.RecordScheduledTask(ctx, r.name, start, taskErr); err != nil {
		slog.Warn("task run could not be audited", "task", r.name, "error", err)
	}
}
