// Package worker implements the job execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/metrics"
)

// Runner executes one job to completion.
type Runner interface {
	RunJob(ctx context.Context, jobID string) (crawler.JobOutcome, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how often a job failing with crawler.ErrTransient
	// is run. Defaults to 3.
	MaxAttempts int
	// RetryBackoff is the pause before a transient failure is requeued.
	RetryBackoff time.Duration
}

const defaultMaxAttempts = 3

// Worker consumes queue items and runs the jobs they name.
type Worker struct {
	queue    crawler.Queue
	jobStore crawler.JobStore
	runner   Runner
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	runner Runner,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		runner:   runner,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	logger := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		logger.Debug("skipping finished job", zap.String("status", string(job.Status)))
		return
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", job.Counters); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	started := w.clock.Now()
	outcome, runErr := w.runner.RunJob(ctx, item.JobID)
	if runErr != nil && errors.Is(runErr, crawler.ErrTransient) && ctx.Err() == nil &&
		item.Attempt+1 < w.cfg.MaxAttempts {
		w.retry(ctx, item, runErr)
		return
	}

	status, errText := deriveFinalStatus(ctx, runErr)
	// Final bookkeeping must land even when shutdown canceled the run.
	writeCtx := context.WithoutCancel(ctx)
	if outcome.Output != "" {
		if err := w.jobStore.SetJobOutput(writeCtx, item.JobID, outcome.Output); err != nil {
			logger.Error("record job output failed", zap.Error(err))
		}
	}
	if err := w.jobStore.UpdateJobStatus(writeCtx, item.JobID, status, errText, outcome.Counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("pages", outcome.Counters.Pages),
		zap.Int("errors", outcome.Counters.Errors),
		zap.Bool("stopped", outcome.Stopped),
		zap.Duration("duration", w.clock.Now().Sub(started)),
		zap.String("error", errText))
}

// retry puts a transiently failed job back on the queue with its attempt
// counter bumped.
func (w *Worker) retry(ctx context.Context, item crawler.QueueItem, cause error) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	logger.Warn("transient job failure, retrying",
		zap.Int("attempt", item.Attempt+1),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
		zap.Error(cause))

	if w.cfg.RetryBackoff > 0 {
		timer := time.NewTimer(w.cfg.RetryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	writeCtx := context.WithoutCancel(ctx)
	if err := w.jobStore.UpdateJobStatus(writeCtx, item.JobID, crawler.JobStatusQueued, cause.Error(), crawler.Counters{}); err != nil {
		logger.Error("requeue status update failed", zap.Error(err))
	}
	next := item
	next.Attempt++
	if err := w.queue.Enqueue(ctx, next); err != nil {
		logger.Error("requeue failed", zap.Error(err))
		if uerr := w.jobStore.UpdateJobStatus(writeCtx, item.JobID, crawler.JobStatusFailed, cause.Error(), crawler.Counters{}); uerr != nil {
			logger.Error("final job status update failed", zap.Error(uerr))
		}
		metrics.ObserveJob(string(crawler.JobStatusFailed))
	}
}

// deriveFinalStatus maps the run result onto a terminal status. A run that
// was stopped after it started still succeeded if it returned no error.
func deriveFinalStatus(ctx context.Context, runErr error) (crawler.JobStatus, string) {
	switch {
	case errors.Is(runErr, crawler.ErrJobStopped):
		return crawler.JobStatusCanceled, runErr.Error()
	case ctx.Err() != nil:
		errText := ctx.Err().Error()
		if runErr != nil {
			errText = runErr.Error()
		}
		return crawler.JobStatusCanceled, errText
	case runErr != nil:
		return crawler.JobStatusFailed, runErr.Error()
	default:
		return crawler.JobStatusSucceeded, ""
	}
}
