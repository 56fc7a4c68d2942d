package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// JobStoreSink folds progress events into per-job counters and persists them
// through a crawler.JobStore once per batch. Terminal status transitions are
// owned by the worker; this sink only refreshes running counters.
type JobStoreSink struct {
	store  crawler.JobStore
	logger *zap.Logger

	mu       sync.Mutex
	counters map[string]*crawler.Counters
}

// NewJobStoreSink constructs a JobStoreSink for the provided store.
func NewJobStoreSink(store crawler.JobStore, logger *zap.Logger) *JobStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStoreSink{
		store:    store,
		logger:   logger,
		counters: make(map[string]*crawler.Counters),
	}
}

// Consume collapses the batch into one counter update per job. It respects ctx
// deadlines and returns the first store error.
func (s *JobStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	dirty := make(map[string]crawler.Counters)
	finished := make(map[string]struct{})

	s.mu.Lock()
	for _, evt := range batch {
		c := s.counters[evt.JobID]
		if c == nil {
			c = &crawler.Counters{}
			s.counters[evt.JobID] = c
		}
		switch p := evt.Payload.(type) {
		case progress.PageCaptured:
			c.Pages = p.Downloaded
			c.Queued = max(p.Discovered-p.Downloaded, 0)
		case progress.PageAnalyzed:
			c.Pages = p.Total
			c.TotalBytes = p.TotalSize
			c.Queued = p.Queued
		case progress.VisitFailed:
			c.Errors++
		case progress.JobComplete, progress.JobFailed, progress.AnalyzeComplete:
			finished[evt.JobID] = struct{}{}
			delete(s.counters, evt.JobID)
			delete(dirty, evt.JobID)
			continue
		case progress.JobStarted, progress.SitemapProcessing:
			continue
		}
		dirty[evt.JobID] = *c
	}
	s.mu.Unlock()

	var errs []error
	for jobID, counters := range dirty {
		if _, done := finished[jobID]; done {
			continue
		}
		if err := s.store.UpdateJobProgress(ctx, jobID, counters); err != nil {
			if errors.Is(err, crawler.ErrJobNotFound) {
				s.logger.Debug("progress for unknown job", zap.String("job_id", jobID))
				continue
			}
			errs = append(errs, fmt.Errorf("update job progress %s: %w", jobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *JobStoreSink) Close(context.Context) error {
	return nil
}
