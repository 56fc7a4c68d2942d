package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
	pubmemory "github.com/JakeFAU/recurse-archiver/internal/publisher/memory"
	"github.com/JakeFAU/recurse-archiver/internal/storage/memory"
)

func TestJobStoreSinkUpdatesCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewJobStore()
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "job-1", Status: crawler.JobStatusRunning}))

	sink := NewJobStoreSink(store, nil)
	now := time.Now()
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		progress.New("job-1", now, progress.JobStarted{URL: "https://example.com"}),
		progress.New("job-1", now, progress.PageCaptured{URL: "https://example.com", Discovered: 5, Downloaded: 1}),
		progress.New("job-1", now, progress.VisitFailed{URL: "https://example.com/x"}),
		progress.New("job-1", now, progress.PageCaptured{URL: "https://example.com/a", Discovered: 6, Downloaded: 2}),
	}))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, job.Counters.Pages)
	require.Equal(t, 1, job.Counters.Errors)
	require.Equal(t, 4, job.Counters.Queued)
}

func TestJobStoreSinkSkipsFinishedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &recordingStore{}
	sink := NewJobStoreSink(store, nil)
	now := time.Now()
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		progress.New("job-1", now, progress.PageAnalyzed{URL: "u", Total: 1, TotalSize: 10}),
		progress.New("job-1", now, progress.AnalyzeComplete{Total: 1}),
		progress.New("job-2", now, progress.PageAnalyzed{URL: "v", Total: 3, TotalSize: 30, Queued: 2}),
	}))

	require.Equal(t, map[string]crawler.Counters{
		"job-2": {Pages: 3, TotalBytes: 30, Queued: 2},
	}, store.Updates())
}

func TestJobStoreSinkIgnoresUnknownJobs(t *testing.T) {
	t.Parallel()

	sink := NewJobStoreSink(memory.NewJobStore(), nil)
	err := sink.Consume(context.Background(), []progress.Event{
		progress.New("missing", time.Now(), progress.VisitFailed{URL: "u"}),
	})
	require.NoError(t, err)
}

func TestJobStoreSinkSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	sink := NewJobStoreSink(&recordingStore{fail: true}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		progress.New("job-1", time.Now(), progress.VisitFailed{URL: "u"}),
	})
	require.Error(t, err)
}

func TestPublishSinkPublishesTerminalEvents(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	sink := NewPublishSink(pub, "archive-jobs", nil)
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.New("job-1", now, progress.PageCaptured{URL: "u"}),
		progress.New("job-1", now, progress.JobComplete{Pages: 1, OutputPath: "/tmp/a.zip"}),
		progress.New("job-2", now, progress.JobFailed{Error: "boom"}),
	}))

	notes := pub.Notifications()
	require.Len(t, notes, 2)
	require.Equal(t, "archive-jobs", notes[0].Topic)
	require.Equal(t, progress.KindComplete, notes[0].Kind)
	require.Equal(t, "/tmp/a.zip", notes[0].OutputPath)
	require.Equal(t, 1, notes[0].Pages)
	require.Equal(t, progress.KindFailed, notes[1].Kind)
	require.Equal(t, "boom", notes[1].Error)
	require.Len(t, pub.ForJob("job-2"), 1)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.New("job-1", now, progress.SitemapProcessing{URL: "s"}),
		progress.New("job-1", now, progress.PageCaptured{URL: "p", Depth: 1}),
		progress.New("job-1", now, progress.VisitFailed{URL: "e", Message: "timeout"}),
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, zap.InfoLevel, entries[1].Level)
	require.Equal(t, zap.WarnLevel, entries[2].Level)
	require.Equal(t, "timeout", entries[2].ContextMap()["message"])
	require.Equal(t, "job-1", entries[1].ContextMap()["job_id"])
}

type recordingStore struct {
	crawler.JobStore

	mu      sync.Mutex
	fail    bool
	updates map[string]crawler.Counters
}

func (s *recordingStore) UpdateJobProgress(_ context.Context, jobID string, counters crawler.Counters) error {
	if s.fail {
		return errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updates == nil {
		s.updates = make(map[string]crawler.Counters)
	}
	s.updates[jobID] = counters
	return nil
}

func (s *recordingStore) Updates() map[string]crawler.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]crawler.Counters, len(s.updates))
	for k, v := range s.updates {
		out[k] = v
	}
	return out
}
