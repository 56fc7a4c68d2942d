package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// PrometheusSink exports archive progress metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and page/asset counters.
type PrometheusSink struct {
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	pagesCaptured prometheus.Counter
	pagesAnalyzed prometheus.Counter
	visitErrors   prometheus.Counter
	sitemaps      prometheus.Counter
	archiveBytes  prometheus.Counter
	archiveAssets prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_jobs_started_total",
			Help: "Total jobs that have started partitioned by kind.",
		}, []string{"kind"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_pages_captured_total",
			Help: "Pages captured in full-capture mode.",
		}),
		pagesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_pages_analyzed_total",
			Help: "Pages sized in analyze mode.",
		}),
		visitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_visit_errors_total",
			Help: "Per-URL visit failures.",
		}),
		sitemaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_sitemaps_processed_total",
			Help: "Sitemap documents fetched during discovery.",
		}),
		archiveBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_archive_bytes_total",
			Help: "Bytes of pages and assets written to archives.",
		}),
		archiveAssets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_archive_assets_total",
			Help: "Distinct assets written to archives.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.pagesCaptured,
		s.pagesAnalyzed,
		s.visitErrors,
		s.sitemaps,
		s.archiveBytes,
		s.archiveAssets,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch p := evt.Payload.(type) {
	case progress.JobStarted:
		s.jobsStarted.WithLabelValues(string(p.JobKind)).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.PageCaptured:
		s.pagesCaptured.Inc()
	case progress.PageAnalyzed:
		s.pagesAnalyzed.Inc()
	case progress.VisitFailed:
		s.visitErrors.Inc()
	case progress.SitemapProcessing:
		s.sitemaps.Inc()
	case progress.JobComplete:
		s.archiveBytes.Add(float64(p.TotalBytes))
		s.archiveAssets.Add(float64(p.Assets))
		s.finish(evt.JobID, "success", time.Duration(p.DurationMs)*time.Millisecond)
	case progress.AnalyzeComplete:
		result := "success"
		if p.Stopped {
			result = "stopped"
		}
		s.finish(evt.JobID, result, time.Duration(p.DurationMs)*time.Millisecond)
	case progress.JobFailed:
		s.finish(evt.JobID, "error", 0)
	}
}

func (s *PrometheusSink) finish(jobID, result string, dur time.Duration) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(dur.Seconds())
	}
	if s.tracker.complete(jobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
