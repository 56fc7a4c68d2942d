// Package jobs keeps the runtime state of submitted archive jobs. Jobs live in
// an arena indexed by id; callers only ever hold the id.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/archiver"
	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/id/uuid"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
	"github.com/JakeFAU/recurse-archiver/internal/telemetry"
)

// ErrNotReady is returned when a job has not produced the requested output yet.
var ErrNotReady = errors.New("job output not ready")

// CapturerFactory opens a capture session for one job.
type CapturerFactory interface {
	NewCapturer(ctx context.Context) (crawler.Capturer, error)
}

// Enqueuer hands job ids to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Toggle selects or deselects every analyzed page at or below Path.
type Toggle struct {
	Path     string `json:"path"`
	Selected bool   `json:"selected"`
}

// Selection picks the pages of an analyze job to capture. Explicit URLs win
// over toggles.
type Selection struct {
	URLs       []string `json:"urls"`
	Toggles    []Toggle `json:"toggles"`
	OutputPath string   `json:"output"`
}

type entry struct {
	id       string
	kind     crawler.JobKind
	opts     crawler.Options
	parentID string
	urls     []string

	archiver      *archiver.Archiver
	analysis      *archiver.AnalyzeResult
	result        *crawler.Result
	stopRequested bool
}

// Registry creates jobs, runs them on behalf of workers and answers queries
// about their live state.
type Registry struct {
	store     crawler.JobStore
	queue     Enqueuer
	factory   CapturerFactory
	emitter   progress.Emitter
	repo      crawler.Repository
	limiter   crawler.RateLimiter
	exporter  archiver.Exporter
	ids       crawler.IDGenerator
	clock     crawler.Clock
	outputDir string
	logger    *zap.Logger

	mu    sync.RWMutex
	jobs  []*entry
	index map[string]int
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmitter sets where job progress is sent.
func WithEmitter(emitter progress.Emitter) Option {
	return func(r *Registry) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithRepository persists crawl artifacts of every job.
func WithRepository(repo crawler.Repository) Option {
	return func(r *Registry) { r.repo = repo }
}

// WithExporter overrides the archive writer used by jobs.
func WithExporter(exporter archiver.Exporter) Option {
	return func(r *Registry) { r.exporter = exporter }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(r *Registry) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock crawler.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithOutputDir sets the directory for archives of jobs without an explicit
// output path.
func WithOutputDir(dir string) Option {
	return func(r *Registry) { r.outputDir = dir }
}

// WithRateLimiter paces asset downloads and size probes of every job.
func WithRateLimiter(limiter crawler.RateLimiter) Option {
	return func(r *Registry) { r.limiter = limiter }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Registry.
func New(store crawler.JobStore, queue Enqueuer, factory CapturerFactory, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if factory == nil {
		return nil, errors.New("capturer factory is required")
	}
	r := &Registry{
		store:   store,
		queue:   queue,
		factory: factory,
		emitter: progress.Discard,
		ids:     uuid.New(),
		clock:   system.New(),
		logger:  zap.NewNop(),
		index:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("jobs")
	return r, nil
}

// Submit validates opts and queues a new archive or analyze job.
func (r *Registry) Submit(ctx context.Context, kind crawler.JobKind, opts crawler.Options) (crawler.Job, error) {
	if kind != crawler.JobKindArchive && kind != crawler.JobKindAnalyze {
		return crawler.Job{}, &crawler.ValidationError{Field: "kind", Value: string(kind), Err: errors.New("kind must be archive or analyze")}
	}
	opts, err := archiver.ValidateOptions(opts)
	if err != nil {
		return crawler.Job{}, err
	}
	return r.submit(ctx, &entry{kind: kind, opts: opts})
}

// Select queues a job capturing pages chosen from a finished analyze job.
func (r *Registry) Select(ctx context.Context, parentID string, sel Selection) (crawler.Job, error) {
	r.mu.Lock()
	parent := r.lookupLocked(parentID)
	if parent == nil {
		r.mu.Unlock()
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if parent.kind != crawler.JobKindAnalyze || parent.analysis == nil {
		r.mu.Unlock()
		return crawler.Job{}, fmt.Errorf("select from %s: %w", parentID, ErrNotReady)
	}
	urls := sel.URLs
	if len(urls) == 0 {
		for _, t := range sel.Toggles {
			pagetree.Toggle(pagetree.Find(parent.analysis.Tree, t.Path), t.Selected)
		}
		urls = pagetree.SelectedURLs(parent.analysis.Tree)
	}
	opts := parent.opts
	r.mu.Unlock()

	if len(urls) == 0 {
		return crawler.Job{}, &crawler.ValidationError{Field: "urls", Err: errors.New("at least one page must be selected")}
	}
	origin, err := crawler.Origin(opts.SeedURL)
	if err != nil {
		return crawler.Job{}, err
	}
	for _, u := range urls {
		if o, err := crawler.Origin(u); err != nil || o != origin {
			return crawler.Job{}, &crawler.ValidationError{Field: "urls", Value: u, Err: errors.New("url must share the analyzed origin")}
		}
	}
	opts.OutputPath = sel.OutputPath
	return r.submit(ctx, &entry{
		kind:     crawler.JobKindSelected,
		opts:     opts,
		parentID: parentID,
		urls:     append([]string(nil), urls...),
	})
}

func (r *Registry) submit(ctx context.Context, e *entry) (crawler.Job, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	e.id = id
	job := crawler.Job{
		ID:        id,
		Kind:      e.kind,
		Status:    crawler.JobStatusQueued,
		Submitted: r.clock.Now().UTC(),
		Options:   e.opts,
		ParentID:  e.parentID,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	r.add(e)

	if err := r.queue.Enqueue(ctx, crawler.QueueItem{JobID: id, Submitted: job.Submitted.UnixNano()}); err != nil {
		if uerr := r.store.UpdateJobStatus(ctx, id, crawler.JobStatusFailed, err.Error(), crawler.Counters{}); uerr != nil {
			r.logger.Warn("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return crawler.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	r.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(e.kind)),
		zap.String("url", e.opts.SeedURL))
	return job, nil
}

// RunJob executes a queued job and blocks until it finishes.
func (r *Registry) RunJob(ctx context.Context, jobID string) (crawler.JobOutcome, error) {
	r.mu.RLock()
	e := r.lookupLocked(jobID)
	var stopped bool
	if e != nil {
		stopped = e.stopRequested
	}
	r.mu.RUnlock()
	if e == nil {
		return crawler.JobOutcome{}, crawler.ErrJobNotFound
	}
	if stopped {
		return crawler.JobOutcome{Stopped: true}, crawler.ErrJobStopped
	}

	ctx, span := telemetry.Tracer().Start(ctx, "archive.job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.kind", string(e.kind)),
		attribute.String("job.url", e.opts.SeedURL),
	))
	defer span.End()

	outcome, err := r.run(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("job.pages", outcome.Counters.Pages))
	return outcome, err
}

func (r *Registry) run(ctx context.Context, e *entry) (crawler.JobOutcome, error) {
	capturer, err := r.factory.NewCapturer(ctx)
	if err != nil {
		return crawler.JobOutcome{}, fmt.Errorf("open capturer: %w: %w", crawler.ErrTransient, err)
	}

	opts := e.opts
	if e.kind != crawler.JobKindAnalyze && opts.OutputPath == "" && r.outputDir != "" {
		opts.OutputPath = export.DefaultOutputPath(r.outputDir, opts.SeedURL, r.clock.Now())
	}
	options := []archiver.Option{
		archiver.WithJobID(e.id),
		archiver.WithLogger(r.logger),
		archiver.WithEmitter(r.emitter),
		archiver.WithClock(r.clock),
		archiver.WithRepository(r.repo),
	}
	if r.exporter != nil {
		options = append(options, archiver.WithExporter(r.exporter))
	}
	if r.limiter != nil {
		options = append(options, archiver.WithRateLimiter(r.limiter))
	}
	a, err := archiver.New(capturer, opts, options...)
	if err != nil {
		_ = capturer.Close()
		return crawler.JobOutcome{}, err
	}

	r.mu.Lock()
	e.archiver = a
	if e.stopRequested {
		a.Stop()
	}
	r.mu.Unlock()

	var outcome crawler.JobOutcome
	switch e.kind {
	case crawler.JobKindAnalyze:
		res, err := a.Analyze(ctx)
		outcome = outcomeOf(a, "")
		if err != nil {
			return outcome, err
		}
		r.mu.Lock()
		e.analysis = res.Clone()
		r.mu.Unlock()
		outcome.Stopped = res.Stopped
	default:
		var (
			res *crawler.Result
			err error
		)
		if e.kind == crawler.JobKindSelected {
			res, err = a.RunSelected(ctx, e.urls)
		} else {
			res, err = a.Run(ctx)
		}
		if err != nil {
			return outcomeOf(a, ""), err
		}
		r.mu.Lock()
		e.result = res
		r.mu.Unlock()
		outcome = outcomeOf(a, res.OutputPath)
	}
	return outcome, nil
}

func outcomeOf(a *archiver.Archiver, output string) crawler.JobOutcome {
	s := a.Snapshot()
	return crawler.JobOutcome{
		Counters: crawler.Counters{
			Pages:      s.Pages,
			Assets:     s.Assets,
			TotalBytes: s.TotalBytes,
			Errors:     s.Errors,
			Queued:     s.Queued,
			Visited:    s.Visited,
		},
		Output:  output,
		Stopped: s.Stopped,
	}
}

// Stop asks a job to stop after its current page. A queued job is canceled
// before it starts.
func (r *Registry) Stop(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookupLocked(jobID)
	if e == nil {
		return crawler.ErrJobNotFound
	}
	e.stopRequested = true
	if e.archiver != nil {
		e.archiver.Stop()
	}
	return nil
}

// Get returns the stored job with live counters while it runs.
func (r *Registry) Get(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	if job.Status != crawler.JobStatusRunning {
		return job, nil
	}
	r.mu.RLock()
	e := r.lookupLocked(jobID)
	var a *archiver.Archiver
	if e != nil {
		a = e.archiver
	}
	r.mu.RUnlock()
	if a != nil {
		job.Counters = outcomeOf(a, "").Counters
	}
	return job, nil
}

// List returns every stored job.
func (r *Registry) List(ctx context.Context) ([]crawler.Job, error) {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Analysis returns a snapshot of a finished analyze job. Later selections
// toggle the registry's own tree, never the returned copy.
func (r *Registry) Analysis(jobID string) (*archiver.AnalyzeResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.lookupLocked(jobID)
	if e == nil {
		return nil, crawler.ErrJobNotFound
	}
	if e.analysis == nil {
		return nil, ErrNotReady
	}
	return e.analysis.Clone(), nil
}

// Result returns the result of a finished archive or selected job.
func (r *Registry) Result(jobID string) (*crawler.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.lookupLocked(jobID)
	if e == nil {
		return nil, crawler.ErrJobNotFound
	}
	if e.result == nil {
		return nil, ErrNotReady
	}
	return e.result, nil
}

// Len returns the number of jobs held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[e.id] = len(r.jobs)
	r.jobs = append(r.jobs, e)
}

func (r *Registry) lookupLocked(id string) *entry {
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return r.jobs[i]
}
