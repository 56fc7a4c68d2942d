// Package archiver runs the breadth-first crawl of one archive job. A single
// loop drains a FIFO queue, delegating rendering to a crawler.Capturer and
// asset deduplication to an assets.Store; full-capture runs end with an
// export.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/assets"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/discovery"
	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/id/uuid"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// Exporter writes the finished crawl to its output location.
type Exporter interface {
	Export(ctx context.Context, in export.Input) (string, error)
}

// AnalyzeResult is the outcome of an analyze run.
type AnalyzeResult struct {
	Pages     []*crawler.Page `json:"pages"`
	Tree      *pagetree.Node  `json:"tree"`
	Total     int             `json:"total"`
	TotalSize int64           `json:"total_size"`
	Duration  time.Duration   `json:"duration"`
	Stopped   bool            `json:"stopped"`
}

// Clone returns a copy whose tree and pages share no pointers with r, so
// toggling one never shows through the other.
func (r *AnalyzeResult) Clone() *AnalyzeResult {
	if r == nil {
		return nil
	}
	out := *r
	tree, copied := pagetree.Clone(r.Tree)
	out.Tree = tree
	if r.Pages != nil {
		out.Pages = make([]*crawler.Page, len(r.Pages))
		for i, page := range r.Pages {
			if cp, ok := copied[page]; ok {
				out.Pages[i] = cp
				continue
			}
			if page != nil {
				dup := *page
				out.Pages[i] = &dup
			}
		}
	}
	return &out
}

// Stats is a point-in-time view of a running job.
type Stats struct {
	Pages      int   `json:"pages"`
	Assets     int   `json:"assets"`
	TotalBytes int64 `json:"total_bytes"`
	Errors     int   `json:"errors"`
	Queued     int   `json:"queued"`
	Visited    int   `json:"visited"`
	Stopped    bool  `json:"stopped"`
}

type entry struct {
	url   string
	depth int
}

// visitFunc processes one dequeued URL, enqueueing whatever it follows.
type visitFunc func(ctx context.Context, e entry) error

// Archiver owns the state of one crawl job. Run, Analyze and RunSelected may
// each be called once; Stop and Snapshot are safe from any goroutine.
type Archiver struct {
	capturer crawler.Capturer
	opts     crawler.Options
	origin   string
	jobID    string

	logger   *zap.Logger
	emitter  progress.Emitter
	clock    crawler.Clock
	hasher   crawler.Hasher
	repo     crawler.Repository
	limiter  crawler.RateLimiter
	exporter Exporter
	sleep    func(context.Context, time.Duration)

	stopped atomic.Bool
	started atomic.Bool

	mu         sync.Mutex
	visited    crawler.URLSet
	queued     crawler.URLSet
	queue      []entry
	pageLimit  int
	pages      []*crawler.Page
	assets     *assets.Store
	downloaded map[string]struct{}
	sizes      map[string]int64
	totalBytes int64
	failed     int
	kind       crawler.JobKind
	startedAt  time.Time
}

// New validates the seed and options and returns an idle Archiver. The
// capturer is closed when the run returns.
func New(capturer crawler.Capturer, opts crawler.Options, options ...Option) (*Archiver, error) {
	if capturer == nil {
		return nil, errors.New("capturer is required")
	}
	origin, err := crawler.Origin(opts.SeedURL)
	if err != nil {
		return nil, err
	}
	opts, err = ValidateOptions(opts)
	if err != nil {
		return nil, err
	}

	a := &Archiver{
		capturer:   capturer,
		opts:       opts,
		origin:     origin,
		logger:     zap.NewNop(),
		emitter:    progress.Discard,
		clock:      defaultClock(),
		sleep:      pause,
		visited:    crawler.URLSet{},
		queued:     crawler.URLSet{},
		downloaded: make(map[string]struct{}),
		sizes:      make(map[string]int64),
		pageLimit:  opts.MaxPages,
	}
	for _, opt := range options {
		opt(a)
	}
	if a.jobID == "" {
		id, err := uuid.New().NewID()
		if err != nil {
			return nil, fmt.Errorf("generate job id: %w", err)
		}
		a.jobID = id
	}
	a.logger = a.logger.Named("archiver").With(zap.String("job_id", a.jobID))
	if a.exporter == nil {
		a.exporter = export.New(export.WithLogger(a.logger), export.WithClock(a.clock))
	}
	a.assets = assets.New(a.hasher)
	return a, nil
}

// JobID returns the id stamped on events.
func (a *Archiver) JobID() string { return a.jobID }

// Origin returns scheme://host of the seed.
func (a *Archiver) Origin() string { return a.origin }

// Stop asks the loop to finish after the current visit.
func (a *Archiver) Stop() {
	a.stopped.Store(true)
}

// Stopped reports whether Stop was called or the run context ended.
func (a *Archiver) Stopped() bool {
	return a.stopped.Load()
}

// Snapshot returns the current counters.
func (a *Archiver) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Pages:      len(a.pages),
		Assets:     a.assets.Len(),
		TotalBytes: a.totalBytes,
		Errors:     a.failed,
		Queued:     len(a.queue),
		Visited:    len(a.visited),
		Stopped:    a.stopped.Load(),
	}
}

// Pages returns the pages produced so far.
func (a *Archiver) Pages() []*crawler.Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*crawler.Page(nil), a.pages...)
}

// Assets returns the job's asset store.
func (a *Archiver) Assets() *assets.Store { return a.assets }

// Run crawls from the seed in full-capture mode and exports the archive.
func (a *Archiver) Run(ctx context.Context) (*crawler.Result, error) {
	if err := a.begin(crawler.JobKindArchive); err != nil {
		return nil, err
	}
	defer a.closeCapturer()

	a.seed(ctx)
	a.drain(ctx, a.opts.Delay, a.capture)
	return a.finish(ctx)
}

// RunSelected captures exactly urls at depth 0, without discovery or link
// following, and exports the archive. MaxPages does not apply.
func (a *Archiver) RunSelected(ctx context.Context, urls []string) (*crawler.Result, error) {
	if err := a.begin(crawler.JobKindSelected); err != nil {
		return nil, err
	}
	defer a.closeCapturer()

	a.mu.Lock()
	a.pageLimit = len(urls)
	for _, u := range urls {
		a.queue = append(a.queue, entry{url: u, depth: 0})
		a.queued.Add(u)
	}
	a.mu.Unlock()

	total := len(urls)
	a.drain(ctx, a.opts.Delay, func(ctx context.Context, e entry) error {
		page, err := a.capturePage(ctx, e)
		if err != nil {
			return err
		}
		downloaded := a.addPage(ctx, page)
		a.emit(progress.PageCaptured{URL: e.url, Depth: 0, Discovered: total, Downloaded: downloaded})
		return nil
	})
	return a.finish(ctx)
}

func (a *Archiver) begin(kind crawler.JobKind) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("archiver already started")
	}
	a.startedAt = a.clock.Now()
	a.kind = kind
	a.emit(progress.JobStarted{JobKind: kind, URL: a.opts.SeedURL})
	a.logger.Info("job started",
		zap.String("kind", string(kind)),
		zap.String("url", a.opts.SeedURL),
		zap.Int("max_depth", a.opts.MaxDepth),
		zap.Int("max_pages", a.opts.MaxPages))
	return nil
}

// seed enqueues the seed at depth 0 followed by any eligible sitemap URLs at
// depth 1.
func (a *Archiver) seed(ctx context.Context) {
	a.mu.Lock()
	a.queued.Add(a.opts.SeedURL)
	a.queue = append(a.queue, entry{url: a.opts.SeedURL, depth: 0})
	a.mu.Unlock()
	if !a.opts.SmartDiscovery {
		return
	}
	urls, err := discovery.Discover(ctx, a.capturer, a.opts.SeedURL, discovery.Config{
		MaxSitemaps: a.opts.MaxSitemaps,
		Logger:      a.logger,
		OnSitemap: func(u string) {
			a.emit(progress.SitemapProcessing{URL: u})
		},
	})
	if err != nil {
		a.logger.Debug("discovery skipped", zap.Error(err))
		return
	}
	added := 0
	for _, u := range urls {
		if a.enqueue(u, 1) {
			added++
		}
	}
	a.logger.Info("discovery finished", zap.Int("found", len(urls)), zap.Int("queued", added))
}

// enqueue appends raw when it is eligible. The queued set keeps each
// normalized URL in the queue at most once.
func (a *Archiver) enqueue(raw string, depth int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !crawler.IsEligible(raw, a.origin, a.visited, a.queued) {
		return false
	}
	a.queued.Add(raw)
	a.queue = append(a.queue, entry{url: raw, depth: depth})
	return true
}

// next pops the queue head, skipping already visited URLs. ok is false when
// the queue is empty or the page limit is reached.
func (a *Archiver) next() (entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.queue) > 0 && len(a.pages) < a.pageLimit {
		e := a.queue[0]
		a.queue = a.queue[1:]
		norm := crawler.Normalize(e.url)
		delete(a.queued, norm)
		if _, seen := a.visited[norm]; seen {
			continue
		}
		a.visited[norm] = struct{}{}
		return e, true
	}
	return entry{}, false
}

func (a *Archiver) drain(ctx context.Context, delay time.Duration, visit visitFunc) {
	for {
		if a.stopped.Load() {
			break
		}
		if ctx.Err() != nil {
			a.stopped.Store(true)
			break
		}
		e, ok := a.next()
		if !ok {
			break
		}

		if err := visit(ctx, e); err != nil {
			a.recordFailure(e.url, err)
		}

		if delay > 0 && a.pending() {
			a.sleep(ctx, delay)
		}
	}
}

// follow enqueues the eligible links of a page at depth+1 unless the page is
// already at the depth limit.
func (a *Archiver) follow(e entry, links []string) {
	if e.depth >= a.opts.MaxDepth {
		return
	}
	for _, link := range links {
		a.enqueue(link, e.depth+1)
	}
}

func (a *Archiver) pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue) > 0
}

func (a *Archiver) recordFailure(url string, err error) {
	a.mu.Lock()
	a.failed++
	a.mu.Unlock()
	a.logger.Warn("visit failed", zap.String("url", url), zap.Error(err))
	a.emit(progress.VisitFailed{URL: url, Message: err.Error()})
}

// finish exports the captured pages and emits the terminal event.
func (a *Archiver) finish(ctx context.Context) (*crawler.Result, error) {
	stats := a.Snapshot()
	pages := a.Pages()
	out := a.opts.OutputPath
	if out == "" {
		out = export.DefaultOutputPath(".", a.opts.SeedURL, a.startedAt)
	}

	completed := a.clock.Now()
	// Export runs to completion even when the crawl was stopped by ctx.
	exportCtx := context.WithoutCancel(ctx)
	location, err := a.exporter.Export(exportCtx, export.Input{
		OutputPath:  out,
		SeedURL:     a.opts.SeedURL,
		Options:     a.opts,
		Pages:       pages,
		Assets:      a.assets,
		StartedAt:   a.startedAt,
		CompletedAt: completed,
	})
	if err != nil {
		var exportErr *crawler.ExportError
		if !errors.As(err, &exportErr) {
			err = &crawler.ExportError{Path: out, Err: err}
		}
		a.logger.Error("export failed", zap.String("output", out), zap.Error(err))
		a.emit(progress.JobFailed{Error: err.Error()})
		return nil, err
	}

	res := &crawler.Result{
		Pages:      stats.Pages,
		Assets:     stats.Assets,
		TotalBytes: stats.TotalBytes,
		Errors:     stats.Errors,
		OutputPath: location,
		Duration:   a.clock.Now().Sub(a.startedAt),
		Stopped:    stats.Stopped,
	}
	a.saveCrawl(exportCtx, location)
	a.emit(progress.JobComplete{
		Pages:      res.Pages,
		Assets:     res.Assets,
		TotalBytes: res.TotalBytes,
		OutputPath: location,
		DurationMs: res.Duration.Milliseconds(),
	})
	a.logger.Info("job finished",
		zap.Int("pages", res.Pages),
		zap.Int("assets", res.Assets),
		zap.Int64("total_bytes", res.TotalBytes),
		zap.Int("errors", res.Errors),
		zap.String("output", location),
		zap.Bool("stopped", res.Stopped),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (a *Archiver) emit(payload progress.Payload) {
	a.emitter.Emit(progress.New(a.jobID, a.clock.Now(), payload))
}

func (a *Archiver) closeCapturer() {
	if err := a.capturer.Close(); err != nil {
		a.logger.Warn("close capturer failed", zap.Error(err))
	}
}

// wait blocks on the rate limiter, when one is set.
func (a *Archiver) wait(ctx context.Context, url string) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx, url)
}

func pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
