package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/fetcher/fake"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
	"github.com/JakeFAU/recurse-archiver/internal/storage/memory"
)

const seed = "https://example.com/"

type harness struct {
	archiver *Archiver
	capturer *fake.Capturer
	events   *progress.Recorder
	target   *memory.BlobStore
	sleeps   *atomic.Int32
}

func newHarness(t *testing.T, c *fake.Capturer, mutate func(*crawler.Options), extra ...Option) *harness {
	t.Helper()
	opts := DefaultOptions(seed)
	opts.SmartDiscovery = false
	opts.Delay = 10 * time.Millisecond
	opts.OutputPath = "memory"
	if mutate != nil {
		mutate(&opts)
	}

	h := &harness{
		capturer: c,
		events:   &progress.Recorder{},
		target:   memory.NewBlobStore(),
		sleeps:   &atomic.Int32{},
	}
	clock := system.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	exporter := export.New(
		export.WithClock(clock),
		export.WithTarget(func(context.Context, string, time.Time) (crawler.ArchiveTarget, error) {
			return h.target, nil
		}),
	)
	options := append([]Option{
		WithJobID("job-1"),
		WithEmitter(h.events),
		WithClock(clock),
		WithExporter(exporter),
		WithSleep(func(context.Context, time.Duration) { h.sleeps.Add(1) }),
	}, extra...)

	a, err := New(c, opts, options...)
	require.NoError(t, err)
	h.archiver = a
	return h
}

func (h *harness) payloads() []progress.Payload {
	var out []progress.Payload
	for _, evt := range h.events.Events() {
		out = append(out, evt.Payload)
	}
	return out
}

func threePageSite() *fake.Capturer {
	css := crawler.AssetRef{URL: "https://example.com/site.css", Type: crawler.AssetCSS}
	logo := crawler.AssetRef{URL: "https://example.com/logo.png", Type: crawler.AssetImage}
	return fake.New().
		AddPage(seed, fake.Page{
			Title: "Home",
			HTML:  `<a href="https://example.com/about">About</a><a href="https://example.com/blog">Blog</a>`,
			Links: []string{
				"https://example.com/about",
				"https://example.com/blog",
				"https://other.example/elsewhere",
				"https://example.com/brochure.pdf",
			},
			Assets: []crawler.AssetRef{css, logo},
		}).
		AddPage("https://example.com/about", fake.Page{
			Title:  "About",
			HTML:   `<a href="https://example.com/">Home</a>`,
			Links:  []string{seed, "https://example.com/blog/"},
			Assets: []crawler.AssetRef{css},
		}).
		AddPage("https://example.com/blog", fake.Page{
			Title: "Blog",
			HTML:  `<a href="https://example.com/about">About</a>`,
			Links: []string{"https://example.com/about#team"},
		}).
		AddResource(css.URL, fake.Resource{ContentType: "text/css", Body: []byte("body{}")}).
		AddResource(logo.URL, fake.Resource{ContentType: "image/png", Body: []byte{0x89, 'P', 'N', 'G'}})
}

func TestRunThreePageSite(t *testing.T) {
	t.Parallel()

	c := threePageSite()
	h := newHarness(t, c, nil)

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, 2, res.Assets)
	require.Zero(t, res.Errors)
	require.False(t, res.Stopped)
	require.Equal(t, "memory://", res.OutputPath)

	require.Equal(t, []string{seed, "https://example.com/about", "https://example.com/blog"}, c.Navigations())
	require.Equal(t, 1, c.FetchCount("https://example.com/site.css"))
	require.True(t, c.Closed())

	var pageFiles []string
	for _, p := range h.target.Paths() {
		if strings.HasPrefix(p, "pages/") {
			pageFiles = append(pageFiles, p)
		}
	}
	require.ElementsMatch(t, []string{"pages/index.html", "pages/about/index.html", "pages/blog/index.html"}, pageFiles)

	raw, ok := h.target.Get(export.ManifestFile)
	require.True(t, ok)
	var manifest export.Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	require.Equal(t, 3, manifest.Stats.TotalPages)

	kinds := h.events.Kinds()
	require.Equal(t, []progress.Kind{
		progress.KindJobStarted,
		progress.KindPage, progress.KindPage, progress.KindPage,
		progress.KindComplete,
	}, kinds)

	first := h.payloads()[1].(progress.PageCaptured)
	require.Equal(t, progress.PageCaptured{URL: seed, Depth: 0, Discovered: 3, Downloaded: 1}, first)
	done := h.payloads()[4].(progress.JobComplete)
	require.Equal(t, 3, done.Pages)
	require.Equal(t, "memory://", done.OutputPath)

	// No pause after the final visit.
	require.Equal(t, int32(2), h.sleeps.Load())
}

func TestRunRespectsDepthLimit(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "0", Links: []string{"https://example.com/one"}}).
		AddPage("https://example.com/one", fake.Page{HTML: "1", Links: []string{"https://example.com/one/two"}}).
		AddPage("https://example.com/one/two", fake.Page{HTML: "2"})
	h := newHarness(t, c, func(o *crawler.Options) { o.MaxDepth = 1 })

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, []string{seed, "https://example.com/one"}, c.Navigations())
	for _, p := range h.archiver.Pages() {
		require.LessOrEqual(t, p.Depth, 1)
	}
}

func TestRunRespectsPageLimit(t *testing.T) {
	t.Parallel()

	c := fake.New().AddPage(seed, fake.Page{HTML: "root", Links: []string{
		"https://example.com/a", "https://example.com/b", "https://example.com/c", "https://example.com/d",
	}})
	for _, p := range []string{"a", "b", "c", "d"} {
		c.AddPage("https://example.com/"+p, fake.Page{HTML: p})
	}
	h := newHarness(t, c, func(o *crawler.Options) { o.MaxPages = 2 })

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Len(t, c.Navigations(), 2)
	require.Equal(t, 3, h.archiver.Snapshot().Queued)
}

func TestRunContinuesAfterVisitFailure(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "root", Links: []string{"https://example.com/broken", "https://example.com/gone", "https://example.com/ok"}}).
		AddPage("https://example.com/broken", fake.Page{Err: errors.New("net::ERR_CONNECTION_RESET")}).
		AddPage("https://example.com/gone", fake.Page{Status: 404, HTML: "missing"}).
		AddPage("https://example.com/ok", fake.Page{HTML: "ok"})
	h := newHarness(t, c, nil)

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, 2, res.Errors)

	var failures []progress.VisitFailed
	for _, p := range h.payloads() {
		if f, ok := p.(progress.VisitFailed); ok {
			failures = append(failures, f)
		}
	}
	require.Len(t, failures, 2)
	require.Equal(t, "https://example.com/broken", failures[0].URL)
	require.Contains(t, failures[0].Message, "ERR_CONNECTION_RESET")
	require.Contains(t, failures[1].Message, "404")
}

func TestRunDeduplicatesEquivalentLinks(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "root", Links: []string{
			"https://example.com/a",
			"https://example.com/a/",
			"https://EXAMPLE.com/a#top",
			"https://example.com/a?utm_source=mail",
		}}).
		AddPage("https://example.com/a", fake.Page{HTML: "a", Links: []string{seed}})
	h := newHarness(t, c, nil)

	_, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{seed, "https://example.com/a"}, c.Navigations())
}

func TestRunSkipsDisabledAssetCategories(t *testing.T) {
	t.Parallel()

	c := threePageSite()
	h := newHarness(t, c, func(o *crawler.Options) {
		o.MaxDepth = 0
		o.IncludeAssets.CSS = false
	})

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Assets)
	require.Zero(t, c.FetchCount("https://example.com/site.css"))
	require.Equal(t, 1, c.FetchCount("https://example.com/logo.png"))
}

func TestRunSeedsQueueFromSitemaps(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "root"}).
		AddPage("https://example.com/hidden", fake.Page{HTML: "hidden"}).
		AddResource("https://example.com/robots.txt", fake.Resource{Body: []byte("Sitemap: https://example.com/sm.xml\n")}).
		AddResource("https://example.com/sm.xml", fake.Resource{Body: []byte(
			`<urlset><url><loc>https://example.com/hidden</loc></url>` +
				`<url><loc>https://other.example/x</loc></url>` +
				`<url><loc>https://example.com/</loc></url></urlset>`)})
	h := newHarness(t, c, func(o *crawler.Options) { o.SmartDiscovery = true })

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, []string{seed, "https://example.com/hidden"}, c.Navigations())

	pages := h.archiver.Pages()
	require.Equal(t, 0, pages[0].Depth)
	require.Equal(t, 1, pages[1].Depth)
	require.Contains(t, h.events.Kinds(), progress.KindSitemapProcessing)
}

func TestRunReportsExportFailure(t *testing.T) {
	t.Parallel()

	c := fake.New().AddPage(seed, fake.Page{HTML: "root"})
	h := newHarness(t, c, nil, WithExporter(exporterFunc(func(context.Context, export.Input) (string, error) {
		return "", errors.New("read-only filesystem")
	})))

	_, err := h.archiver.Run(context.Background())
	var exportErr *crawler.ExportError
	require.ErrorAs(t, err, &exportErr)

	kinds := h.events.Kinds()
	require.Equal(t, progress.KindFailed, kinds[len(kinds)-1])
}

type exporterFunc func(context.Context, export.Input) (string, error)

func (f exporterFunc) Export(ctx context.Context, in export.Input) (string, error) { return f(ctx, in) }

func TestRunSelectedCapturesExactlyTheList(t *testing.T) {
	t.Parallel()

	c := threePageSite()
	h := newHarness(t, c, nil)
	urls := []string{"https://example.com/blog", "https://example.com/about", "https://example.com/blog/"}

	res, err := h.archiver.RunSelected(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, []string{"https://example.com/blog", "https://example.com/about"}, c.Navigations())

	for _, p := range h.archiver.Pages() {
		require.Zero(t, p.Depth)
	}
	for _, p := range h.payloads() {
		if pc, ok := p.(progress.PageCaptured); ok {
			require.Equal(t, len(urls), pc.Discovered)
		}
	}
}

func TestRunSelectedIgnoresPageLimit(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "root"}).
		AddPage("https://example.com/a", fake.Page{HTML: "a"}).
		AddPage("https://example.com/b", fake.Page{HTML: "b"}).
		AddPage("https://example.com/c", fake.Page{HTML: "c"})
	h := newHarness(t, c, func(o *crawler.Options) { o.MaxPages = 2 })
	urls := []string{seed, "https://example.com/a", "https://example.com/b", "https://example.com/c"}

	res, err := h.archiver.RunSelected(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, 4, res.Pages)
	require.Equal(t, urls, c.Navigations())
}

func TestAnalyzeSizesPages(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{
			Title:         "Home",
			HTML:          "<html>home</html>",
			ResourceBytes: 1000,
			Links:         []string{"https://example.com/docs", "https://example.com/files/setup.zip"},
		}).
		AddPage("https://example.com/docs", fake.Page{Title: "Docs", HTML: "0123456789"}).
		SetHeadSize("https://example.com/files/setup.zip", 500)
	h := newHarness(t, c, func(o *crawler.Options) { o.Delay = time.Second })

	res, err := h.archiver.Analyze(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, int64(1510), res.TotalSize)
	require.False(t, res.Stopped)
	require.Equal(t, int64(1500), res.Pages[0].Size)
	require.Equal(t, int64(10), res.Pages[1].Size)
	require.Equal(t, []string{"docs"}, res.Pages[1].PathSegments)
	require.True(t, res.Pages[1].Selected)
	require.Equal(t, 2, res.Tree.Count)
	require.Empty(t, c.Fetches())

	last := h.payloads()[len(h.payloads())-1].(progress.AnalyzeComplete)
	require.Equal(t, 2, last.Total)
	analyzed := h.payloads()[1].(progress.PageAnalyzed)
	assert.Equal(t, progress.PageAnalyzed{
		URL: seed, Title: "Home", Depth: 0, Size: 1500, TotalSize: 1500, Total: 1, Queued: 0,
	}, analyzed)
}

func TestAnalyzeResultCloneSharesNoPages(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "<html>home</html>", Links: []string{"https://example.com/docs"}}).
		AddPage("https://example.com/docs", fake.Page{HTML: "docs"})
	h := newHarness(t, c, nil)

	res, err := h.archiver.Analyze(context.Background())
	require.NoError(t, err)

	cp := res.Clone()
	require.Equal(t, res.Total, cp.Total)
	require.Len(t, cp.Pages, 2)
	for i := range res.Pages {
		require.NotSame(t, res.Pages[i], cp.Pages[i])
		require.Equal(t, res.Pages[i].URL, cp.Pages[i].URL)
	}

	docs := cp.Tree.Children["docs"]
	require.NotNil(t, docs)
	docs.Pages[0].Selected = false
	require.False(t, cp.Pages[1].Selected, "tree and flat list of a clone share pages")
	require.True(t, res.Pages[1].Selected)
	require.True(t, res.Tree.Children["docs"].Pages[0].Selected)

	var nilResult *AnalyzeResult
	require.Nil(t, nilResult.Clone())
}

func TestAnalyzeStopAfterSecondPage(t *testing.T) {
	t.Parallel()

	links := []string{"https://example.com/1", "https://example.com/2", "https://example.com/3", "https://example.com/4"}
	c := fake.New().AddPage(seed, fake.Page{HTML: "root", Links: links})
	for _, l := range links {
		c.AddPage(l, fake.Page{HTML: l})
	}
	h := newHarness(t, c, nil)
	c.OnNavigate = func(_ string, n int) {
		if n == 2 {
			h.archiver.Stop()
		}
	}

	res, err := h.archiver.Analyze(context.Background())
	require.NoError(t, err)
	require.True(t, res.Stopped)
	require.Less(t, res.Total, 5)
	require.Equal(t, 2, res.Total)
	require.Len(t, c.Navigations(), 2)

	done := h.payloads()[len(h.payloads())-1].(progress.AnalyzeComplete)
	require.True(t, done.Stopped)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddPage(seed, fake.Page{HTML: "root", Links: []string{"https://example.com/a"}}).
		AddPage("https://example.com/a", fake.Page{HTML: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	c.OnNavigate = func(string, int) { cancel() }
	h := newHarness(t, c, nil)

	res, err := h.archiver.Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Stopped)
	require.Equal(t, 1, res.Pages)
}

func TestArchiverRunsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fake.New().AddPage(seed, fake.Page{HTML: "x"}), nil)
	_, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	_, err = h.archiver.Analyze(context.Background())
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]crawler.Options{
		"bad scheme":     {SeedURL: "ftp://example.com"},
		"missing host":   {SeedURL: "https://"},
		"negative depth": {SeedURL: seed, MaxDepth: -1},
		"negative pages": {SeedURL: seed, MaxPages: -5},
		"negative delay": {SeedURL: seed, Delay: -time.Second},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := New(fake.New(), opts)
			var verr *crawler.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	_, err := New(nil, DefaultOptions(seed))
	require.Error(t, err)
}

func TestPauseReturnsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	pause(ctx, time.Hour)
	require.Less(t, time.Since(start), time.Second)
}

type recordingRepo struct {
	pages  atomic.Int32
	assets atomic.Int32
	crawls atomic.Int32
}

func (r *recordingRepo) SavePage(context.Context, string, crawler.Page) error {
	r.pages.Add(1)
	return nil
}

func (r *recordingRepo) SaveAsset(context.Context, string, crawler.Asset) error {
	r.assets.Add(1)
	return nil
}

func (r *recordingRepo) SaveCrawl(context.Context, crawler.CrawlRecord) error {
	r.crawls.Add(1)
	return nil
}

func TestRunPersistsThroughRepository(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	h := newHarness(t, threePageSite(), nil, WithRepository(repo))

	_, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(3), repo.pages.Load())
	require.Equal(t, int32(2), repo.assets.Load())
	require.Equal(t, int32(1), repo.crawls.Load())
}

type recordingLimiter struct {
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return l.err
}

func TestRunWaitsOnRateLimiterBeforeAssets(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{}
	c := threePageSite()
	h := newHarness(t, c, nil, WithRateLimiter(limiter))

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Assets)
	require.Equal(t, []string{"https://example.com/site.css", "https://example.com/logo.png"}, limiter.urls)
}

func TestRunSkipsAssetsWhenRateLimiterFails(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{err: context.DeadlineExceeded}
	c := threePageSite()
	h := newHarness(t, c, func(o *crawler.Options) { o.MaxDepth = 0 }, WithRateLimiter(limiter))

	res, err := h.archiver.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Pages)
	require.Zero(t, res.Assets)
	require.Zero(t, c.FetchCount("https://example.com/site.css"))
}
