// Package collyfetcher captures pages over plain HTTP using gocolly, with
// goquery doing the DOM work a browser would otherwise do.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	Headers     http.Header
	// Cookies seed the jar of every new session.
	Cookies []crawler.Cookie
}

// Fetcher builds per-job capturers and serves one-off resource requests, for
// example as the fallback of the headless browser.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	robots        *robotsProbeState
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is the part of a colly response that outlives its callback.
type response struct {
	URL     string
	Status  int
	Headers http.Header
	Body    []byte
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	robots := newRobotsProbeState()
	f := &Fetcher{
		cfg:       cfg,
		robots:    robots,
		transport: &robotsAwareTransport{base: newHTTPTransport(), state: robots},
	}
	f.baseCollector = f.newCollector()
	return f
}

// newCollector returns a collector with its own cookie jar. Clones of it share
// that jar, which is how a job keeps one session across requests.
func (f *Fetcher) newCollector() *colly.Collector {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	}
	if f.cfg.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(f.cfg.MaxBodySize))
	}
	c := colly.NewCollector(opts...)
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	for _, ck := range f.cfg.Cookies {
		// The jar rejects cookies whose domain does not match; those are skipped.
		_ = c.SetCookies(ck.URL(), []*http.Cookie{ck.HTTPCookie()})
	}
	return c
}

// NewCapturer starts a fresh HTTP session for one job.
func (f *Fetcher) NewCapturer(_ context.Context) (crawler.Capturer, error) {
	return &Capturer{fetcher: f, collector: f.newCollector()}, nil
}

// FetchViaPage GETs url outside of any job session.
func (f *Fetcher) FetchViaPage(ctx context.Context, url string) (*crawler.FetchResult, error) {
	return f.fetch(ctx, f.baseCollector, url)
}

// HeadRequest returns the Content-Length advertised for url.
func (f *Fetcher) HeadRequest(ctx context.Context, url string) (int64, error) {
	return f.head(ctx, f.baseCollector, url)
}

func (f *Fetcher) fetch(ctx context.Context, collector *colly.Collector, url string) (*crawler.FetchResult, error) {
	resp, err := f.do(ctx, collector, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	return &crawler.FetchResult{
		OK:      resp.Status >= 200 && resp.Status < 300,
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    resp.Body,
	}, nil
}

func (f *Fetcher) head(ctx context.Context, collector *colly.Collector, url string) (int64, error) {
	resp, err := f.do(ctx, collector, http.MethodHead, url)
	if err != nil {
		return 0, err
	}
	if resp.Status >= http.StatusBadRequest {
		return 0, fmt.Errorf("head %s: status %d", url, resp.Status)
	}
	raw := resp.Headers.Get("Content-Length")
	if raw == "" {
		return 0, fmt.Errorf("head %s: no content length", url)
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("head %s: parse content length: %w", url, err)
	}
	return size, nil
}

// do issues one request on a clone of collector. Redirects are followed and
// error statuses are returned as responses.
func (f *Fetcher) do(ctx context.Context, collector *colly.Collector, method, url string) (*response, error) {
	var (
		result   response
		fetchErr error
	)
	c := collector.Clone()
	f.configureCollectorHooks(c, &result, &fetchErr)

	visit := c.Visit
	if method == http.MethodHead {
		visit = c.Head
	}
	if err := f.runCollector(ctx, visit, url, &fetchErr); err != nil {
		return nil, err
	}
	metrics.ObserveFetch(url, result.Status, len(result.Body))
	return &result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = response{
			URL:     r.Request.URL.String(),
			Status:  r.StatusCode,
			Headers: cloneHeaders(r.Headers),
			Body:    append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// runCollector waits for visit or ctx. The callbacks only write to state the
// caller reads after a completed visit.
func (f *Fetcher) runCollector(ctx context.Context, visit func(string) error, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil || r.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
