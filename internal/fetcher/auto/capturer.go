// Package autofetcher picks a capture driver per crawl. The seed page is
// probed over plain HTTP and the crawl moves to the browser only when the
// probe looks like a client-rendered application.
package autofetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// Factory opens capture sessions of one kind.
type Factory interface {
	NewCapturer(ctx context.Context) (crawler.Capturer, error)
}

// Detector decides whether a fetched page needs a browser.
type Detector interface {
	ShouldPromote(res *crawler.FetchResult) bool
}

// Config wires the two drivers and the probe together.
type Config struct {
	// Probe fetches the first page of a crawl for inspection.
	Probe crawler.ResourceFetcher
	// Plain serves crawls whose seed renders without scripts.
	Plain Factory
	// Browser serves crawls the detector promotes.
	Browser  Factory
	Detector Detector
	Logger   *zap.Logger
}

// Fetcher is a Factory choosing between Plain and Browser.
type Fetcher struct {
	cfg Config
}

// New validates cfg and returns a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Probe == nil || cfg.Plain == nil || cfg.Browser == nil || cfg.Detector == nil {
		return nil, errors.New("auto driver requires probe, plain, browser and detector")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg}, nil
}

// NewCapturer opens a plain session. It may be swapped for a browser session
// on the first navigation.
func (f *Fetcher) NewCapturer(ctx context.Context) (crawler.Capturer, error) {
	plain, err := f.cfg.Plain.NewCapturer(ctx)
	if err != nil {
		return nil, err
	}
	return &Capturer{fetcher: f, active: plain}, nil
}

// Capturer delegates to whichever session the first navigation settled on.
// Like the sessions it wraps, it is not safe for concurrent use.
type Capturer struct {
	fetcher  *Fetcher
	active   crawler.Capturer
	decided  bool
	promoted bool
}

var _ crawler.Capturer = (*Capturer)(nil)

// Promoted reports whether the crawl moved to the browser.
func (c *Capturer) Promoted() bool {
	return c.promoted
}

// Navigate decides the driver on its first call, then loads url.
func (c *Capturer) Navigate(ctx context.Context, url string, opts crawler.NavigateOptions) (*crawler.Response, error) {
	if !c.decided {
		c.decided = true
		if err := c.decide(ctx, url); err != nil {
			return nil, err
		}
	}
	return c.active.Navigate(ctx, url, opts)
}

func (c *Capturer) decide(ctx context.Context, url string) error {
	cfg := c.fetcher.cfg
	res, err := cfg.Probe.FetchViaPage(ctx, url)
	if err != nil {
		cfg.Logger.Debug("auto driver probe failed, staying on http", zap.String("url", url), zap.Error(err))
		return nil
	}
	if !cfg.Detector.ShouldPromote(res) {
		return nil
	}
	browser, err := cfg.Browser.NewCapturer(ctx)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	if err := c.active.Close(); err != nil {
		cfg.Logger.Debug("close http session failed", zap.Error(err))
	}
	c.active = browser
	c.promoted = true
	cfg.Logger.Info("seed page is client rendered, using browser", zap.String("url", url))
	return nil
}

// CurrentTitle returns the active session's title.
func (c *Capturer) CurrentTitle(ctx context.Context) (string, error) {
	return c.active.CurrentTitle(ctx)
}

// RenderedContent returns the active session's HTML.
func (c *Capturer) RenderedContent(ctx context.Context) (string, error) {
	return c.active.RenderedContent(ctx)
}

// ExtractLinksAndAssets extracts from the active session.
func (c *Capturer) ExtractLinksAndAssets(ctx context.Context) (crawler.Extraction, error) {
	return c.active.ExtractLinksAndAssets(ctx)
}

// FetchViaPage fetches through the active session.
func (c *Capturer) FetchViaPage(ctx context.Context, url string) (*crawler.FetchResult, error) {
	return c.active.FetchViaPage(ctx, url)
}

// HeadRequest probes a size through the active session.
func (c *Capturer) HeadRequest(ctx context.Context, url string) (int64, error) {
	return c.active.HeadRequest(ctx, url)
}

// Close releases the active session.
func (c *Capturer) Close() error {
	return c.active.Close()
}
