// Package discovery finds page URLs a site advertises through robots.txt and
// XML sitemaps.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// DefaultMaxSitemaps bounds how many sitemap documents one discovery run
// fetches.
const DefaultMaxSitemaps = 50

// Config tunes a discovery run.
type Config struct {
	// MaxSitemaps caps fetched sitemap documents. Zero means DefaultMaxSitemaps.
	MaxSitemaps int
	// OnSitemap runs before each sitemap document is fetched.
	OnSitemap func(sitemapURL string)
	Logger    *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxSitemaps <= 0 {
		c.MaxSitemaps = DefaultMaxSitemaps
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Discover returns the page URLs listed by the sitemaps of the seed's origin,
// deduplicated by normalized form in first-seen order. Sitemaps are taken
// from robots.txt, falling back to <origin>/sitemap.xml. Fetch and parse
// failures are logged and skipped; only an invalid seed is an error.
func Discover(ctx context.Context, fetcher crawler.ResourceFetcher, seed string, cfg Config) ([]string, error) {
	origin, err := crawler.Origin(seed)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	w := &walker{fetcher: fetcher, cfg: cfg, logger: cfg.Logger.Named("discovery")}

	sitemaps := w.robotsSitemaps(ctx, origin)
	if len(sitemaps) == 0 {
		sitemaps = []string{origin + "/sitemap.xml"}
	}

	var (
		out       []string
		seen      = crawler.URLSet{}
		processed = crawler.URLSet{}
	)
	for _, sm := range sitemaps {
		if ctx.Err() != nil {
			break
		}
		var urls []string
		urls, processed = w.processSitemap(ctx, sm, processed)
		for _, u := range urls {
			if seen.Has(u) {
				continue
			}
			seen.Add(u)
			out = append(out, u)
		}
	}
	w.logger.Debug("discovery finished",
		zap.String("origin", origin),
		zap.Int("sitemaps", len(processed)),
		zap.Int("urls", len(out)))
	return out, nil
}

type walker struct {
	fetcher crawler.ResourceFetcher
	cfg     Config
	logger  *zap.Logger
}

// robotsSitemaps returns the Sitemap directives of <origin>/robots.txt.
func (w *walker) robotsSitemaps(ctx context.Context, origin string) []string {
	robotsURL := origin + "/robots.txt"
	body, err := w.fetch(ctx, robotsURL)
	if err != nil {
		w.logger.Debug("robots.txt unavailable", zap.Error(&crawler.DiscoveryError{URL: robotsURL, Err: err}))
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(http.StatusOK, body)
	if err != nil {
		w.logger.Debug("robots.txt unparsable", zap.Error(&crawler.DiscoveryError{URL: robotsURL, Err: err}))
		return nil
	}
	out := make([]string, 0, len(robots.Sitemaps))
	for _, sm := range robots.Sitemaps {
		if sm = strings.TrimSpace(sm); sm != "" {
			out = append(out, sm)
		}
	}
	return out
}

// processSitemap fetches sitemapURL and returns the page URLs beneath it,
// following sitemap indexes recursively. processed holds the normalized
// sitemap URLs already visited and is returned with sitemapURL and every
// nested sitemap added, so cycles terminate and each document is fetched once.
func (w *walker) processSitemap(ctx context.Context, sitemapURL string, processed crawler.URLSet) ([]string, crawler.URLSet) {
	if processed.Has(sitemapURL) || ctx.Err() != nil {
		return nil, processed
	}
	if len(processed) >= w.cfg.MaxSitemaps {
		w.logger.Debug("sitemap limit reached", zap.String("url", sitemapURL), zap.Int("max_sitemaps", w.cfg.MaxSitemaps))
		return nil, processed
	}
	processed.Add(sitemapURL)
	if w.cfg.OnSitemap != nil {
		w.cfg.OnSitemap(sitemapURL)
	}

	body, err := w.fetch(ctx, sitemapURL)
	if err != nil {
		w.logger.Debug("sitemap fetch failed", zap.Error(&crawler.DiscoveryError{URL: sitemapURL, Err: err}))
		return nil, processed
	}
	doc, err := parseSitemap(sitemapURL, body)
	if err != nil {
		w.logger.Debug("sitemap parse failed", zap.Error(&crawler.DiscoveryError{URL: sitemapURL, Err: err}))
		return nil, processed
	}

	urls := doc.URLs
	for _, child := range doc.Sitemaps {
		var nested []string
		nested, processed = w.processSitemap(ctx, child, processed)
		urls = append(urls, nested...)
	}
	return urls, processed
}

func (w *walker) fetch(ctx context.Context, target string) ([]byte, error) {
	res, err := w.fetcher.FetchViaPage(ctx, target)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("empty response")
	}
	if !res.OK {
		return nil, fmt.Errorf("status %d", res.Status)
	}
	return res.Body, nil
}
