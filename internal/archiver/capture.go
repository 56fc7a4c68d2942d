package archiver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// capture is the full-capture visit: render the page, download its assets
// and follow its links.
func (a *Archiver) capture(ctx context.Context, e entry) error {
	page, err := a.capturePage(ctx, e)
	if err != nil {
		return err
	}
	downloaded := a.addPage(ctx, page)
	a.follow(e, page.Links)

	a.mu.Lock()
	discovered := len(a.visited) + len(a.queue)
	a.mu.Unlock()
	a.emit(progress.PageCaptured{URL: e.url, Depth: e.depth, Discovered: discovered, Downloaded: downloaded})
	return nil
}

func (a *Archiver) capturePage(ctx context.Context, e entry) (*crawler.Page, error) {
	resp, err := a.capturer.Navigate(ctx, e.url, crawler.NavigateOptions{
		WaitUntil: a.opts.WaitUntil,
		Timeout:   a.opts.Timeout,
	})
	if err != nil {
		return nil, &crawler.VisitError{URL: e.url, Stage: "navigate", Err: err}
	}
	if resp != nil && resp.Status >= 400 {
		return nil, &crawler.VisitError{URL: e.url, Stage: "navigate", Err: fmt.Errorf("http status %d", resp.Status)}
	}
	title, err := a.capturer.CurrentTitle(ctx)
	if err != nil {
		return nil, &crawler.VisitError{URL: e.url, Stage: "title", Err: err}
	}
	html, err := a.capturer.RenderedContent(ctx)
	if err != nil {
		return nil, &crawler.VisitError{URL: e.url, Stage: "content", Err: err}
	}
	extraction, err := a.capturer.ExtractLinksAndAssets(ctx)
	if err != nil {
		return nil, &crawler.VisitError{URL: e.url, Stage: "extract", Err: err}
	}

	page := a.newPage(e)
	page.Title = title
	page.HTML = html
	page.Size = int64(len(html))
	page.Links = extraction.Links
	page.Assets = a.downloadAssets(ctx, extraction.Assets)
	return page, nil
}

// downloadAssets fetches every enabled asset not yet attempted in this job
// and returns the URLs the page references that resolved to stored assets.
// Individual download failures are logged and skipped.
func (a *Archiver) downloadAssets(ctx context.Context, refs []crawler.AssetRef) []string {
	var out []string
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if !a.opts.IncludeAssets.Allows(ref.Type) {
			continue
		}
		a.mu.Lock()
		_, attempted := a.downloaded[ref.URL]
		a.downloaded[ref.URL] = struct{}{}
		a.mu.Unlock()
		if attempted {
			if a.assets.Has(ref.URL) {
				out = append(out, ref.URL)
			}
			continue
		}

		if err := a.wait(ctx, ref.URL); err != nil {
			break
		}
		res, err := a.capturer.FetchViaPage(ctx, ref.URL)
		if err != nil {
			a.logger.Debug("asset download failed", zap.String("url", ref.URL), zap.Error(err))
			continue
		}
		if !res.OK {
			a.logger.Debug("asset download rejected", zap.String("url", ref.URL), zap.Int("status", res.Status))
			continue
		}
		before := a.assets.Len()
		asset, err := a.assets.Store(ref.URL, res.Body, ref.Type, res.ContentType())
		if err != nil {
			a.logger.Debug("asset store failed", zap.String("url", ref.URL), zap.Error(err))
			continue
		}
		out = append(out, ref.URL)
		if a.assets.Len() > before {
			a.mu.Lock()
			a.totalBytes += asset.Size
			a.mu.Unlock()
		}
		a.saveAsset(ctx, asset)
	}
	return out
}

func (a *Archiver) newPage(e entry) *crawler.Page {
	return &crawler.Page{
		URL:           e.url,
		NormalizedURL: crawler.Normalize(e.url),
		Depth:         e.depth,
		Timestamp:     a.clock.Now().UTC(),
		Path:          crawler.ToArchivePath(e.url),
		PathSegments:  crawler.PathSegments(e.url),
		Selected:      true,
	}
}

// addPage records a captured page and returns the number captured so far.
func (a *Archiver) addPage(ctx context.Context, page *crawler.Page) int {
	a.mu.Lock()
	a.pages = append(a.pages, page)
	a.totalBytes += page.Size
	n := len(a.pages)
	a.mu.Unlock()
	a.logger.Debug("page captured", zap.String("url", page.URL), zap.Int("depth", page.Depth), zap.Int("assets", len(page.Assets)))
	a.savePage(ctx, page)
	return n
}
