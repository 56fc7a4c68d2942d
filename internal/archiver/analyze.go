package archiver

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// Analyze crawls from the seed recording page sizes only. The inter-visit
// delay is capped at 200ms.
func (a *Archiver) Analyze(ctx context.Context) (*AnalyzeResult, error) {
	if err := a.begin(crawler.JobKindAnalyze); err != nil {
		return nil, err
	}
	defer a.closeCapturer()

	a.seed(ctx)
	a.drain(ctx, min(a.opts.Delay, maxAnalyzeDelay), a.analyzeVisit)

	pages := a.Pages()
	tree := pagetree.Build(pages)
	elapsed := a.clock.Now().Sub(a.startedAt)
	a.mu.Lock()
	total := a.totalBytes
	a.mu.Unlock()

	res := &AnalyzeResult{
		Pages:     pages,
		Tree:      tree,
		Total:     len(pages),
		TotalSize: total,
		Duration:  elapsed,
		Stopped:   a.stopped.Load(),
	}
	a.saveCrawl(ctx, "")
	a.emit(progress.AnalyzeComplete{
		Pages:      pages,
		Tree:       tree,
		Total:      res.Total,
		DurationMs: elapsed.Milliseconds(),
		Stopped:    res.Stopped,
	})
	a.logger.Info("analyze finished",
		zap.Int("pages", res.Total),
		zap.Int64("total_size", total),
		zap.Bool("stopped", res.Stopped),
		zap.Duration("duration", elapsed))
	return res, nil
}

// analyzeVisit sizes a page without storing its content. The size is the
// sum of response bodies observed during navigation, falling back to the
// rendered markup, plus the HEAD size of every binary link.
func (a *Archiver) analyzeVisit(ctx context.Context, e entry) error {
	resp, err := a.capturer.Navigate(ctx, e.url, crawler.NavigateOptions{
		WaitUntil: AnalyzeWaitUntil,
		Timeout:   min(a.opts.Timeout, AnalyzeTimeout),
	})
	if err != nil {
		return &crawler.VisitError{URL: e.url, Stage: "navigate", Err: err}
	}
	title, err := a.capturer.CurrentTitle(ctx)
	if err != nil {
		title = ""
	}
	var size int64
	if resp != nil {
		size = resp.ResourceBytes
	}
	if size <= 0 {
		if html, err := a.capturer.RenderedContent(ctx); err == nil {
			size = int64(len(html))
		}
	}
	extraction, err := a.capturer.ExtractLinksAndAssets(ctx)
	if err != nil {
		return &crawler.VisitError{URL: e.url, Stage: "extract", Err: err}
	}
	for _, link := range extraction.Links {
		if !crawler.IsBinaryLink(link) {
			continue
		}
		if err := a.wait(ctx, link); err != nil {
			break
		}
		n, err := a.capturer.HeadRequest(ctx, link)
		if err != nil {
			a.logger.Debug("head request failed", zap.String("url", link), zap.Error(err))
			continue
		}
		size += n
	}

	page := a.newPage(e)
	page.Title = title
	page.Size = size
	page.Links = extraction.Links

	a.mu.Lock()
	a.pages = append(a.pages, page)
	if prev, ok := a.sizes[page.NormalizedURL]; ok {
		a.totalBytes -= prev
	}
	a.sizes[page.NormalizedURL] = size
	a.totalBytes += size
	evt := progress.PageAnalyzed{
		URL:       e.url,
		Title:     title,
		Depth:     e.depth,
		Size:      size,
		TotalSize: a.totalBytes,
		Total:     len(a.pages),
		Queued:    len(a.queue),
	}
	a.mu.Unlock()

	a.savePage(ctx, page)
	a.emit(evt)
	a.follow(e, extraction.Links)
	return nil
}
