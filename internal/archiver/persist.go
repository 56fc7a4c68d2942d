package archiver

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

func (a *Archiver) savePage(ctx context.Context, page *crawler.Page) {
	if a.repo == nil {
		return
	}
	if err := a.repo.SavePage(ctx, a.jobID, *page); err != nil {
		a.logger.Warn("persist page failed", zap.String("url", page.URL), zap.Error(err))
	}
}

func (a *Archiver) saveAsset(ctx context.Context, asset *crawler.Asset) {
	if a.repo == nil {
		return
	}
	if err := a.repo.SaveAsset(ctx, a.jobID, *asset); err != nil {
		a.logger.Warn("persist asset failed", zap.String("url", asset.URL), zap.Error(err))
	}
}

func (a *Archiver) saveCrawl(ctx context.Context, output string) {
	if a.repo == nil {
		return
	}
	stats := a.Snapshot()
	record := crawler.CrawlRecord{
		JobID:       a.jobID,
		Kind:        a.kind,
		SeedURL:     a.opts.SeedURL,
		Origin:      a.origin,
		StartedAt:   a.startedAt,
		CompletedAt: a.clock.Now(),
		Counters: crawler.Counters{
			Pages:      stats.Pages,
			Assets:     stats.Assets,
			TotalBytes: stats.TotalBytes,
			Errors:     stats.Errors,
			Queued:     stats.Queued,
			Visited:    stats.Visited,
		},
		OutputPath: output,
		Stopped:    stats.Stopped,
	}
	if err := a.repo.SaveCrawl(ctx, record); err != nil {
		a.logger.Warn("persist crawl failed", zap.Error(err))
	}
}
