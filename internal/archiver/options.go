package archiver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// Defaults applied to zero-valued options.
const (
	DefaultMaxDepth  = 3
	DefaultMaxPages  = 50
	DefaultDelay     = 500 * time.Millisecond
	DefaultTimeout   = 30 * time.Second
	DefaultWaitUntil = "networkidle"
	AnalyzeWaitUntil = "domcontentloaded"
	AnalyzeTimeout   = 15 * time.Second
	maxAnalyzeDelay  = 200 * time.Millisecond
)

// DefaultOptions returns the capture defaults for seed.
func DefaultOptions(seed string) crawler.Options {
	return crawler.Options{
		SeedURL:        seed,
		MaxDepth:       DefaultMaxDepth,
		MaxPages:       DefaultMaxPages,
		Delay:          DefaultDelay,
		Timeout:        DefaultTimeout,
		SmartDiscovery: true,
		IncludeAssets:  crawler.AllAssets(),
		WaitUntil:      DefaultWaitUntil,
		Manifest:       true,
		Sitemap:        true,
	}
}

// ValidateOptions checks the seed and limits and fills zero values with
// defaults. Failures are *crawler.ValidationError.
func ValidateOptions(opts crawler.Options) (crawler.Options, error) {
	if _, err := crawler.Origin(opts.SeedURL); err != nil {
		return opts, err
	}
	if opts.MaxDepth < 0 {
		return opts, &crawler.ValidationError{Field: "max_depth", Err: errors.New("max depth must be >= 0")}
	}
	if opts.MaxPages < 0 {
		return opts, &crawler.ValidationError{Field: "max_pages", Err: errors.New("max pages must be > 0")}
	}
	if opts.Delay < 0 {
		return opts, &crawler.ValidationError{Field: "delay", Err: errors.New("delay must be >= 0")}
	}
	if opts.Timeout < 0 {
		return opts, &crawler.ValidationError{Field: "timeout", Err: errors.New("timeout must be >= 0")}
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WaitUntil == "" {
		opts.WaitUntil = DefaultWaitUntil
	}
	return opts, nil
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEmitter sets the destination of progress events.
func WithEmitter(emitter progress.Emitter) Option {
	return func(a *Archiver) {
		if emitter != nil {
			a.emitter = emitter
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock crawler.Clock) Option {
	return func(a *Archiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithHasher overrides the asset content hasher.
func WithHasher(hasher crawler.Hasher) Option {
	return func(a *Archiver) {
		a.hasher = hasher
	}
}

// WithJobID sets the id stamped on events and persisted records.
func WithJobID(id string) Option {
	return func(a *Archiver) {
		if id != "" {
			a.jobID = id
		}
	}
}

// WithRepository persists pages, assets and the crawl record as they are
// produced. Persistence failures are logged and never stop the run.
func WithRepository(repo crawler.Repository) Option {
	return func(a *Archiver) {
		a.repo = repo
	}
}

// WithRateLimiter paces asset downloads and HEAD size probes per host. Page
// navigations keep using the configured delay.
func WithRateLimiter(limiter crawler.RateLimiter) Option {
	return func(a *Archiver) {
		a.limiter = limiter
	}
}

// WithExporter replaces the archive writer.
func WithExporter(exporter Exporter) Option {
	return func(a *Archiver) {
		if exporter != nil {
			a.exporter = exporter
		}
	}
}

// WithSleep replaces the inter-visit pause. Tests use it to avoid real delays.
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(a *Archiver) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

func defaultClock() crawler.Clock {
	return system.New()
}
