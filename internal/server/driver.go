package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	autofetcher "github.com/JakeFAU/recurse-archiver/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/recurse-archiver/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/recurse-archiver/internal/fetcher/headless"
	"github.com/JakeFAU/recurse-archiver/internal/headless/detector"
	"github.com/JakeFAU/recurse-archiver/internal/jobs"
	"github.com/JakeFAU/recurse-archiver/internal/policy/ratelimit"
)

// Driver opens capture sessions and owns the process behind them.
type Driver struct {
	jobs.CapturerFactory
	name    string
	browser *headlessfetcher.Browser
}

// NewDriver builds the capture driver selected by cfg.Driver. The plain HTTP
// fetcher always exists; the headless browser uses it for requests the page
// itself may not make.
func NewDriver(cfg config.CaptureConfig, navTimeout time.Duration, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cookies := loadCookies(cfg.CookiesFile, logger)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   navTimeout,
		Cookies:   cookies,
	})
	switch cfg.Driver {
	case config.DriverHTTP:
		logger.Info("using http capture driver", zap.String("user_agent", cfg.UserAgent))
		return &Driver{CapturerFactory: fetcher, name: config.DriverHTTP}, nil
	case config.DriverChromedp, "":
		browser, err := newBrowser(cfg, navTimeout, fetcher, cookies)
		if err != nil {
			return nil, err
		}
		logger.Info("using headless capture driver",
			zap.Int("max_parallel", cfg.MaxParallel),
			zap.Bool("visible", !cfg.Headless),
		)
		return &Driver{CapturerFactory: browser, name: config.DriverChromedp, browser: browser}, nil
	case config.DriverAuto:
		browser, err := newBrowser(cfg, navTimeout, fetcher, cookies)
		if err != nil {
			return nil, err
		}
		auto, err := autofetcher.New(autofetcher.Config{
			Probe:    fetcher,
			Plain:    fetcher,
			Browser:  browser,
			Detector: detector.NewHeuristic(0),
			Logger:   logger.Named("auto"),
		})
		if err != nil {
			browser.Close()
			return nil, err
		}
		logger.Info("using auto capture driver", zap.Int("max_parallel", cfg.MaxParallel))
		return &Driver{CapturerFactory: auto, name: config.DriverAuto, browser: browser}, nil
	default:
		return nil, fmt.Errorf("unknown capture driver %q", cfg.Driver)
	}
}

// Name returns the driver identifier.
func (d *Driver) Name() string {
	return d.name
}

// Close stops the browser, if any.
func (d *Driver) Close() {
	if d.browser != nil {
		d.browser.Close()
	}
}

func newBrowser(
	cfg config.CaptureConfig,
	navTimeout time.Duration,
	fallback *collyfetcher.Fetcher,
	cookies []crawler.Cookie,
) (*headlessfetcher.Browser, error) {
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.MaxParallel,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: navTimeout,
		ExecPath:          cfg.ExecPath,
		Visible:           !cfg.Headless,
		Fallback:          fallback,
		Cookies:           cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("headless browser init failed: %w", err)
	}
	return browser, nil
}

// AssetLimiter returns the per-host limiter for asset downloads, or nil when
// cfg.AssetRPS leaves them unlimited.
func AssetLimiter(cfg config.CaptureConfig) crawler.RateLimiter {
	if cfg.AssetRPS <= 0 {
		return nil
	}
	return ratelimit.New(ratelimit.Config{RPS: cfg.AssetRPS, Burst: cfg.AssetBurst})
}

// loadCookies reads the cookie export at path. A file that cannot be read is
// logged and the crawl continues without cookies.
func loadCookies(path string, logger *zap.Logger) []crawler.Cookie {
	if path == "" {
		return nil
	}
	cookies, err := crawler.LoadCookies(path)
	if err != nil {
		logger.Warn("cookies not loaded", zap.String("path", path), zap.Error(err))
		return nil
	}
	logger.Info("loaded cookies", zap.String("path", path), zap.Int("count", len(cookies)))
	return cookies
}
