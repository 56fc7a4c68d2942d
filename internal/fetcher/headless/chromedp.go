// Package headless drives a real browser through chromedp so pages are captured
// after their scripts have run.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

const defaultNavigationTimeout = 45 * time.Second

// Fallback fetches resources outside the browser when an in-page request is
// refused, typically by CORS.
type Fallback interface {
	FetchViaPage(ctx context.Context, url string) (*crawler.FetchResult, error)
	HeadRequest(ctx context.Context, url string) (int64, error)
}

// Config controls the behavior of the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ExecPath          string
	// Visible opens a browser window instead of running headless.
	Visible  bool
	Fallback Fallback
	// Cookies are installed in every tab before its first navigation.
	Cookies []crawler.Cookie
}

// Browser owns one Chrome process. Each job gets its own tab via NewCapturer;
// MaxParallel bounds how many tabs are open at once.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a browser allocator. Chrome itself starts lazily with
// the first tab.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	headless := any("new")
	if cfg.Visible {
		headless = false
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down. Open capturers stop working.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewCapturer opens a tab, waiting for a free slot when MaxParallel is set.
func (b *Browser) NewCapturer(ctx context.Context) (crawler.Capturer, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	// The first Run binds the tab to tabCtx, so it must not carry a deadline.
	if err := chromedp.Run(tabCtx, b.networkSetupAction()); err != nil {
		tabCancel()
		b.release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Capturer{
		browser: b,
		tabCtx:  tabCtx,
		cancel:  tabCancel,
		meta:    meta,
	}, nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(b.cfg.Cookies) > 0 {
			if err := network.SetCookies(cookieParams(b.cfg.Cookies)).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		return nil
	})
}

func cookieParams(cookies []crawler.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none", "no_restriction":
			p.SameSite = network.CookieSameSiteNone
		}
		if exp := c.ExpiresAt(); !exp.IsZero() {
			ts := cdp.TimeSinceEpoch(exp)
			p.Expires = &ts
		}
		params = append(params, p)
	}
	return params
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// responseMeta records the main document response and the bytes transferred
// for the current navigation.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
	bytes   int64
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.headers = http.Header{}
	m.url = ""
	m.bytes = 0
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) finished(event *network.EventLoadingFinished) {
	if event.EncodedDataLength <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += int64(event.EncodedDataLength)
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url, m.bytes
}

func (m *responseMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		m.capture(e)
	case *network.EventLoadingFinished:
		m.finished(e)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) *crawler.Response {
	status, headers, url, bytes := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return &crawler.Response{URL: url, Status: status, Headers: headers, ResourceBytes: bytes}
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
