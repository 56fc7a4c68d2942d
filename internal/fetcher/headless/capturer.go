package headless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// Wait conditions accepted by Navigate.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
	WaitCommit           = "commit"

	networkIdleSettle = 500 * time.Millisecond
	resourceTimeout   = 30 * time.Second
)

var errNotLoaded = errors.New("no page loaded")

// Capturer is one browser tab. It is not safe for concurrent use.
type Capturer struct {
	browser   *Browser
	tabCtx    context.Context
	cancel    context.CancelFunc
	meta      *responseMeta
	loaded    bool
	closeOnce sync.Once
}

var _ crawler.Capturer = (*Capturer)(nil)

// Navigate loads url and waits for the requested condition.
func (c *Capturer) Navigate(ctx context.Context, url string, opts crawler.NavigateOptions) (*crawler.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.browser.navTimeout()
	}
	c.meta.reset()

	var finalURL string
	actions := append([]chromedp.Action{chromedp.Navigate(url)}, waitActions(opts.WaitUntil)...)
	actions = append(actions, chromedp.Location(&finalURL))
	if err := c.run(ctx, timeout, actions...); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	c.loaded = true
	return c.meta.snapshotWithFallbacks(url, finalURL), nil
}

// CurrentTitle returns document.title.
func (c *Capturer) CurrentTitle(ctx context.Context) (string, error) {
	if !c.loaded {
		return "", errNotLoaded
	}
	var title string
	if err := c.run(ctx, resourceTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return strings.TrimSpace(title), nil
}

// RenderedContent serializes the live DOM with absolute href and src values.
func (c *Capturer) RenderedContent(ctx context.Context) (string, error) {
	if !c.loaded {
		return "", errNotLoaded
	}
	var html string
	if err := c.run(ctx, resourceTimeout, chromedp.Evaluate(renderScript, &html)); err != nil {
		return "", fmt.Errorf("serialize dom: %w", err)
	}
	return html, nil
}

type rawExtraction struct {
	Links  []string `json:"links"`
	Assets []struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"assets"`
}

func (r rawExtraction) extraction() crawler.Extraction {
	out := crawler.Extraction{Links: r.Links}
	for _, a := range r.Assets {
		out.Assets = append(out.Assets, crawler.AssetRef{URL: a.URL, Type: crawler.AssetType(a.Type)})
	}
	return out.Clean()
}

// ExtractLinksAndAssets collects anchors and resource references from the
// live DOM.
func (c *Capturer) ExtractLinksAndAssets(ctx context.Context) (crawler.Extraction, error) {
	if !c.loaded {
		return crawler.Extraction{}, errNotLoaded
	}
	var raw rawExtraction
	if err := c.run(ctx, resourceTimeout, chromedp.Evaluate(extractScript, &raw)); err != nil {
		return crawler.Extraction{}, fmt.Errorf("extract links: %w", err)
	}
	return raw.extraction(), nil
}

type pageFetch struct {
	OK      bool              `json:"ok"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Error   string            `json:"error"`
}

func (p pageFetch) result() (*crawler.FetchResult, error) {
	body, err := base64.StdEncoding.DecodeString(p.Body)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	headers := make(http.Header, len(p.Headers))
	for k, v := range p.Headers {
		headers.Set(k, v)
	}
	return &crawler.FetchResult{OK: p.OK, Status: p.Status, Headers: headers, Body: body}, nil
}

// FetchViaPage requests url from inside the tab so its cookies apply. Requests
// the page refuses are retried through the configured fallback.
func (c *Capturer) FetchViaPage(ctx context.Context, url string) (*crawler.FetchResult, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return nil, fmt.Errorf("quote url: %w", err)
	}
	var res pageFetch
	err = c.run(ctx, resourceTimeout, chromedp.Evaluate(fmt.Sprintf(fetchScript, quoted), &res, awaitPromise))
	if err == nil && res.Error == "" {
		return res.result()
	}
	if err == nil {
		err = errors.New(res.Error)
	}
	if fb := c.browser.cfg.Fallback; fb != nil && ctx.Err() == nil {
		return fb.FetchViaPage(ctx, url)
	}
	return nil, fmt.Errorf("fetch %s: %w", url, err)
}

// HeadRequest returns the advertised Content-Length of url.
func (c *Capturer) HeadRequest(ctx context.Context, url string) (int64, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return 0, fmt.Errorf("quote url: %w", err)
	}
	size := int64(-1)
	err = c.run(ctx, resourceTimeout, chromedp.Evaluate(fmt.Sprintf(headScript, quoted), &size, awaitPromise))
	if err == nil && size >= 0 {
		return size, nil
	}
	if fb := c.browser.cfg.Fallback; fb != nil && ctx.Err() == nil {
		return fb.HeadRequest(ctx, url)
	}
	if err == nil {
		err = errors.New("content length unavailable")
	}
	return 0, fmt.Errorf("head %s: %w", url, err)
}

// Close closes the tab and frees its slot.
func (c *Capturer) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.browser.release()
	})
	return nil
}

// run executes actions against the tab, bounded by timeout and by ctx.
func (c *Capturer) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// waitActions maps a wait condition to chromedp actions. Unknown values wait
// for network idle.
func waitActions(waitUntil string) []chromedp.Action {
	switch strings.ToLower(waitUntil) {
	case WaitCommit:
		return nil
	case WaitLoad, WaitDOMContentLoaded:
		return []chromedp.Action{chromedp.WaitReady("body", chromedp.ByQuery)}
	default:
		return []chromedp.Action{
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(networkIdleSettle),
		}
	}
}
