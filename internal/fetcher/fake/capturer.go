// Package fake provides a scripted crawler.Capturer. Pages and resources are
// registered up front; every call is recorded so tests can assert visit
// order and fetch counts.
package fake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// Page scripts the outcome of navigating to a URL.
type Page struct {
	Status        int
	Title         string
	HTML          string
	Links         []string
	Assets        []crawler.AssetRef
	ResourceBytes int64
	Err           error
}

// Resource scripts the outcome of fetching a URL through the page context.
type Resource struct {
	Status      int
	ContentType string
	Body        []byte
	Err         error
}

// Capturer is an in-memory crawler.Capturer.
type Capturer struct {
	mu          sync.Mutex
	pages       map[string]Page
	resources   map[string]Resource
	heads       map[string]int64
	current     *Page
	navigations []string
	fetches     []string
	headCalls   []string
	closed      bool

	// OnNavigate runs after each navigation attempt with the 1-based count.
	OnNavigate func(url string, n int)
}

var _ crawler.Capturer = (*Capturer)(nil)

// New returns an empty Capturer.
func New() *Capturer {
	return &Capturer{
		pages:     make(map[string]Page),
		resources: make(map[string]Resource),
		heads:     make(map[string]int64),
	}
}

// AddPage scripts a navigation target. Status defaults to 200.
func (c *Capturer) AddPage(url string, p Page) *Capturer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Status == 0 {
		p.Status = http.StatusOK
	}
	c.pages[crawler.Normalize(url)] = p
	return c
}

// AddResource scripts a FetchViaPage target. Status defaults to 200.
func (c *Capturer) AddResource(url string, r Resource) *Capturer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	c.resources[url] = r
	return c
}

// SetHeadSize scripts the content length reported by HeadRequest.
func (c *Capturer) SetHeadSize(url string, size int64) *Capturer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heads[url] = size
	return c
}

// Navigate loads the scripted page for url.
func (c *Capturer) Navigate(_ context.Context, url string, _ crawler.NavigateOptions) (*crawler.Response, error) {
	c.mu.Lock()
	c.navigations = append(c.navigations, url)
	n := len(c.navigations)
	page, ok := c.pages[crawler.Normalize(url)]
	hook := c.OnNavigate
	if ok && page.Err == nil {
		p := page
		c.current = &p
	} else {
		c.current = nil
	}
	c.mu.Unlock()

	if hook != nil {
		hook(url, n)
	}
	if !ok {
		return nil, fmt.Errorf("navigate %s: no scripted page", url)
	}
	if page.Err != nil {
		return nil, page.Err
	}
	return &crawler.Response{
		URL:           url,
		Status:        page.Status,
		Headers:       http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		ResourceBytes: page.ResourceBytes,
	}, nil
}

func (c *Capturer) page() (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, errors.New("no page loaded")
	}
	return c.current, nil
}

// CurrentTitle returns the loaded page title.
func (c *Capturer) CurrentTitle(context.Context) (string, error) {
	p, err := c.page()
	if err != nil {
		return "", err
	}
	return p.Title, nil
}

// RenderedContent returns the loaded page HTML.
func (c *Capturer) RenderedContent(context.Context) (string, error) {
	p, err := c.page()
	if err != nil {
		return "", err
	}
	return p.HTML, nil
}

// ExtractLinksAndAssets returns the scripted links and assets.
func (c *Capturer) ExtractLinksAndAssets(context.Context) (crawler.Extraction, error) {
	p, err := c.page()
	if err != nil {
		return crawler.Extraction{}, err
	}
	return crawler.Extraction{
		Links:  append([]string(nil), p.Links...),
		Assets: append([]crawler.AssetRef(nil), p.Assets...),
	}, nil
}

// FetchViaPage returns the scripted resource or a 404 result.
func (c *Capturer) FetchViaPage(_ context.Context, url string) (*crawler.FetchResult, error) {
	c.mu.Lock()
	c.fetches = append(c.fetches, url)
	r, ok := c.resources[url]
	c.mu.Unlock()

	if !ok {
		return &crawler.FetchResult{OK: false, Status: http.StatusNotFound, Headers: http.Header{}}, nil
	}
	if r.Err != nil {
		return nil, r.Err
	}
	headers := http.Header{}
	if r.ContentType != "" {
		headers.Set("Content-Type", r.ContentType)
	}
	return &crawler.FetchResult{
		OK:      r.Status >= 200 && r.Status < 300,
		Status:  r.Status,
		Headers: headers,
		Body:    append([]byte(nil), r.Body...),
	}, nil
}

// HeadRequest returns the scripted size, or an error when none was set.
func (c *Capturer) HeadRequest(_ context.Context, url string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headCalls = append(c.headCalls, url)
	size, ok := c.heads[url]
	if !ok {
		return 0, fmt.Errorf("head %s: no scripted size", url)
	}
	return size, nil
}

// Close marks the capturer closed.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Capturer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Navigations returns every navigated URL in call order.
func (c *Capturer) Navigations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.navigations...)
}

// Fetches returns every FetchViaPage URL in call order.
func (c *Capturer) Fetches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fetches...)
}

// FetchCount returns how often url was fetched.
func (c *Capturer) FetchCount(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.fetches {
		if f == url {
			n++
		}
	}
	return n
}

// HeadCalls returns every HeadRequest URL in call order.
func (c *Capturer) HeadCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.headCalls...)
}
