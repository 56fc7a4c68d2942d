package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

var errNotLoaded = errors.New("no page loaded")

var skipSchemes = regexp.MustCompile(`(?i)^(javascript|mailto|tel|data):`)

// assetSelectors maps a CSS selector and the attribute holding the URL to the
// resource type it yields.
var assetSelectors = []struct {
	selector string
	attr     string
	kind     crawler.AssetType
}{
	{"img[src]", "src", crawler.AssetImage},
	{`link[rel~="stylesheet"][href]`, "href", crawler.AssetCSS},
	{"script[src]", "src", crawler.AssetJS},
	{`link[rel~="icon"][href]`, "href", crawler.AssetImage},
	{"video[src], audio[src], source[src]", "src", crawler.AssetMedia},
	{`link[rel="preload"][as="font"][href]`, "href", crawler.AssetFont},
}

// Capturer is one HTTP session. Pages are parsed, not rendered, so scripts do
// not run. It is not safe for concurrent use.
type Capturer struct {
	fetcher   *Fetcher
	collector *colly.Collector
	doc       *goquery.Document
}

var _ crawler.Capturer = (*Capturer)(nil)

// Navigate GETs url and parses the body. The wait condition has no meaning
// without a browser and is ignored.
func (c *Capturer) Navigate(ctx context.Context, url string, opts crawler.NavigateOptions) (*crawler.Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	resp, err := c.fetcher.do(ctx, c.collector, http.MethodGet, url)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	absolutize(doc, baseURL(doc, resp.URL))
	c.doc = doc
	return &crawler.Response{
		URL:           resp.URL,
		Status:        resp.Status,
		Headers:       resp.Headers,
		ResourceBytes: int64(len(resp.Body)),
	}, nil
}

// CurrentTitle returns the text of the first title element.
func (c *Capturer) CurrentTitle(_ context.Context) (string, error) {
	if c.doc == nil {
		return "", errNotLoaded
	}
	return strings.TrimSpace(c.doc.Find("title").First().Text()), nil
}

// RenderedContent serializes the parsed document with absolute href and src
// values.
func (c *Capturer) RenderedContent(_ context.Context) (string, error) {
	if c.doc == nil {
		return "", errNotLoaded
	}
	html, err := c.doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

// ExtractLinksAndAssets collects anchors and resource references.
func (c *Capturer) ExtractLinksAndAssets(_ context.Context) (crawler.Extraction, error) {
	if c.doc == nil {
		return crawler.Extraction{}, errNotLoaded
	}
	return extract(c.doc), nil
}

// FetchViaPage GETs url within the job session.
func (c *Capturer) FetchViaPage(ctx context.Context, url string) (*crawler.FetchResult, error) {
	return c.fetcher.fetch(ctx, c.collector, url)
}

// HeadRequest returns the Content-Length advertised for url.
func (c *Capturer) HeadRequest(ctx context.Context, url string) (int64, error) {
	return c.fetcher.head(ctx, c.collector, url)
}

// Close drops the parsed document.
func (c *Capturer) Close() error {
	c.doc = nil
	return nil
}

func extract(doc *goquery.Document) crawler.Extraction {
	var out crawler.Extraction
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		out.Links = append(out.Links, s.AttrOr("href", ""))
	})
	for _, sel := range assetSelectors {
		doc.Find(sel.selector).Each(func(_ int, s *goquery.Selection) {
			if v := s.AttrOr(sel.attr, ""); v != "" {
				out.Assets = append(out.Assets, crawler.AssetRef{URL: v, Type: sel.kind})
			}
		})
	}
	return out.Clean()
}

// baseURL resolves a <base href> against the response URL.
func baseURL(doc *goquery.Document, responseURL string) *url.URL {
	base, err := url.Parse(responseURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := base.Parse(strings.TrimSpace(href)); err == nil {
			return ref
		}
	}
	return base
}

func absolutize(doc *goquery.Document, base *url.URL) {
	if base == nil {
		return
	}
	rewrite := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, s *goquery.Selection) {
			v := strings.TrimSpace(s.AttrOr(attr, ""))
			if v == "" || strings.HasPrefix(v, "#") || skipSchemes.MatchString(v) {
				return
			}
			if ref, err := base.Parse(v); err == nil {
				s.SetAttr(attr, ref.String())
			}
		}
	}
	doc.Find("[href]").Not("base").Each(rewrite("href"))
	doc.Find("[src]").Each(rewrite("src"))
}
