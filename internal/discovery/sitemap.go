package discovery

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
)

const maxSitemapBytes = 50 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// Document is the parsed content of one sitemap file. An index lists nested
// sitemaps; a urlset lists pages.
type Document struct {
	Sitemaps []string
	URLs     []string
}

// parseSitemap decodes body, transparently gunzipping it, and resolves every
// <loc> against sitemapURL.
func parseSitemap(sitemapURL string, body []byte) (Document, error) {
	if bytes.HasPrefix(body, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return Document{}, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		body, err = io.ReadAll(io.LimitReader(zr, maxSitemapBytes))
		if err != nil {
			return Document{}, fmt.Errorf("gunzip: %w", err)
		}
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse xml: %w", err)
	}
	base, _ := url.Parse(sitemapURL)

	var out Document
	xmlquery.FindEach(doc, "//sitemap/loc", func(_ int, n *xmlquery.Node) {
		if loc := resolve(base, n.InnerText()); loc != "" {
			out.Sitemaps = append(out.Sitemaps, loc)
		}
	})
	xmlquery.FindEach(doc, "//url/loc", func(_ int, n *xmlquery.Node) {
		if loc := resolve(base, n.InnerText()); loc != "" {
			out.URLs = append(out.URLs, loc)
		}
	})
	return out, nil
}

func resolve(base *url.URL, loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
