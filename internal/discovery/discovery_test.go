package discovery

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/fetcher/fake"
)

func urlset(locs ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", loc)
	}
	b.WriteString(`</urlset>`)
	return []byte(b.String())
}

func index(locs ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", loc)
	}
	b.WriteString(`</sitemapindex>`)
	return []byte(b.String())
}

func xmlResource(body []byte) fake.Resource {
	return fake.Resource{ContentType: "application/xml", Body: body}
}

func TestDiscoverRobotsWithIndexAndLeaf(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddResource("https://example.com/robots.txt", fake.Resource{
			ContentType: "text/plain",
			Body: []byte("User-agent: *\nDisallow: /private\n" +
				"Sitemap: https://example.com/sitemap-index.xml\n" +
				"sitemap: https://example.com/extra.xml\n"),
		}).
		AddResource("https://example.com/sitemap-index.xml", xmlResource(index(
			"https://example.com/sitemap-posts.xml",
		))).
		AddResource("https://example.com/sitemap-posts.xml", xmlResource(urlset(
			"https://example.com/posts/1",
			"https://example.com/posts/2",
		))).
		AddResource("https://example.com/extra.xml", xmlResource(urlset(
			"https://example.com/about",
			"https://example.com/posts/1/",
		)))

	var visited []string
	urls, err := Discover(context.Background(), c, "https://example.com/start", Config{
		OnSitemap: func(u string) { visited = append(visited, u) },
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/posts/1",
		"https://example.com/posts/2",
		"https://example.com/about",
	}, urls)
	require.Equal(t, []string{
		"https://example.com/sitemap-index.xml",
		"https://example.com/sitemap-posts.xml",
		"https://example.com/extra.xml",
	}, visited)
	require.Zero(t, c.FetchCount("https://example.com/sitemap.xml"))
}

func TestDiscoverSitemapCycleFetchesEachOnce(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddResource("https://example.com/sitemap.xml", xmlResource(index(
			"https://example.com/a.xml",
		))).
		AddResource("https://example.com/a.xml", xmlResource(index(
			"https://example.com/b.xml",
			"https://example.com/leaf.xml",
		))).
		AddResource("https://example.com/b.xml", xmlResource(index(
			"https://example.com/a.xml",
			"https://example.com/sitemap.xml",
		))).
		AddResource("https://example.com/leaf.xml", xmlResource(urlset("https://example.com/page")))

	urls, err := Discover(context.Background(), c, "https://example.com", Config{})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/page"}, urls)
	for _, sm := range []string{"sitemap.xml", "a.xml", "b.xml", "leaf.xml"} {
		require.Equal(t, 1, c.FetchCount("https://example.com/"+sm), sm)
	}
}

func TestDiscoverFallsBackToSitemapXML(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddResource("https://example.com/robots.txt", fake.Resource{Body: []byte("User-agent: *\nAllow: /\n")}).
		AddResource("https://example.com/sitemap.xml", xmlResource(urlset("https://example.com/one", "/relative")))

	urls, err := Discover(context.Background(), c, "https://example.com/", Config{})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/one", "https://example.com/relative"}, urls)
}

func TestDiscoverSwallowsFailures(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddResource("https://example.com/robots.txt", fake.Resource{Body: []byte("Sitemap: https://example.com/broken.xml\nSitemap: https://example.com/down.xml\n")}).
		AddResource("https://example.com/broken.xml", fake.Resource{Body: []byte("<urlset><url><loc>")}).
		AddResource("https://example.com/down.xml", fake.Resource{Status: 503})

	urls, err := Discover(context.Background(), c, "https://example.com/", Config{})
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestDiscoverRejectsInvalidSeed(t *testing.T) {
	t.Parallel()

	_, err := Discover(context.Background(), fake.New(), "ftp://example.com", Config{})
	var verr *crawler.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDiscoverHonorsMaxSitemaps(t *testing.T) {
	t.Parallel()

	c := fake.New().
		AddResource("https://example.com/sitemap.xml", xmlResource(index(
			"https://example.com/1.xml",
			"https://example.com/2.xml",
			"https://example.com/3.xml",
		)))
	for i := 1; i <= 3; i++ {
		c.AddResource(fmt.Sprintf("https://example.com/%d.xml", i), xmlResource(urlset(fmt.Sprintf("https://example.com/p%d", i))))
	}

	urls, err := Discover(context.Background(), c, "https://example.com/", Config{MaxSitemaps: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/p1", "https://example.com/p2"}, urls)
	require.Zero(t, c.FetchCount("https://example.com/3.xml"))
}

func TestParseSitemapGzip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(urlset("https://example.com/zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc, err := parseSitemap("https://example.com/sitemap.xml.gz", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/zipped"}, doc.URLs)
	require.Empty(t, doc.Sitemaps)
}
