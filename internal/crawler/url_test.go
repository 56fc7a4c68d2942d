package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://EXAMPLE.com/Path", "https://example.com/Path"},
		{"strips fragment", "https://example.com/a#section", "https://example.com/a"},
		{"strips trailing slash", "https://example.com/docs/", "https://example.com/docs"},
		{"keeps root slash", "https://example.com/", "https://example.com/"},
		{"adds root slash", "https://example.com", "https://example.com/"},
		{"drops default port", "http://example.com:80/a", "http://example.com/a"},
		{
			"strips tracking params",
			"https://example.com/p?utm_source=x&id=7&fbclid=abc&utm_campaign=y&ref=z",
			"https://example.com/p?id=7",
		},
		{
			"keeps param order",
			"https://example.com/p?b=2&gclid=1&a=1",
			"https://example.com/p?b=2&a=1",
		},
		{
			"strips affiliate ids",
			"https://example.com/p?affiliate=partner&page=2&wickedid=w1",
			"https://example.com/p?page=2",
		},
		{"all params tracking", "https://example.com/p?utm_medium=mail", "https://example.com/p"},
		{"malformed stays", "://bad url", "://bad url"},
		{"relative stays", "/just/a/path", "/just/a/path"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://Example.com/a/b/?utm_term=1&q=go#x",
		"http://example.com:80",
		"https://example.com/%7Euser/",
		"https://example.com/search?q=a+b&_ga=123",
		"https://example.com//double//",
		"mailto:someone@example.com",
	}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestIsEligible(t *testing.T) {
	t.Parallel()

	origin := "https://example.com"
	visited := URLSet{}
	visited.Add("https://example.com/seen")
	queued := URLSet{}
	queued.Add("https://example.com/pending")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/about", true},
		{"https://EXAMPLE.com/about?utm_source=x", true},
		{"https://example.com/seen", false},
		{"https://example.com/seen/#top", false},
		{"https://example.com/pending", false},
		{"https://other.com/about", false},
		{"http://example.com/about", false},
		{"https://example.com/file.PDF", false},
		{"https://example.com/logo.png", false},
		{"https://example.com/bundle.tar.gz", false},
		{"mailto:hi@example.com", false},
		{"::not a url", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsEligible(tc.url, origin, visited, queued), tc.url)
	}
}

func TestToArchivePath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://example.com":                  "index.html",
		"https://example.com/":                 "index.html",
		"https://example.com/about":            "about/index.html",
		"https://example.com/docs/":            "docs/index.html",
		"https://example.com/a/b.html":         "a/b.html",
		"https://example.com/app.php":          "app.php.html",
		"https://example.com/list?page=2":      "list/index_page=2.html",
		"https://example.com/we:ird*name":      "we_ird_name/index.html",
		"https://example.com/a/../../etc/pass": "a/etc/pass/index.html",
		"not a url":                            "page.html",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToArchivePath(in), in)
	}
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	got, err := Origin("https://Example.com:443/path?q=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", got)

	for _, bad := range []string{"ftp://example.com", "https://", "::"} {
		_, err := Origin(bad)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), bad)
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Domain("https://www.Example.com/x"))
	require.Equal(t, []string{"a", "b"}, PathSegments("https://example.com/a//b/"))
	require.Empty(t, PathSegments("https://example.com/"))
	require.True(t, IsBinaryLink("https://example.com/setup.EXE"))
	require.False(t, IsBinaryLink("https://example.com/setup"))
}

func TestExtractionClean(t *testing.T) {
	t.Parallel()

	got := Extraction{
		Links: []string{
			"https://example.com/a#top",
			"https://example.com/a",
			"mailto:someone@example.com",
			"javascript:void(0)",
			"/relative",
			"http://other.example/b",
		},
		Assets: []AssetRef{
			{URL: "https://example.com/s.css", Type: AssetCSS},
			{URL: "https://example.com/s.css", Type: AssetCSS},
			{URL: "data:image/png;base64,AAAA", Type: AssetImage},
			{URL: "https://example.com/x.bin"},
		},
	}.Clean()

	assert.Equal(t, []string{"https://example.com/a", "http://other.example/b"}, got.Links)
	require.Len(t, got.Assets, 2)
	assert.Equal(t, AssetCSS, got.Assets[0].Type)
	assert.Equal(t, AssetOther, got.Assets[1].Type)
}
