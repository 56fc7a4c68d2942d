package pagetree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

func page(url string) *crawler.Page {
	return &crawler.Page{URL: url, PathSegments: crawler.PathSegments(url), Selected: true}
}

func samplePages() []*crawler.Page {
	return []*crawler.Page{
		page("https://example.com/"),
		page("https://example.com/blog"),
		page("https://example.com/blog/2024/hello"),
		page("https://example.com/blog/2024/world"),
		page("https://example.com/about"),
	}
}

func TestBuildCounts(t *testing.T) {
	t.Parallel()

	pages := samplePages()
	root := Build(pages)

	require.Equal(t, len(pages), root.Count)
	require.Len(t, root.Pages, 1)
	require.Equal(t, 3, root.Children["blog"].Count)
	require.Len(t, root.Children["blog"].Pages, 1)
	require.Equal(t, 2, Find(root, "/blog/2024").Count)
	require.Equal(t, "/blog/2024/hello", Find(root, "/blog/2024/hello").Path)
	require.Nil(t, Find(root, "/missing/deeper"))
}

func TestToggleNonLeafDeselectsSubtree(t *testing.T) {
	t.Parallel()

	pages := samplePages()
	root := Build(pages)

	Toggle(Find(root, "/blog"), false)

	for _, p := range pages {
		inBlog := len(p.PathSegments) > 0 && p.PathSegments[0] == "blog"
		require.Equal(t, !inBlog, p.Selected, p.URL)
	}
	require.False(t, Find(root, "/blog/2024").Selected)
	require.True(t, root.Selected)
	require.Equal(t, []string{"https://example.com/", "https://example.com/about"}, SelectedURLs(root))

	Toggle(root, true)
	require.Len(t, SelectedURLs(root), len(pages))
}

func TestBuildComputesSegmentsWhenMissing(t *testing.T) {
	t.Parallel()

	root := Build([]*crawler.Page{{URL: "https://example.com/docs/intro"}, nil})
	require.Equal(t, 1, root.Count)
	require.NotNil(t, Find(root, "/docs/intro"))
}

func TestWalkOrder(t *testing.T) {
	t.Parallel()

	root := Build(samplePages())
	var paths []string
	Walk(root, func(n *Node) { paths = append(paths, n.Path) })
	require.Equal(t, []string{"/", "/about", "/blog", "/blog/2024", "/blog/2024/hello", "/blog/2024/world"}, paths)
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	pages := samplePages()
	root := Build(pages)
	Toggle(Find(root, "/about"), false)

	clone, copied := Clone(root)
	require.Len(t, copied, len(pages))
	require.Equal(t, SelectedURLs(root), SelectedURLs(clone))
	require.False(t, Find(clone, "/about").Selected)
	require.Equal(t, 3, Find(clone, "/blog").Count)

	Toggle(Find(clone, "/blog"), false)
	require.True(t, Find(root, "/blog").Selected)
	for _, p := range pages {
		if p.URL != "https://example.com/about" {
			require.True(t, p.Selected, p.URL)
		}
		require.NotSame(t, p, copied[p])
	}
	require.Equal(t, []string{"https://example.com/"}, SelectedURLs(clone))

	nilClone, _ := Clone(nil)
	require.Nil(t, nilClone)
}
