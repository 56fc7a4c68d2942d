package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

func TestCapturerScriptedNavigation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New().
		AddPage("https://example.com/", Page{
			Title:  "Home",
			HTML:   "<html>home</html>",
			Links:  []string{"https://example.com/a"},
			Assets: []crawler.AssetRef{{URL: "https://example.com/s.css", Type: crawler.AssetCSS}},
		}).
		AddPage("https://example.com/broken", Page{Err: errors.New("net::ERR_FAILED")})

	resp, err := c.Navigate(ctx, "https://example.com", crawler.NavigateOptions{})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	title, err := c.CurrentTitle(ctx)
	require.NoError(t, err)
	require.Equal(t, "Home", title)
	ext, err := c.ExtractLinksAndAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a"}, ext.Links)
	require.Len(t, ext.Assets, 1)

	_, err = c.Navigate(ctx, "https://example.com/broken", crawler.NavigateOptions{})
	require.Error(t, err)
	_, err = c.RenderedContent(ctx)
	require.Error(t, err)

	_, err = c.Navigate(ctx, "https://example.com/missing", crawler.NavigateOptions{})
	require.Error(t, err)
	require.Len(t, c.Navigations(), 3)
}

func TestCapturerResources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New().
		AddResource("https://example.com/a.png", Resource{ContentType: "image/png", Body: []byte{1}}).
		AddResource("https://example.com/err", Resource{Err: errors.New("reset")}).
		SetHeadSize("https://example.com/big.zip", 4096)

	res, err := c.FetchViaPage(ctx, "https://example.com/a.png")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "image/png", res.ContentType())

	res, err = c.FetchViaPage(ctx, "https://example.com/none")
	require.NoError(t, err)
	require.False(t, res.OK)

	_, err = c.FetchViaPage(ctx, "https://example.com/err")
	require.Error(t, err)
	require.Equal(t, 1, c.FetchCount("https://example.com/a.png"))

	size, err := c.HeadRequest(ctx, "https://example.com/big.zip")
	require.NoError(t, err)
	require.Equal(t, int64(4096), size)
	_, err = c.HeadRequest(ctx, "https://example.com/other.zip")
	require.Error(t, err)

	require.NoError(t, c.Close())
	require.True(t, c.Closed())
}
