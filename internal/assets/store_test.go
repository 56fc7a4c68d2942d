package assets_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/recurse-archiver/internal/assets"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

func TestStoreDeduplicatesIdenticalContent(t *testing.T) {
	t.Parallel()

	store := assets.New(nil)
	payload := []byte("body { color: red }")

	first, err := store.Store("https://example.com/a.css", payload, crawler.AssetCSS, "text/css")
	require.NoError(t, err)
	second, err := store.Store("https://cdn.example.com/copy.css", payload, crawler.AssetCSS, "text/css")
	require.NoError(t, err)

	require.Equal(t, first.Hash, second.Hash)
	require.Equal(t, 2, second.RefCount)
	require.Equal(t, 1, store.Len())

	all := store.All()
	require.Len(t, all, 1)
	require.Equal(t, []string{"https://example.com/a.css", "https://cdn.example.com/copy.css"}, all[0].URLs)

	paths := store.URLPaths()
	require.Equal(t, paths["https://example.com/a.css"], paths["https://cdn.example.com/copy.css"])
	require.Equal(t, "assets/css/"+first.Hash[:16]+".css", paths["https://example.com/a.css"])
}

func TestStoreSameURLTwiceDoesNotInflateRefCount(t *testing.T) {
	t.Parallel()

	store := assets.New(nil)
	_, err := store.Store("https://example.com/x.js", []byte("x"), crawler.AssetJS, "")
	require.NoError(t, err)
	again, err := store.Store("https://example.com/x.js", []byte("x"), crawler.AssetJS, "")
	require.NoError(t, err)
	require.Equal(t, 1, again.RefCount)
}

func TestStoreDistinctContent(t *testing.T) {
	t.Parallel()

	store := assets.New(nil)
	_, err := store.Store("https://example.com/1.png", []byte{1}, "", "")
	require.NoError(t, err)
	_, err = store.Store("https://example.com/2.png", []byte{2}, "", "")
	require.NoError(t, err)

	stats := store.Stats()
	require.Equal(t, 2, stats.Count)
	require.Equal(t, int64(2), stats.Bytes)
	require.Equal(t, 2, stats.ByType[crawler.AssetImage])

	asset, ok := store.Lookup("https://example.com/2.png")
	require.True(t, ok)
	require.Equal(t, crawler.AssetImage, asset.Type)
	require.True(t, store.Has("https://example.com/1.png"))
	require.False(t, store.Has("https://example.com/3.png"))
}

func TestStoreRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	_, err := assets.New(nil).Store("  ", []byte("x"), "", "")
	require.Error(t, err)
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("boom") }

func TestStorePropagatesHashErrors(t *testing.T) {
	t.Parallel()

	_, err := assets.New(failingHasher{}).Store("https://example.com/a", nil, "", "")
	require.ErrorContains(t, err, "boom")
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()

	store := assets.New(nil)
	got, err := store.Store("https://example.com/a.svg", []byte("<svg/>"), "", "image/svg+xml")
	require.NoError(t, err)
	got.URLs[0] = "mutated"
	got.RefCount = 99

	again, ok := store.Lookup("https://example.com/a.svg")
	require.True(t, ok)
	require.Equal(t, "https://example.com/a.svg", again.URLs[0])
	require.Equal(t, 1, again.RefCount)
}

func TestExtensionAndClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		mime     string
		wantExt  string
		wantType crawler.AssetType
	}{
		{"https://example.com/img/logo.PNG", "", ".png", crawler.AssetImage},
		{"https://example.com/font.woff2?v=3", "", ".woff2", crawler.AssetFont},
		{"https://example.com/app.mjs", "", ".mjs", crawler.AssetJS},
		{"https://example.com/image", "image/jpeg", ".jpg", crawler.AssetImage},
		{"https://example.com/style", "text/css; charset=utf-8", ".css", crawler.AssetCSS},
		{"https://example.com/clip", "video/mp4", ".mp4", crawler.AssetMedia},
		{"https://example.com/blob.verylongext", "", "", crawler.AssetOther},
		{"https://example.com/data", "application/octet-stream", "", crawler.AssetOther},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.wantExt, assets.Extension(tc.url, tc.mime), tc.url)
		assert.Equal(t, tc.wantType, assets.ClassifyType(tc.url, tc.mime), tc.url)
	}
}

func TestPathForGroupsByFolder(t *testing.T) {
	t.Parallel()

	asset := &crawler.Asset{
		Hash:     strings.Repeat("ab", 32),
		URL:      "https://example.com/track",
		Type:     crawler.AssetMedia,
		MIMEType: "audio/mpeg",
	}
	require.Equal(t, "assets/media/abababababababab.mp3", assets.PathFor(asset))
	require.Empty(t, assets.PathFor(nil))
}
