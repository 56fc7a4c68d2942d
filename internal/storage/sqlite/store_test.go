package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "db", "archiver.db"), DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, Pages, Record{
		Key: "k1", URL: "https://example.com", CrawlID: "job", Timestamp: ts, Value: json.RawMessage(`{"a":1}`),
	}))
	rec, err := s.Get(ctx, Pages, "k1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", rec.URL)
	assert.True(t, rec.Timestamp.Equal(ts))
	assert.JSONEq(t, `{"a":1}`, string(rec.Value))

	require.NoError(t, s.Put(ctx, Pages, Record{Key: "k1", Value: json.RawMessage(`{"a":2}`)}))
	rec, err = s.Get(ctx, Pages, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(rec.Value))
	assert.Equal(t, 1, rec.RefCount)

	_, err = s.Get(ctx, Crawls, "k1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Delete(ctx, Pages, "k1"))
	assert.ErrorIs(t, s.Delete(ctx, Pages, "k1"), ErrNotFound)
}

func TestPutValidation(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()
	require.Error(t, s.Put(ctx, StoreName("nope"), Record{Key: "k"}))
	require.Error(t, s.Put(ctx, Pages, Record{}))
}

func TestGetAllFilters(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range []Record{
		{Key: "a", URL: "https://example.com/a", CrawlID: "job-1"},
		{Key: "b", URL: "https://example.com/b", CrawlID: "job-1"},
		{Key: "c", URL: "https://example.com/a", CrawlID: "job-2"},
	} {
		r.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Put(ctx, Pages, r))
	}

	all, err := s.GetAll(ctx, Pages, IndexFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Key)

	byCrawl, err := s.GetAll(ctx, Pages, IndexFilter{CrawlID: "job-1"})
	require.NoError(t, err)
	assert.Len(t, byCrawl, 2)

	byURL, err := s.GetAll(ctx, Pages, IndexFilter{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.Len(t, byURL, 2)

	since, err := s.GetAll(ctx, Pages, IndexFilter{Since: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "c", since[0].Key)

	none, err := s.GetAll(ctx, Assets, IndexFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositoryAssetRefCount(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()
	asset := crawler.Asset{
		Hash: "abc123", URL: "https://example.com/a.png", Type: crawler.AssetImage, Data: []byte{1, 2, 3}, Size: 3,
	}
	require.NoError(t, s.SaveAsset(ctx, "job-1", asset))
	asset.URL = "https://example.com/b.png"
	require.NoError(t, s.SaveAsset(ctx, "job-1", asset))

	rec, err := s.Get(ctx, Assets, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.RefCount)
	assert.Equal(t, "https://example.com/a.png", rec.URL)
	assert.Equal(t, []byte{1, 2, 3}, rec.Blob)
}

func TestRepositoryPagesAndCrawls(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()
	page := crawler.Page{URL: "https://Example.com/blog/?utm_source=x", Title: "Blog", HTML: "<html></html>", Timestamp: time.Now()}
	require.NoError(t, s.SavePage(ctx, "job-1", page))

	rec, err := s.Get(ctx, Pages, PageKey("job-1", "https://example.com/blog"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(rec.Blob))
	var decoded crawler.Page
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "Blog", decoded.Title)

	record := crawler.CrawlRecord{JobID: "job-1", Kind: crawler.JobKindArchive, SeedURL: "https://example.com", StartedAt: time.Now()}
	require.NoError(t, s.SaveCrawl(ctx, record))
	crawls, err := s.GetAll(ctx, Crawls, IndexFilter{CrawlID: "job-1"})
	require.NoError(t, err)
	require.Len(t, crawls, 1)
}

func TestPingAfterClose(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "ping.db"), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	require.Error(t, s.Ping(context.Background()))
}
