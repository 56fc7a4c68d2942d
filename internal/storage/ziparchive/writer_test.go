package ziparchive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterCommit(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out", "example.com_2024-05-01.zip")
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w, err := New(dest, modified)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = w.PutObject(ctx, "index.html", "text/html", strings.NewReader("<html>root</html>"))
	require.NoError(t, err)
	uri, err := w.PutObject(ctx, "pages/blog/index.html", "text/html", strings.NewReader("<html>blog</html>"))
	require.NoError(t, err)
	assert.Equal(t, "zip://pages/blog/index.html", uri)
	_, err = w.PutObject(ctx, "index.html", "text/html", strings.NewReader("again"))
	require.Error(t, err)
	assert.Equal(t, 2, w.Entries())

	_, err = os.Stat(dest)
	require.True(t, os.IsNotExist(err), "zip must not exist before commit")

	loc, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, dest, loc)

	r, err := zip.OpenReader(dest)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.Len(t, r.File, 2)
	assert.Equal(t, "index.html", r.File[0].Name)
	assert.Equal(t, zip.Deflate, r.File[1].Method)
	assert.True(t, r.File[1].Modified.Equal(modified))

	rc, err := r.File[1].Open()
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "<html>blog</html>", string(body))

	_, err = w.Commit(ctx)
	require.Error(t, err)
	_, err = w.PutObject(ctx, "late.html", "", strings.NewReader(""))
	require.Error(t, err)
}

func TestWriterAbortRemovesTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "a.zip"), time.Time{})
	require.NoError(t, err)
	_, err = w.PutObject(context.Background(), "x.txt", "", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriterRejectsEmptyNames(t *testing.T) {
	t.Parallel()

	_, err := New(" ", time.Time{})
	require.Error(t, err)

	w, err := New(filepath.Join(t.TempDir(), "a.zip"), time.Time{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Abort() })
	_, err = w.PutObject(context.Background(), "/", "", strings.NewReader(""))
	require.Error(t, err)
}
