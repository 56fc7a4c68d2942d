package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestParseURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Config
		wantErr bool
	}{
		{name: "bucket only", raw: "gs://archives", want: Config{Bucket: "archives"}},
		{name: "with prefix", raw: "gs://archives/sites/example.com/", want: Config{Bucket: "archives", Prefix: "sites/example.com"}},
		{name: "wrong scheme", raw: "s3://archives/x", wantErr: true},
		{name: "missing bucket", raw: "gs:///x", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseURI(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pages/index.html", ObjectName("", "pages/index.html"))
	assert.Equal(t, "run/pages/index.html", ObjectName("run", "/pages/index.html"))
	assert.Equal(t, "run/escape.txt", ObjectName("run", "../escape.txt"))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "archives", Prefix: "/example/"})
	require.NoError(t, err)
	loc, err := store.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gs://archives/example", loc)

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
