// Package gcs exports archives into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Scheme is the URI scheme selecting this target.
const Scheme = "gs"

// Config captures the bucket and object prefix of an archive.
type Config struct {
	Bucket string
	Prefix string
}

// ParseURI splits gs://bucket/prefix into a Config.
func ParseURI(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse gcs uri: %w", err)
	}
	if u.Scheme != Scheme {
		return Config{}, fmt.Errorf("gcs uri must use the %s:// scheme: %q", Scheme, raw)
	}
	if u.Host == "" {
		return Config{}, fmt.Errorf("bucket name is required: %q", raw)
	}
	return Config{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

// BlobStore writes archive entries to a GCS bucket under a prefix.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed archive target.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads data as prefix/path and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	key := ObjectName(s.prefix, name)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Commit returns the archive location. Objects are visible once each upload
// closes.
func (s *BlobStore) Commit(context.Context) (string, error) {
	if s.prefix == "" {
		return fmt.Sprintf("gs://%s", s.bucket), nil
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.prefix), nil
}

// ObjectName joins prefix and an archive-relative path.
func ObjectName(prefix, name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
