// Package memory keeps jobs and archive entries in process memory. It backs
// the CLI job store and serves as the export target in tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore stores archive entries in-memory and returns pseudo URIs.
type BlobStore struct {
	mu        sync.RWMutex
	data      map[string][]byte
	types     map[string]string
	committed bool
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	s.types[path] = contentType
	return "memory://" + path, nil
}

// Commit marks the archive complete.
func (s *BlobStore) Commit(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = true
	return "memory://", nil
}

// Committed reports whether Commit was called.
func (s *BlobStore) Committed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// Get returns a copy of the entry stored at path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the declared content type of the entry at path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[path]
}

// Paths lists stored entries in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
