// Package ziparchive writes archive entries into a single deflate-compressed
// .zip file. Entries are streamed to a temporary file beside the destination
// and renamed into place on Commit.
package ziparchive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Suffix selects this target when an output path ends with it.
const Suffix = ".zip"

// Writer is an archive target producing one zip file.
type Writer struct {
	mu       sync.Mutex
	dest     string
	tmp      *os.File
	zw       *zip.Writer
	modified time.Time
	names    map[string]struct{}
	done     bool
}

// New creates the parent directory of dest and opens a temporary file for
// streaming entries. Entries are stamped with modified.
func New(dest string, modified time.Time) (*Writer, error) {
	if strings.TrimSpace(dest) == "" {
		return nil, fmt.Errorf("zip destination is required")
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create zip directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temporary zip: %w", err)
	}
	if modified.IsZero() {
		modified = time.Now()
	}
	return &Writer{
		dest:     dest,
		tmp:      tmp,
		zw:       zip.NewWriter(tmp),
		modified: modified,
		names:    make(map[string]struct{}),
	}, nil
}

// PutObject adds one deflated entry. Writing the same name twice is an error
// since zip readers disagree on which copy wins.
func (w *Writer) PutObject(_ context.Context, name string, _ string, data io.Reader) (string, error) {
	name = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
	if name == "" || name == "." {
		return "", fmt.Errorf("path is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return "", errors.New("zip archive already finalized")
	}
	if _, dup := w.names[name]; dup {
		return "", fmt.Errorf("duplicate zip entry %q", name)
	}
	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.modified,
	})
	if err != nil {
		return "", fmt.Errorf("create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, data); err != nil {
		return "", fmt.Errorf("write zip entry %s: %w", name, err)
	}
	w.names[name] = struct{}{}
	return "zip://" + name, nil
}

// Commit finalizes the central directory and moves the file into place.
func (w *Writer) Commit(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return "", errors.New("zip archive already finalized")
	}
	w.done = true
	if err := w.zw.Close(); err != nil {
		w.cleanup()
		return "", fmt.Errorf("finalize zip: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return "", fmt.Errorf("close zip: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.dest); err != nil {
		_ = os.Remove(w.tmp.Name())
		return "", fmt.Errorf("move zip into place: %w", err)
	}
	return w.dest, nil
}

// Abort discards the partial archive. It is a no-op after Commit.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	return w.cleanup()
}

func (w *Writer) cleanup() error {
	closeErr := w.tmp.Close()
	removeErr := os.Remove(w.tmp.Name())
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove temporary zip: %w", removeErr)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return fmt.Errorf("close temporary zip: %w", closeErr)
	}
	return nil
}

// Entries is the number of entries written so far.
func (w *Writer) Entries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.names)
}
