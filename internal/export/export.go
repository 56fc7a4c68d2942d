// Package export packages a finished crawl into a portable archive: rewritten
// pages, deduplicated assets, an index redirect, an optional sitemap and
// manifest, and a README. The archive lands in a zip file, a folder or a GCS
// prefix depending on the output path.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/assets"
	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/storage/gcs"
	"github.com/JakeFAU/recurse-archiver/internal/storage/local"
	"github.com/JakeFAU/recurse-archiver/internal/storage/ziparchive"
)

// ErrNoPages is returned when a crawl produced nothing to archive.
var ErrNoPages = errors.New("no pages to export")

// Archive entry names.
const (
	IndexFile    = "index.html"
	SitemapFile  = "sitemap.html"
	ManifestFile = "manifest.json"
	ReadmeFile   = "README.txt"
	PagesDir     = "pages"
)

// Input is everything written into one archive.
type Input struct {
	OutputPath  string
	SeedURL     string
	Options     crawler.Options
	Pages       []*crawler.Page
	Assets      *assets.Store
	StartedAt   time.Time
	CompletedAt time.Time
}

// OpenFunc opens the archive target for an output path.
type OpenFunc func(ctx context.Context, output string, modified time.Time) (crawler.ArchiveTarget, error)

// Exporter writes archives.
type Exporter struct {
	logger    *zap.Logger
	clock     crawler.Clock
	gcsClient *storage.Client
	open      OpenFunc
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time stamped on generated documents.
func WithClock(clock crawler.Clock) Option {
	return func(e *Exporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithGCSClient supplies the client used for gs:// outputs. Without it a
// client is created from application default credentials on demand.
func WithGCSClient(client *storage.Client) Option {
	return func(e *Exporter) {
		e.gcsClient = client
	}
}

// WithTarget replaces target selection entirely.
func WithTarget(open OpenFunc) Option {
	return func(e *Exporter) {
		if open != nil {
			e.open = open
		}
	}
}

// New builds an Exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{logger: zap.NewNop(), clock: system.New()}
	for _, opt := range opts {
		opt(e)
	}
	if e.open == nil {
		e.open = e.openTarget
	}
	return e
}

type aborter interface {
	Abort() error
}

// Export writes in to its output location and returns the final archive
// location. Any write failure aborts the target and is returned as a
// *crawler.ExportError.
func (e *Exporter) Export(ctx context.Context, in Input) (string, error) {
	if len(in.Pages) == 0 {
		return "", &crawler.ExportError{Path: in.OutputPath, Err: ErrNoPages}
	}
	if in.Assets == nil {
		in.Assets = assets.New(nil)
	}
	now := e.clock.Now()
	target, err := e.open(ctx, in.OutputPath, now)
	if err != nil {
		return "", &crawler.ExportError{Path: in.OutputPath, Err: err}
	}

	location, err := e.write(ctx, target, in, now)
	if err != nil {
		if ab, ok := target.(aborter); ok {
			if abortErr := ab.Abort(); abortErr != nil {
				e.logger.Warn("abort archive failed", zap.String("output", in.OutputPath), zap.Error(abortErr))
			}
		}
		return "", &crawler.ExportError{Path: in.OutputPath, Err: err}
	}
	e.logger.Info("archive exported",
		zap.String("location", location),
		zap.Int("pages", len(in.Pages)),
		zap.Int("assets", in.Assets.Len()))
	return location, nil
}

func (e *Exporter) write(ctx context.Context, target crawler.ArchiveTarget, in Input, now time.Time) (string, error) {
	store := in.Assets
	pagePaths := assignPagePaths(in.Pages)
	rewriteTargets := make(map[string]string, len(in.Pages)*2)
	for _, p := range in.Pages {
		archivePath := pagePaths[p.URL]
		rewriteTargets[p.URL] = archivePath
		if p.NormalizedURL != "" {
			if _, ok := rewriteTargets[p.NormalizedURL]; !ok {
				rewriteTargets[p.NormalizedURL] = archivePath
			}
		}
	}
	rewriter := NewRewriter(rewriteTargets, store.URLPaths())

	written := make(map[string]struct{}, len(in.Pages))
	for _, p := range in.Pages {
		if _, dup := written[p.URL]; dup {
			continue
		}
		written[p.URL] = struct{}{}
		archivePath := pagePaths[p.URL]
		html := rewriter.Rewrite(p.HTML, archivePath)
		if err := put(ctx, target, archivePath, "text/html; charset=utf-8", []byte(html)); err != nil {
			return "", err
		}
	}

	all := store.All()
	for _, a := range all {
		if err := put(ctx, target, assets.PathFor(a), a.MIMEType, a.Data); err != nil {
			return "", err
		}
	}

	files := []string{IndexFile + ": entry point (redirects to the main page)"}
	entry := entryPage(in.Pages)
	index, err := renderIndex(pagePaths[entry.URL], entry.Title)
	if err != nil {
		return "", err
	}
	if err := put(ctx, target, IndexFile, "text/html; charset=utf-8", index); err != nil {
		return "", err
	}

	if in.Options.Sitemap {
		sitemap, err := renderSitemap(in.SeedURL, in.Pages, pagePaths, now)
		if err != nil {
			return "", err
		}
		if err := put(ctx, target, SitemapFile, "text/html; charset=utf-8", sitemap); err != nil {
			return "", err
		}
		files = append(files, SitemapFile+": overview of all archived pages")
	}

	if in.Options.Manifest {
		manifest := BuildManifest(in, pagePaths, store, now)
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode manifest: %w", err)
		}
		if err := put(ctx, target, ManifestFile, "application/json", data); err != nil {
			return "", err
		}
		files = append(files, ManifestFile+": metadata and file inventory")
	}

	files = append(files,
		PagesDir+"/: all archived HTML pages",
		"assets/: stylesheets, scripts, images and other resources",
	)
	stats := store.Stats()
	readme, err := renderReadme(in.SeedURL, now, len(in.Pages), stats.Count, stats.Bytes, files)
	if err != nil {
		return "", err
	}
	if err := put(ctx, target, ReadmeFile, "text/plain; charset=utf-8", readme); err != nil {
		return "", err
	}

	location, err := target.Commit(ctx)
	if err != nil {
		return "", fmt.Errorf("commit archive: %w", err)
	}
	return location, nil
}

// assignPagePaths gives every distinct page URL its own file under PagesDir.
// When two URLs sanitize to the same path, later ones get a short hash of the
// URL appended to the file name.
func assignPagePaths(pages []*crawler.Page) map[string]string {
	out := make(map[string]string, len(pages))
	taken := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		if _, ok := out[p.URL]; ok {
			continue
		}
		archivePath := PagesDir + "/" + crawler.ToArchivePath(p.URL)
		if _, clash := taken[archivePath]; clash {
			archivePath = uniquePath(archivePath, p.URL, taken)
		}
		taken[archivePath] = struct{}{}
		out[p.URL] = archivePath
	}
	return out
}

func uniquePath(archivePath, rawURL string, taken map[string]struct{}) string {
	sum := sha256.Sum256([]byte(rawURL))
	ext := path.Ext(archivePath)
	base := strings.TrimSuffix(archivePath, ext) + "_" + hex.EncodeToString(sum[:4])
	candidate := base + ext
	for i := 2; ; i++ {
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}

func put(ctx context.Context, target crawler.BlobStore, name, contentType string, data []byte) error {
	if _, err := target.PutObject(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// openTarget picks the backend from the output path: gs://bucket/prefix
// writes to GCS, a .zip suffix writes one zip file and anything else is a
// folder.
func (e *Exporter) openTarget(ctx context.Context, output string, modified time.Time) (crawler.ArchiveTarget, error) {
	switch {
	case strings.TrimSpace(output) == "":
		return nil, errors.New("output path is required")
	case strings.HasPrefix(output, gcs.Scheme+"://"):
		cfg, err := gcs.ParseURI(output)
		if err != nil {
			return nil, err
		}
		if e.gcsClient != nil {
			return gcs.New(e.gcsClient, cfg)
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcs.New(client, cfg)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ownedClientTarget{BlobStore: store, client: client}, nil
	case strings.EqualFold(filepath.Ext(output), ziparchive.Suffix):
		return ziparchive.New(output, modified)
	default:
		return local.New(local.Config{BaseDir: output})
	}
}

// ownedClientTarget closes a GCS client created for a single export.
type ownedClientTarget struct {
	*gcs.BlobStore
	client *storage.Client
}

func (t *ownedClientTarget) Commit(ctx context.Context) (string, error) {
	location, err := t.BlobStore.Commit(ctx)
	if closeErr := t.client.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close storage client: %w", closeErr)
	}
	return location, err
}

func (t *ownedClientTarget) Abort() error {
	return t.client.Close()
}

// DefaultOutputPath returns <dir>/<domain>_<YYYY-MM-DD>.zip for seed, with a
// leading "www." dropped from the domain. Under a gs:// dir the archive is an
// object prefix and carries no suffix.
func DefaultOutputPath(dir, seed string, now time.Time) string {
	domain := crawler.Domain(seed)
	if domain == "" {
		domain = "archive"
	}
	name := fmt.Sprintf("%s_%s", domain, now.Format("2006-01-02"))
	if strings.HasPrefix(dir, gcs.Scheme+"://") {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name+ziparchive.Suffix)
}
