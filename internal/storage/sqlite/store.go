// Package sqlite is a key-value persistence layer over three logical stores
// (pages, assets and crawls) kept in one SQLite file. Records carry their
// JSON body plus the indexed url, crawl id and timestamp columns. Asset writes
// are reference counted: putting an existing hash increments its count.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// StoreName selects a logical store.
type StoreName string

// Logical stores.
const (
	Pages  StoreName = "pages"
	Assets StoreName = "assets"
	Crawls StoreName = "crawls"
)

func (n StoreName) valid() bool {
	switch n {
	case Pages, Assets, Crawls:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned by Get and Delete for missing keys.
var ErrNotFound = errors.New("record not found")

// Record is one stored value and its index columns.
type Record struct {
	Key       string
	URL       string
	CrawlID   string
	Timestamp time.Time
	RefCount  int
	Value     json.RawMessage
	Blob      []byte
}

// IndexFilter narrows GetAll. Zero fields match everything.
type IndexFilter struct {
	URL     string
	CrawlID string
	Since   time.Time
}

// Options configures Open.
type Options struct {
	// EnableWAL enables write-ahead logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{EnableWAL: true}
}

// Store is the SQLite-backed key-value store. It also implements
// crawler.Repository so the scheduler can persist artifacts as they arrive.
type Store struct {
	db   *sql.DB
	path string
}

var _ crawler.Repository = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS records (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		crawl_id TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL DEFAULT 0,
		ref_count INTEGER NOT NULL DEFAULT 1,
		value TEXT NOT NULL,
		blob BLOB,
		PRIMARY KEY (store, key)
	);

	CREATE INDEX IF NOT EXISTS idx_records_url ON records(store, url);
	CREATE INDEX IF NOT EXISTS idx_records_crawl ON records(store, crawl_id);
	CREATE INDEX IF NOT EXISTS idx_records_ts ON records(store, ts);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Put inserts or replaces rec in store. In the assets store an existing key
// keeps its body and gains one reference instead.
func (s *Store) Put(ctx context.Context, store StoreName, rec Record) error {
	if !store.valid() {
		return fmt.Errorf("unknown store %q", store)
	}
	if rec.Key == "" {
		return fmt.Errorf("record key is required")
	}
	if len(rec.Value) == 0 {
		rec.Value = json.RawMessage("null")
	}
	conflict := `ON CONFLICT(store, key) DO UPDATE SET
		url = excluded.url,
		crawl_id = excluded.crawl_id,
		ts = excluded.ts,
		value = excluded.value,
		blob = excluded.blob`
	if store == Assets {
		conflict = `ON CONFLICT(store, key) DO UPDATE SET ref_count = records.ref_count + 1`
	}
	query := `INSERT INTO records (store, key, url, crawl_id, ts, ref_count, value, blob)
	VALUES (?, ?, ?, ?, ?, 1, ?, ?) ` + conflict

	if _, err := s.db.ExecContext(ctx, query,
		string(store),
		rec.Key,
		rec.URL,
		rec.CrawlID,
		unixNano(rec.Timestamp),
		string(rec.Value),
		rec.Blob,
	); err != nil {
		return fmt.Errorf("failed to put %s record: %w", store, err)
	}
	return nil
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, store StoreName, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT key, url, crawl_id, ts, ref_count, value, blob
	FROM records WHERE store = ? AND key = ?`, string(store), key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get %s record: %w", store, err)
	}
	return rec, nil
}

// GetAll returns every record of store matching filter ordered by timestamp
// then key.
func (s *Store) GetAll(ctx context.Context, store StoreName, filter IndexFilter) ([]Record, error) {
	query := `
	SELECT key, url, crawl_id, ts, ref_count, value, blob
	FROM records
	WHERE store = ?
	`
	args := []any{string(store)}
	if filter.URL != "" {
		query += " AND url = ?"
		args = append(args, filter.URL)
	}
	if filter.CrawlID != "" {
		query += " AND crawl_id = ?"
		args = append(args, filter.CrawlID)
	}
	if !filter.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, unixNano(filter.Since))
	}
	query += " ORDER BY ts, key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", store, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", store, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", store, err)
	}
	return out, nil
}

// Delete removes key from store.
func (s *Store) Delete(ctx context.Context, store StoreName, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND key = ?`, string(store), key)
	if err != nil {
		return fmt.Errorf("failed to delete %s record: %w", store, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePage stores a captured page keyed by crawl id and normalized URL.
func (s *Store) SavePage(ctx context.Context, jobID string, page crawler.Page) error {
	body, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to serialize page: %w", err)
	}
	normalized := page.NormalizedURL
	if normalized == "" {
		normalized = crawler.Normalize(page.URL)
	}
	return s.Put(ctx, Pages, Record{
		Key:       PageKey(jobID, normalized),
		URL:       normalized,
		CrawlID:   jobID,
		Timestamp: page.Timestamp,
		Value:     body,
		Blob:      []byte(page.HTML),
	})
}

// SaveAsset stores asset metadata and bytes keyed by content hash. Repeated
// saves of the same hash increment its reference count.
func (s *Store) SaveAsset(ctx context.Context, jobID string, asset crawler.Asset) error {
	body, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("failed to serialize asset: %w", err)
	}
	return s.Put(ctx, Assets, Record{
		Key:       asset.Hash,
		URL:       asset.URL,
		CrawlID:   jobID,
		Timestamp: time.Now(),
		Value:     body,
		Blob:      asset.Data,
	})
}

// SaveCrawl stores the crawl summary keyed by job id.
func (s *Store) SaveCrawl(ctx context.Context, record crawler.CrawlRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize crawl: %w", err)
	}
	return s.Put(ctx, Crawls, Record{
		Key:       record.JobID,
		URL:       record.SeedURL,
		CrawlID:   record.JobID,
		Timestamp: record.StartedAt,
		Value:     body,
	})
}

// PageKey is the pages store key for a normalized URL within a crawl.
func PageKey(jobID, normalizedURL string) string {
	return jobID + " " + normalizedURL
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec   Record
		ts    int64
		value string
	)
	if err := sc.Scan(&rec.Key, &rec.URL, &rec.CrawlID, &ts, &rec.RefCount, &value, &rec.Blob); err != nil {
		return Record{}, err
	}
	if ts != 0 {
		rec.Timestamp = time.Unix(0, ts).UTC()
	}
	rec.Value = json.RawMessage(value)
	return rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
