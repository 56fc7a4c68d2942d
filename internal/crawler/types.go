// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of an archive job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobKind distinguishes the scheduler entry point a job runs.
type JobKind string

// Supported job kinds.
const (
	JobKindArchive  JobKind = "archive"
	JobKindAnalyze  JobKind = "analyze"
	JobKindSelected JobKind = "selected"
)

// AssetType classifies a downloaded resource.
type AssetType string

// Supported asset types.
const (
	AssetImage AssetType = "image"
	AssetCSS   AssetType = "css"
	AssetJS    AssetType = "js"
	AssetFont  AssetType = "font"
	AssetMedia AssetType = "media"
	AssetOther AssetType = "other"
)

// Folder returns the archive subfolder used for the type.
func (t AssetType) Folder() string {
	switch t {
	case AssetImage:
		return "images"
	case AssetCSS:
		return "css"
	case AssetJS:
		return "js"
	case AssetFont:
		return "fonts"
	case AssetMedia:
		return "media"
	default:
		return "other"
	}
}

// IncludeAssets toggles which resource categories are downloaded during capture.
type IncludeAssets struct {
	Images bool `json:"images" mapstructure:"images"`
	CSS    bool `json:"css" mapstructure:"css"`
	JS     bool `json:"js" mapstructure:"js"`
	Fonts  bool `json:"fonts" mapstructure:"fonts"`
	Media  bool `json:"media" mapstructure:"media"`
}

// AllAssets enables every category.
func AllAssets() IncludeAssets {
	return IncludeAssets{Images: true, CSS: true, JS: true, Fonts: true, Media: true}
}

// Allows reports whether the category for t is enabled. Unclassified assets
// follow the images toggle since they are mostly inline media.
func (i IncludeAssets) Allows(t AssetType) bool {
	switch t {
	case AssetImage, AssetOther:
		return i.Images
	case AssetCSS:
		return i.CSS
	case AssetJS:
		return i.JS
	case AssetFont:
		return i.Fonts
	case AssetMedia:
		return i.Media
	default:
		return false
	}
}

// Any reports whether at least one category is enabled.
func (i IncludeAssets) Any() bool {
	return i.Images || i.CSS || i.JS || i.Fonts || i.Media
}

// Options captures per-job crawl limits and behavior.
type Options struct {
	SeedURL        string        `json:"url"`
	MaxDepth       int           `json:"max_depth"`
	MaxPages       int           `json:"max_pages"`
	Delay          time.Duration `json:"delay"`
	Timeout        time.Duration `json:"timeout"`
	SmartDiscovery bool          `json:"smart_discovery"`
	MaxSitemaps    int           `json:"max_sitemaps"`
	IncludeAssets  IncludeAssets `json:"include_assets"`
	OutputPath     string        `json:"output_path"`
	WaitUntil      string        `json:"wait_until"`
	Manifest       bool          `json:"manifest"`
	Sitemap        bool          `json:"sitemap"`
}

// Page is one captured or discovered document.
type Page struct {
	URL           string    `json:"url"`
	NormalizedURL string    `json:"normalized_url"`
	Depth         int       `json:"depth"`
	Title         string    `json:"title"`
	HTML          string    `json:"-"`
	Size          int64     `json:"size"`
	Timestamp     time.Time `json:"timestamp"`
	Path          string    `json:"path"`
	PathSegments  []string  `json:"path_segments"`
	Selected      bool      `json:"selected"`
	Links         []string  `json:"links,omitempty"`
	Assets        []string  `json:"assets,omitempty"`
}

// Asset is one deduplicated downloaded resource keyed by content hash.
type Asset struct {
	Hash     string    `json:"hash"`
	URL      string    `json:"url"`
	URLs     []string  `json:"urls"`
	Type     AssetType `json:"type"`
	MIMEType string    `json:"mime_type"`
	Data     []byte    `json:"-"`
	Size     int64     `json:"size"`
	RefCount int       `json:"ref_count"`
}

// AssetRef is a resource reference discovered inside a page.
type AssetRef struct {
	URL  string    `json:"url"`
	Type AssetType `json:"type"`
}

// Extraction is the outbound link and resource set of the current document.
type Extraction struct {
	Links  []string   `json:"links"`
	Assets []AssetRef `json:"assets"`
}

// NavigateOptions controls a single navigation.
type NavigateOptions struct {
	WaitUntil string
	Timeout   time.Duration
}

// Response summarizes the main document response of a navigation.
type Response struct {
	URL           string
	Status        int
	Headers       http.Header
	ResourceBytes int64
}

// FetchResult is the outcome of fetching a resource through the browsing context.
type FetchResult struct {
	OK      bool
	Status  int
	Headers http.Header
	Body    []byte
}

// ContentType returns the media type header of the result.
func (r *FetchResult) ContentType() string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Counters are the running totals of a job.
type Counters struct {
	Pages      int   `json:"pages"`
	Assets     int   `json:"assets"`
	TotalBytes int64 `json:"total_bytes"`
	Errors     int   `json:"errors"`
	Queued     int   `json:"queued"`
	Visited    int   `json:"visited"`
}

// Result is returned by full-capture runs.
type Result struct {
	Pages      int           `json:"pages"`
	Assets     int           `json:"assets"`
	TotalBytes int64         `json:"total_bytes"`
	Errors     int           `json:"errors"`
	OutputPath string        `json:"output_path"`
	Duration   time.Duration `json:"duration"`
	Stopped    bool          `json:"stopped"`
}

// JobOutcome is what a finished run reports back to the worker.
type JobOutcome struct {
	Counters Counters
	Output   string
	Stopped  bool
}

// Job represents the metadata persisted for each submitted archive request.
type Job struct {
	ID        string     `json:"id"`
	Kind      JobKind    `json:"kind"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Options   Options    `json:"options"`
	Counters  Counters   `json:"counters"`
	Output    string     `json:"output,omitempty"`
	ParentID  string     `json:"parent_id,omitempty"`
}

// QueueItem represents a unit of work in the job queue.
type QueueItem struct {
	JobID     string `json:"job_id"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}

// CrawlRecord is the persisted summary of a finished crawl.
type CrawlRecord struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	SeedURL     string    `json:"seed_url"`
	Origin      string    `json:"origin"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Counters    Counters  `json:"counters"`
	OutputPath  string    `json:"output_path,omitempty"`
	Stopped     bool      `json:"stopped"`
}
