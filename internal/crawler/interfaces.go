package crawler

import (
	"context"
	"io"
	"time"
)

// ResourceFetcher retrieves a resource through the active browsing context so
// cookies and session state apply.
type ResourceFetcher interface {
	FetchViaPage(ctx context.Context, url string) (*FetchResult, error)
}

// Capturer drives page rendering and in-page extraction for one job. Calls are
// made sequentially by a single scheduler loop.
type Capturer interface {
	ResourceFetcher
	Navigate(ctx context.Context, url string, opts NavigateOptions) (*Response, error)
	CurrentTitle(ctx context.Context) (string, error)
	RenderedContent(ctx context.Context) (string, error)
	ExtractLinksAndAssets(ctx context.Context) (Extraction, error)
	HeadRequest(ctx context.Context, url string) (int64, error)
	Close() error
}

// JobStore persists job metadata. Implementations return ErrJobNotFound for
// unknown ids.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters Counters) error
	// UpdateJobProgress refreshes counters of a non-terminal job and is a no-op
	// once the job reached a terminal status.
	UpdateJobProgress(ctx context.Context, jobID string, counters Counters) error
	SetJobOutput(ctx context.Context, jobID string, output string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
}

// BlobStore writes archive entries and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ArchiveTarget is a BlobStore that is finalized once every archive entry is
// written. Commit returns the location of the finished archive.
type ArchiveTarget interface {
	BlobStore
	Commit(ctx context.Context) (string, error)
}

// Repository persists crawl artifacts as they are produced.
type Repository interface {
	SavePage(ctx context.Context, jobID string, page Page) error
	SaveAsset(ctx context.Context, jobID string, asset Asset) error
	SaveCrawl(ctx context.Context, record CrawlRecord) error
}

// Publisher pushes job notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for archive jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// RateLimiter paces requests to the host of a URL.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers for jobs.
type IDGenerator interface {
	NewID() (string, error)
}
