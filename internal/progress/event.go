package progress

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
)

// Kind is the wire name of an event variant.
type Kind string

// Event kinds, one per Payload variant.
const (
	KindJobStarted        Kind = "started"
	KindPage              Kind = "page"
	KindError             Kind = "error"
	KindAnalyzed          Kind = "analyzed"
	KindAnalyzeComplete   Kind = "analyzeComplete"
	KindComplete          Kind = "complete"
	KindFailed            Kind = "failed"
	KindSitemapProcessing Kind = "sitemapProcessing"
)

// Payload is the closed set of event bodies. Only types in this package
// implement it; consumers switch over the concrete types.
type Payload interface {
	Kind() Kind
	payload()
}

// JobStarted is emitted once when a job begins draining its queue.
type JobStarted struct {
	JobKind crawler.JobKind `json:"kind"`
	URL     string          `json:"url"`
}

// PageCaptured reports a page stored in full-capture mode.
type PageCaptured struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	Discovered int    `json:"discovered"`
	Downloaded int    `json:"downloaded"`
}

// VisitFailed reports a per-URL failure; the run continues.
type VisitFailed struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// PageAnalyzed reports a page sized in analyze mode.
type PageAnalyzed struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Depth     int    `json:"depth"`
	Size      int64  `json:"size"`
	TotalSize int64  `json:"totalSize"`
	Total     int    `json:"total"`
	Queued    int    `json:"queued"`
}

// AnalyzeComplete carries the full analyze result.
type AnalyzeComplete struct {
	Pages      []*crawler.Page `json:"pages"`
	Tree       *pagetree.Node  `json:"tree"`
	Total      int             `json:"total"`
	DurationMs int64           `json:"durationMs"`
	Stopped    bool            `json:"stopped"`
}

// JobComplete is emitted after a successful export.
type JobComplete struct {
	Pages      int    `json:"pages"`
	Assets     int    `json:"assets"`
	TotalBytes int64  `json:"totalBytes"`
	OutputPath string `json:"outputPath"`
	DurationMs int64  `json:"durationMs"`
}

// JobFailed is emitted when a job cannot produce its output.
type JobFailed struct {
	Error string `json:"error"`
}

// SitemapProcessing is emitted before each sitemap document is fetched.
type SitemapProcessing struct {
	URL string `json:"url"`
}

func (JobStarted) Kind() Kind        { return KindJobStarted }
func (PageCaptured) Kind() Kind      { return KindPage }
func (VisitFailed) Kind() Kind       { return KindError }
func (PageAnalyzed) Kind() Kind      { return KindAnalyzed }
func (AnalyzeComplete) Kind() Kind   { return KindAnalyzeComplete }
func (JobComplete) Kind() Kind       { return KindComplete }
func (JobFailed) Kind() Kind         { return KindFailed }
func (SitemapProcessing) Kind() Kind { return KindSitemapProcessing }

func (JobStarted) payload()        {}
func (PageCaptured) payload()      {}
func (VisitFailed) payload()       {}
func (PageAnalyzed) payload()      {}
func (AnalyzeComplete) payload()   {}
func (JobComplete) payload()       {}
func (JobFailed) payload()         {}
func (SitemapProcessing) payload() {}

// Event is one progress notification for a job.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Payload is the variant body.
	Payload Payload
}

// New stamps payload with the job id and time.
func New(jobID string, ts time.Time, payload Payload) Event {
	return Event{JobID: jobID, TS: ts.UTC(), Payload: payload}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Payload == nil {
		return errors.New("payload is required")
	}
	return nil
}

// Terminal reports whether the event ends a job's stream.
func (e Event) Terminal() bool {
	switch e.Payload.(type) {
	case JobComplete, JobFailed, AnalyzeComplete:
		return true
	default:
		return false
	}
}

// MarshalJSON renders {"jobId","ts","type","data"}.
func (e Event) MarshalJSON() ([]byte, error) {
	var kind Kind
	if e.Payload != nil {
		kind = e.Payload.Kind()
	}
	return json.Marshal(struct {
		JobID string    `json:"jobId"`
		TS    time.Time `json:"ts"`
		Type  Kind      `json:"type"`
		Data  Payload   `json:"data"`
	}{e.JobID, e.TS, kind, e.Payload})
}
