package crawler

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by job stores and the registry for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// ErrJobExists is returned when a job id is created twice.
var ErrJobExists = errors.New("job already exists")

// ErrQueueClosed is returned by Dequeue once a closed queue has drained.
var ErrQueueClosed = errors.New("queue closed")

// ErrJobStopped is returned for a job stopped before it began running.
var ErrJobStopped = errors.New("job stopped before start")

// ErrTransient marks failures worth retrying, such as a browser that could not
// be started.
var ErrTransient = errors.New("transient failure")

// ValidationError reports a malformed seed or option; the job never starts.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DiscoveryError reports a robots or sitemap failure. It is always recovered.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery %s: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// VisitError reports a navigation, extraction or download failure for one URL.
type VisitError struct {
	URL   string
	Stage string
	Err   error
}

func (e *VisitError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("visit %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("visit %s (%s): %v", e.URL, e.Stage, e.Err)
}

func (e *VisitError) Unwrap() error { return e.Err }

// ExportError reports an archive write failure. It is fatal to the run.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
