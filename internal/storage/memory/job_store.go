package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// JobStore provides an in-memory crawler.JobStore for the CLI and tests.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	order []string
	now   func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawler.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return crawler.ErrJobExists
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

// UpdateJobStatus updates the status and counters for a job and stamps the
// start/finish times on the matching transitions.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.Counters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.IsTerminal() {
		if job.Started == nil {
			job.Started = pointerTime(now)
		}
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobProgress replaces the counters of a running or queued job.
func (s *JobStore) UpdateJobProgress(_ context.Context, jobID string, counters crawler.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Counters = counters
	s.jobs[jobID] = job
	return nil
}

// SetJobOutput records where the job's archive was written.
func (s *JobStore) SetJobOutput(_ context.Context, jobID string, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	job.Output = output
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns every job, newest submission first.
func (s *JobStore) ListJobs(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
