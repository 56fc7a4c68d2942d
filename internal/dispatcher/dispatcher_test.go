// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	memqueue "github.com/JakeFAU/recurse-archiver/internal/queue/memory"
	"github.com/JakeFAU/recurse-archiver/internal/storage/memory"
	"github.com/JakeFAU/recurse-archiver/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, system.New(), worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})
	if dispatch.Size() != 1 {
		t.Fatalf("expected one worker, got %d", dispatch.Size())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherCloseDrainsQueue verifies buffered jobs run before workers exit.
func TestDispatcherCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := memqueue.NewQueue(4)
	store := memory.NewJobStore()
	runner := &countingRunner{}
	workers := []*worker.Worker{
		worker.New(queue, store, runner, system.New(), worker.Config{}, zap.NewNop()),
		worker.New(queue, store, runner, system.New(), worker.Config{}, zap.NewNop()),
	}
	dispatch := New(queue, workers)

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateJob(ctx, crawler.Job{ID: id, Status: crawler.JobStatusQueued}); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		if err := dispatch.Enqueue(ctx, crawler.QueueItem{JobID: id}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	dispatch.Close()

	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
	if got := runner.count(); got != 3 {
		t.Fatalf("expected 3 runs, got %d", got)
	}
	if err := dispatch.Enqueue(ctx, crawler.QueueItem{JobID: "late"}); !errors.Is(err, crawler.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRunner) RunJob(context.Context, string) (crawler.JobOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return crawler.JobOutcome{}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Close() {}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}

func (q *errorQueue) Close() {}
