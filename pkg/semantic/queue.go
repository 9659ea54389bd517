package semantic

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Queue runs embedding jobs in the background. A memory is submitted
// right after creation and its embedded_at becomes non-null once the job
// finishes; until then it is only reachable through keyword search.
type Queue struct {
	jobs      chan int64
	processed atomic.Int64
	failed    atomic.Int64
}

// NewQueue creates a queue buffering up to size pending jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{jobs: make(chan int64, size)}
}

// Submit enqueues a memory for embedding without blocking. It reports
// false when the buffer is full.
func (q *Queue) Submit(memoryID int64) bool {
	select {
	case q.jobs <- memoryID:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int { return len(q.jobs) }

// Processed returns how many jobs succeeded and failed so far.
func (q *Queue) Processed() (ok, failed int64) {
	return q.processed.Load(), q.failed.Load()
}

// Run executes jobs with handle until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, handle func(ctx context.Context, memoryID int64) error) {
	slog.Info("embedding queue started", "capacity", cap(q.jobs))
	for {
		select {
		case <-ctx.Done():
			slog.Info("embedding queue stopping", "pending", len(q.jobs))
			return
		case id := <-q.jobs:
			if err := handle(ctx, id); err != nil {
				q.failed.Add(1)
				slog.Warn("background embedding failed", "id", id, "error", err)
				continue
			}
			q.processed.Add(1)
		}
	}
}
