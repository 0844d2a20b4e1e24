// Package queue holds ranking jobs between the service and the worker pool.
package queue

import (
	"context"
	"sync"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/metrics"
)

const defaultCapacity = 1024

// Job asks a worker to rank one event's records. The worker sends exactly
// one Result on Reply, which must be buffered by the caller.
type Job struct {
	ID      string
	EventID string
	Records []model.Record
	Reply   chan<- Result
}

// Result is the outcome of a Job.
type Result struct {
	JobID   string
	EventID string
	Ranked  []model.Ranked
	Err     error
}

// Queue is a bounded FIFO of jobs.
type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Dequeue(ctx context.Context) <-chan Job
	Len() int
	Close() error
}

// InMemoryQueue is a channel-backed Queue.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0, q.capacity)
	return q
}

// Enqueue adds j without blocking. It returns ErrFull at capacity, ErrClosed
// after Close, or the context error.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return err
	}

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.jobs), q.capacity)
		return nil
	default:
		metrics.RecordQueueRejected("queue_full")
		return ErrFull
	}
}

// Dequeue streams jobs until the queue is closed and drained or ctx ends.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- j:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.jobs), q.capacity)
				case <-ctx.Done():
					// Hand the job back with a cancellation so its caller
					// is not left waiting.
					j.Reply <- Result{JobID: j.ID, EventID: j.EventID, Err: ctx.Err()}
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued jobs.
func (q *InMemoryQueue) Len() int {
	return len(q.jobs)
}

// Capacity returns the maximum number of queued jobs.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops accepting jobs. Queued jobs are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
