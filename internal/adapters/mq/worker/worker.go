package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/quiver/internal/adapters/mq/queue"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Ranker ranks one batch of records.
type Ranker interface {
	Rank(ctx context.Context, records []model.Record) ([]model.Ranked, error)
}

// Source yields jobs.
type Source interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker ranks jobs one at a time.
type Worker struct {
	source Source
	ranker Ranker
	name   string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// New creates a worker.
func New(source Source, ranker Ranker, opts ...Option) *Worker {
	w := &Worker{
		source:   source,
		ranker:   ranker,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes jobs until the source closes, ctx ends or Shutdown is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown stops the worker and waits for the current job.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) process(ctx context.Context, j queue.Job) {
	start := time.Now()
	ranked, err := w.ranker.Rank(ctx, j.Records)
	metrics.RecordWorkerJob(time.Since(start), err)

	if err != nil {
		metrics.RecordError("worker", "rank_failed")
		w.logger.Error(ctx, "ranking job failed",
			logger.String("job_id", j.ID),
			logger.String("event_id", j.EventID),
			logger.Error(err),
		)
		err = fmt.Errorf("event %s: %w", j.EventID, err)
	} else {
		w.logger.Debug(ctx, "ranking job done",
			logger.String("job_id", j.ID),
			logger.String("event_id", j.EventID),
			logger.Int("records", len(ranked)),
			logger.Duration("took", time.Since(start)),
		)
	}
	j.Reply <- queue.Result{JobID: j.ID, EventID: j.EventID, Ranked: ranked, Err: err}
}

// Pool runs a fixed set of workers over one source.
type Pool struct {
	workers []*Worker
	source  Source
	logger  logger.Logger
}

// NewPool creates workerCount workers. workerCount < 1 means one per CPU.
func NewPool(workerCount int, source Source, ranker Ranker, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*Worker, workerCount),
		source:  source,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := range p.workers {
		p.workers[i] = New(source, ranker,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
		)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the source when it supports it and waits for workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerCount(0)
	return firstErr
}
