// Package service runs ranking analyses on the worker pool and keeps their
// results for the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/quiver/internal/adapters/mq/queue"
	"github.com/okian/quiver/internal/adapters/mq/worker"
	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/domain/ranking"
	"github.com/okian/quiver/internal/report"
	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

// Service implements the API dependencies for analysis runs.
type Service struct {
	mu sync.RWMutex

	// Core components
	store  repository.Store
	queue  *queue.InMemoryQueue
	pool   *worker.Pool
	engine *ranking.Engine

	// Configuration
	workerCount int
	queueSize   int
	topN        int
	maxMovers   int
	bands       []report.Band

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets how many per-event jobs may wait for a worker.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithStore sets the run store. The default is an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithTopN sets the default number of movers per group.
func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithMaxMoversLimit caps the movers a caller may ask for.
func WithMaxMoversLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMovers = n
		}
	}
}

// WithBands sets the rank bands used by Stats.
func WithBands(bands []report.Band) Option {
	return func(s *Service) {
		if len(bands) > 0 {
			s.bands = bands
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	bands, _ := report.RankBands(report.DefaultBandEdges)
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   1024,
		topN:        ranking.DefaultTopN,
		maxMovers:   100,
		bands:       bands,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	s.engine = ranking.NewEngine(
		ranking.WithLogger(s.logger.Named("ranking")),
		ranking.WithTopN(s.topN),
	)
	return s
}

// Start launches the queue and the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting analysis service...")

	// Workers outlive the caller's ctx; Stop ends them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s.engine,
		worker.WithPoolLogger(s.logger.Named("worker")))
	s.pool.Start(runCtx)

	metrics.UpdateRunsStored(s.store.Count(ctx))
	s.started = true
	s.logger.Info(ctx, "analysis service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

// Stop drains the worker pool and closes the store. A stopped service
// cannot be started again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping analysis service...")

	err := s.pool.Shutdown(ctx)
	s.cancel()
	if cerr := s.store.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	s.started = false
	s.logger.Info(ctx, "analysis service stopped")
	return err
}

// Analyze validates records, ranks each event on the worker pool and stores
// the merged result as a new run. Ranked records keep the input order.
func (s *Service) Analyze(ctx context.Context, source string, records []model.Record) (repository.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return repository.Run{}, ErrNotStarted
	}
	if len(records) == 0 {
		return repository.Run{}, ErrNoRecords
	}
	if err := ranking.Validate(records); err != nil {
		metrics.RecordRunFailed()
		return repository.Run{}, err
	}

	runID := uuid.NewString()
	events, index := splitByEvent(records)
	reply := make(chan queue.Result, len(events))

	ranked := make([]model.Ranked, len(records))
	window := max(s.queue.Capacity(), 1)
	next, pending := 0, 0
	for done := 0; done < len(events); {
		// Keep at most a queue's worth of this run's jobs in flight. A full
		// queue only fails the run when none of its own jobs are pending.
		for next < len(events) && pending < window {
			ev := events[next]
			err := s.queue.Enqueue(ctx, queue.Job{
				ID:      runID + "/" + ev,
				EventID: ev,
				Records: pick(records, index[ev]),
				Reply:   reply,
			})
			if errors.Is(err, queue.ErrFull) && pending > 0 {
				break
			}
			if err != nil {
				metrics.RecordRunFailed()
				if errors.Is(err, queue.ErrFull) {
					return repository.Run{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
				}
				return repository.Run{}, err
			}
			next++
			pending++
		}

		select {
		case <-ctx.Done():
			metrics.RecordRunFailed()
			return repository.Run{}, ctx.Err()
		case res := <-reply:
			if res.Err != nil {
				metrics.RecordRunFailed()
				return repository.Run{}, fmt.Errorf("ranking event %s: %w", res.EventID, res.Err)
			}
			for k, i := range index[res.EventID] {
				ranked[i] = res.Ranked[k]
			}
			pending--
			done++
		}
	}

	run := repository.Run{
		ID:        runID,
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Records:   ranked,
	}
	if err := s.store.Save(ctx, run); err != nil {
		metrics.RecordRunFailed()
		return repository.Run{}, fmt.Errorf("saving run: %w", err)
	}
	metrics.RecordRunCompleted()
	metrics.UpdateRunsStored(s.store.Count(ctx))
	s.logger.Info(ctx, "run analyzed",
		logger.String("run", runID),
		logger.String("source", source),
		logger.Int("records", len(ranked)),
		logger.Int("events", len(events)),
	)
	return run, nil
}

// splitByEvent groups record indices by event, events in first-seen order.
func splitByEvent(records []model.Record) ([]string, map[string][]int) {
	var events []string
	index := make(map[string][]int)
	for i := range records {
		ev := records[i].EventID
		if _, ok := index[ev]; !ok {
			events = append(events, ev)
		}
		index[ev] = append(index[ev], i)
	}
	return events, index
}

func pick(records []model.Record, idx []int) []model.Record {
	out := make([]model.Record, len(idx))
	for k, i := range idx {
		out[k] = records[i]
	}
	return out
}

// Run returns a stored run.
func (s *Service) Run(ctx context.Context, id string) (repository.Run, error) {
	return s.store.Get(ctx, id)
}

// Runs lists stored runs, newest first.
func (s *Service) Runs(ctx context.Context) ([]repository.Summary, error) {
	return s.store.List(ctx)
}

// Movers returns the top movers of a run. topN <= 0 uses the default.
func (s *Service) Movers(ctx context.Context, id string, topN int) ([]model.Mover, error) {
	if topN > s.maxMovers {
		return nil, fmt.Errorf("%w: %d > %d", ErrTopNTooLarge, topN, s.maxMovers)
	}
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Movers(run.Records, topN), nil
}

// Stats computes summaries and Welch t-tests of a run, overall and per rank
// band.
func (s *Service) Stats(ctx context.Context, id string) (report.RunStats, error) {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return report.RunStats{}, err
	}
	return report.Analyze(run.Records, s.bands), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"runsStored":  s.store.Count(ctx),
	}
	if s.started {
		queueLen := s.queue.Len()
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen, s.queueSize)
	}
	return stats
}
