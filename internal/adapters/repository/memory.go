package repository

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/quiver/pkg/metrics"
)

// MemoryStore keeps runs in memory. Listings are served from a snapshot
// republished on every write, so readers never take the write lock.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Run
	order   []string // oldest first
	maxRuns int
	closed  bool

	snapshot atomic.Pointer[[]Summary]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]Run)}
	for _, opt := range opts {
		opt(s)
	}
	s.publishSnapshot()
	return s
}

func (s *MemoryStore) Save(_ context.Context, run Run) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("save", time.Since(start)) }()

	if run.ID == "" {
		metrics.RecordStoreError("save")
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.RecordStoreError("save")
		return ErrClosed
	}

	run.Records = slices.Clone(run.Records)
	if _, ok := s.byID[run.ID]; ok {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == run.ID })
	}
	s.byID[run.ID] = run
	s.order = append(s.order, run.ID)

	for s.maxRuns > 0 && len(s.order) > s.maxRuns {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}

	s.publishSnapshot()
	metrics.UpdateRunsStored(len(s.order))
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Run, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("get", time.Since(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.byID[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	run.Records = slices.Clone(run.Records)
	return run, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	return slices.Clone(*s.snapshot.Load()), nil
}

func (s *MemoryStore) Count(_ context.Context) int {
	return len(*s.snapshot.Load())
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// publishSnapshot must be called with the write lock held.
func (s *MemoryStore) publishSnapshot() {
	out := make([]Summary, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.byID[s.order[i]]
		out = append(out, run.Summary())
	}
	s.snapshot.Store(&out)
}
