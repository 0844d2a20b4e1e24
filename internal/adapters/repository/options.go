package repository

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithMaxRuns bounds how many runs are kept; the oldest is dropped first.
// n <= 0 keeps every run.
func WithMaxRuns(n int) Option {
	return func(s *MemoryStore) { s.maxRuns = n }
}
