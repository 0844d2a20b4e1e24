package dedupe

// DefaultMaxSize bounds the number of remembered source keys.
const DefaultMaxSize = 4096

// Option configures the deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize sets how many keys are remembered. n <= 0 remembers all.
func WithMaxSize(n int) Option {
	return func(d *inMemoryDeduper) { d.maxSize = n }
}
