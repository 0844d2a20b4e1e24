package ranking

import (
	"context"
	"errors"
	"time"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

// Engine runs the ranking stages and reports their timings and group counts.
type Engine struct {
	log  logger.Logger
	topN int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTopN sets the default podium size used by Movers.
func WithTopN(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.topN = n
		}
	}
}

// NewEngine returns an Engine. Without WithLogger it logs nothing.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: logger.Nop(), topN: DefaultTopN}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank runs Separate, MixedFrom and DeltaFrom over records.
func (e *Engine) Rank(ctx context.Context, records []model.Record) ([]model.Ranked, error) {
	start := time.Now()
	sep, sst, err := separate(records)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrZeroScore) {
			reason = "zero_score"
		}
		metrics.RecordBatchRejected(reason)
		e.log.Warn(ctx, "batch rejected", logger.Int("records", len(records)), logger.Error(err))
		return nil, err
	}
	metrics.RecordStageDuration("separate", time.Since(start))
	metrics.RecordGroups("separate", sst.groups, sst.degenerate)

	start = time.Now()
	mixed, mst := mixedFrom(sep)
	metrics.RecordStageDuration("mixed", time.Since(start))
	metrics.RecordGroups("mixed", mst.groups, mst.degenerate)

	start = time.Now()
	ranked := DeltaFrom(mixed)
	metrics.RecordStageDuration("delta", time.Since(start))
	metrics.RecordRecordsRanked(len(ranked))

	if sst.degenerate > 0 || mst.degenerate > 0 {
		e.log.Debug(ctx, "single-member groups have no percentile",
			logger.Int("separate", sst.degenerate), logger.Int("mixed", mst.degenerate))
	}
	e.log.Debug(ctx, "ranked batch",
		logger.Int("records", len(ranked)),
		logger.Int("separate_groups", sst.groups),
		logger.Int("mixed_groups", mst.groups))
	return ranked, nil
}

// Movers returns TopMovers over ranked. topN <= 0 uses the engine default.
func (e *Engine) Movers(ranked []model.Ranked, topN int) []model.Mover {
	if topN <= 0 {
		topN = e.topN
	}
	return TopMovers(ranked, topN)
}
