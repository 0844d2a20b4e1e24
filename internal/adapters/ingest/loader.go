package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

// Loader reads one result file per event id from a directory. Files are
// named {dir}{prefix}{id}{suffix}{ext}.
type Loader struct {
	dir, prefix, suffix, ext string
	datasetID                string

	deduper dedupe.Deduper
	logger  logger.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithDir sets the data directory. It is joined by plain concatenation, so
// keep the trailing separator.
func WithDir(dir string) LoaderOption { return func(l *Loader) { l.dir = dir } }

// WithPrefix sets the file name prefix.
func WithPrefix(p string) LoaderOption { return func(l *Loader) { l.prefix = p } }

// WithSuffix sets the file name suffix placed before the extension.
func WithSuffix(s string) LoaderOption { return func(l *Loader) { l.suffix = s } }

// WithExt sets the file extension, including the dot. ".xlsx" selects the
// workbook reader.
func WithExt(ext string) LoaderOption { return func(l *Loader) { l.ext = ext } }

// WithDatasetID scopes duplicate detection to a dataset.
func WithDatasetID(id string) LoaderOption { return func(l *Loader) { l.datasetID = id } }

// WithDeduper sets the duplicate tracker shared across loads.
func WithDeduper(d dedupe.Deduper) LoaderOption {
	return func(l *Loader) {
		if d != nil {
			l.deduper = d
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(lg logger.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader returns a Loader reading ./data/{id}Scores.csv by default.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:     "./data/",
		suffix:  "Scores",
		ext:     ".csv",
		deduper: dedupe.NewInMemoryDeduper(),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the file read for eventID.
func (l *Loader) Path(eventID string) string {
	return l.dir + l.prefix + eventID + l.suffix + l.ext
}

// Load reads every event in order and concatenates the records. Events
// already loaded through this Loader's deduper are skipped.
func (l *Loader) Load(ctx context.Context, eventIDs ...string) ([]model.Record, error) {
	var (
		out      []model.Record
		recorded []string
	)
	// A failed call forgets every event it marked, so a retry loads them all.
	fail := func(err error) ([]model.Record, error) {
		for _, key := range recorded {
			l.deduper.Unrecord(ctx, key)
		}
		return nil, err
	}
	for _, id := range eventIDs {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		key := dedupe.Key(l.datasetID, id)
		if l.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordIngestDuplicate()
			l.logger.Warn(ctx, "event already loaded, skipping", logger.String("event_id", id))
			continue
		}
		recorded = append(recorded, key)

		records, st, err := l.loadFile(l.Path(id), id)
		if err != nil {
			metrics.RecordError("ingest", "load_failed")
			return fail(fmt.Errorf("event %s: %w", id, err))
		}
		l.logger.Info(ctx, "loaded event",
			logger.String("event_id", id),
			logger.Int("rows", st.Read),
			logger.Int("dropped", st.Dropped),
		)
		out = append(out, records...)
	}
	return out, nil
}

func (l *Loader) loadFile(path, eventID string) ([]model.Record, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSX(f, eventID)
	}
	return readCSV(f, eventID)
}

// LoadFiles is a one-shot Load with a fresh Loader.
func LoadFiles(ctx context.Context, opts []LoaderOption, eventIDs ...string) ([]model.Record, error) {
	return NewLoader(opts...).Load(ctx, eventIDs...)
}
