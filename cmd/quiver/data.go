package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/quiver/internal/adapters/export"
	"github.com/okian/quiver/internal/adapters/ingest"
	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/config"
	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/domain/ranking"
	"github.com/okian/quiver/pkg/logger"
)

// dataFlags select the input tables; unset flags keep the config values.
func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "data", Usage: "directory of result files"},
		&cli.StringFlag{Name: "prefix", Usage: "result file name prefix"},
		&cli.StringFlag{Name: "suffix", Usage: "result file name suffix"},
		&cli.StringFlag{Name: "ext", Usage: "result file extension, .csv or .xlsx"},
		&cli.StringFlag{Name: "results", Usage: "output directory"},
		&cli.StringFlag{Name: "dataset", Usage: "dataset id, prefixes output files"},
		&cli.StringFlag{Name: "ranked", Usage: "read an already ranked CSV instead of result files"},
	}
}

func applyDataFlags(c *cli.Context, cfg *config.Config) {
	set := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	set("data", &cfg.DataDir)
	set("prefix", &cfg.FilePrefix)
	set("suffix", &cfg.FileSuffix)
	set("ext", &cfg.FileExt)
	set("results", &cfg.ResultsDir)
	set("dataset", &cfg.DatasetID)
}

func loaderOptions(cfg *config.Config) []ingest.LoaderOption {
	return []ingest.LoaderOption{
		ingest.WithDir(cfg.DataDir),
		ingest.WithPrefix(cfg.FilePrefix),
		ingest.WithSuffix(cfg.FileSuffix),
		ingest.WithExt(cfg.FileExt),
		ingest.WithDatasetID(cfg.DatasetID),
		ingest.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		ingest.WithLogger(logger.Named("ingest")),
	}
}

// eventsFrom returns the event ids given as arguments, or the configured
// ones.
func eventsFrom(c *cli.Context, cfg *config.Config) []string {
	if c.Args().Present() {
		return c.Args().Slice()
	}
	return cfg.Events
}

func loadRecords(c *cli.Context, cfg *config.Config) ([]model.Record, error) {
	events := eventsFrom(c, cfg)
	if len(events) == 0 {
		return nil, fmt.Errorf("no events given")
	}
	records, err := ingest.LoadFiles(c.Context, loaderOptions(cfg), events...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no results found for %v", events)
	}
	return records, nil
}

// loadRanked reads --ranked when given, otherwise loads and ranks the
// result files.
func loadRanked(c *cli.Context, cfg *config.Config, engine *ranking.Engine) ([]model.Ranked, error) {
	if path := c.String("ranked"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return export.ReadCSV(f)
	}
	records, err := loadRecords(c, cfg)
	if err != nil {
		return nil, err
	}
	return engine.Rank(c.Context, records)
}

func newEngine(cfg *config.Config) *ranking.Engine {
	return ranking.NewEngine(
		ranking.WithLogger(logger.Named("ranking")),
		ranking.WithTopN(cfg.TopN),
	)
}

func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StorePath == "" {
		return repository.NewMemoryStore(), nil
	}
	store, err := repository.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func httpTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.HTTPTimeoutMS) * time.Millisecond
}

// createFile opens path for writing, creating its directory. "-" is w.
func createFile(path string, w io.Writer) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{w}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
