// Package config defines service configuration and its defaults.
package config

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// HTTPTimeoutMS bounds server reads and writes and scraper requests.
	HTTPTimeoutMS int `koanf:"http_timeout_ms"`

	// DataDir, FilePrefix, FileSuffix and FileExt name result files as
	// {data_dir}{file_prefix}{event}{file_suffix}{file_ext}.
	DataDir    string `koanf:"data_dir"`
	FilePrefix string `koanf:"file_prefix"`
	FileSuffix string `koanf:"file_suffix"`
	FileExt    string `koanf:"file_ext"`

	// ResultsDir receives reports and charts.
	ResultsDir string `koanf:"results_dir"`
	// DatasetID prefixes report file names, e.g. "Nimes_".
	DatasetID string `koanf:"dataset_id"`
	// Events lists the event ids loaded by the CLI.
	Events []string `koanf:"events"`

	// WorkerCount sets the number of ranking workers.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds the in-memory job queue.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize bounds how many loaded sources are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// TopN is the default podium size for movers.
	TopN int `koanf:"top_n"`
	// MaxMoversLimit caps GET /analyses/{id}/movers?top.
	MaxMoversLimit int `koanf:"max_movers_limit"`
	// RankBandEdges are the lower edges of the report rank bands.
	RankBandEdges []float64 `koanf:"rank_band_edges"`

	// StorePath selects the run store: empty keeps runs in memory, anything
	// else is a SQLite path (":memory:" allowed).
	StorePath string `koanf:"store_path"`

	// IanseoBaseURL is the root of the results site used by the scraper.
	IanseoBaseURL string `koanf:"ianseo_base_url"`
}

// New returns a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":9080",
		HTTPTimeoutMS:  10_000,
		DataDir:        "./data/",
		FilePrefix:     "",
		FileSuffix:     "Scores",
		FileExt:        ".csv",
		ResultsDir:     "./results/",
		DatasetID:      "Nimes_",
		Events:         []string{"Nimes15", "Nimes16", "Nimes17", "Nimes18", "Nimes19", "Nimes20", "Nimes21", "Nimes22"},
		WorkerCount:    runtime.NumCPU(),
		QueueSize:      1024,
		DedupeSize:     4096,
		TopN:           3,
		MaxMoversLimit: 100,
		RankBandEdges:  []float64{1, 6, 11, 21, 51},
		StorePath:      "",
		IanseoBaseURL:  "https://www.ianseo.net",
	}
}

// Validate reports the first invalid field wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.TopN < 1:
		return fmt.Errorf("%w: top_n must be positive", ErrInvalidConfig)
	case c.MaxMoversLimit < c.TopN:
		return fmt.Errorf("%w: max_movers_limit must be at least top_n", ErrInvalidConfig)
	case c.HTTPTimeoutMS < 0:
		return fmt.Errorf("%w: http_timeout_ms must not be negative", ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	if len(c.RankBandEdges) == 0 {
		return fmt.Errorf("%w: rank_band_edges must not be empty", ErrInvalidConfig)
	}
	if !slices.IsSorted(c.RankBandEdges) || c.RankBandEdges[0] < 1 {
		return fmt.Errorf("%w: rank_band_edges must be ascending and start at 1 or above", ErrInvalidConfig)
	}
	return nil
}

// ResultFile returns the path of an event's result file.
func (c *Config) ResultFile(eventID string) string {
	return c.DataDir + c.FilePrefix + eventID + c.FileSuffix + c.FileExt
}
