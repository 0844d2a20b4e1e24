package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/okian/quiver/internal/adapters/charts"
	"github.com/okian/quiver/internal/adapters/export"
	"github.com/okian/quiver/internal/adapters/ingest"
	service "github.com/okian/quiver/internal/app"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/report"
	"github.com/okian/quiver/internal/synth"
	"github.com/okian/quiver/pkg/logger"
)

func rankCommand() *cli.Command {
	return &cli.Command{
		Name:      "rank",
		Usage:     "rank result files and export the ranked table",
		ArgsUsage: "[event ...]",
		Flags: append(dataFlags(),
			&cli.StringFlag{Name: "out", Usage: "ranked CSV path, - for stdout (default {results}{dataset}ranked.csv)"},
			&cli.StringFlag{Name: "xlsx", Usage: "also write a workbook with the ranked table and movers"},
		),
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			applyDataFlags(c, cfg)

			records, err := loadRecords(c, cfg)
			if err != nil {
				return err
			}
			bands, err := report.RankBands(cfg.RankBandEdges)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			svc := service.New(
				service.WithLogger(logger.Named("service")),
				service.WithStore(store),
				service.WithWorkerCount(cfg.WorkerCount),
				service.WithQueueSize(cfg.QueueSize),
				service.WithTopN(cfg.TopN),
				service.WithMaxMoversLimit(cfg.MaxMoversLimit),
				service.WithBands(bands),
			)
			if err := svc.Start(c.Context); err != nil {
				return err
			}
			defer func() { _ = svc.Stop(c.Context) }()

			run, err := svc.Analyze(c.Context, cfg.DatasetID, records)
			if err != nil {
				return err
			}

			out := c.String("out")
			if out == "" {
				out = filepath.Join(cfg.ResultsDir, cfg.DatasetID+"ranked.csv")
			}
			if err := writeOut(c, out, func(w io.Writer) error { return export.WriteCSV(w, run.Records) }); err != nil {
				return err
			}

			if path := c.String("xlsx"); path != "" {
				movers, err := svc.Movers(c.Context, run.ID, cfg.TopN)
				if err != nil {
					return err
				}
				if err := writeOut(c, path, func(w io.Writer) error { return export.WriteXLSX(w, run.Records, movers) }); err != nil {
					return err
				}
			}
			if out != "-" {
				fmt.Fprintf(c.App.Writer, "run %s: %d records ranked, written to %s\n", run.ID, len(run.Records), out)
			}
			return nil
		},
	}
}

func moversCommand() *cli.Command {
	return &cli.Command{
		Name:      "movers",
		Usage:     "print how the top finishers of each separate ranking move when merged",
		ArgsUsage: "[event ...]",
		Flags: append(dataFlags(),
			&cli.IntFlag{Name: "top", Usage: "podium size (default top_n)"},
		),
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			applyDataFlags(c, cfg)
			engine := newEngine(cfg)

			ranked, err := loadRanked(c, cfg, engine)
			if err != nil {
				return err
			}
			return report.WriteMovers(c.App.Writer, engine.Movers(ranked, c.Int("top")))
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "write the raw table, movers, summaries and t-tests into the results directory",
		ArgsUsage: "[event ...]",
		Flags:     dataFlags(),
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			applyDataFlags(c, cfg)
			engine := newEngine(cfg)

			bands, err := report.RankBands(cfg.RankBandEdges)
			if err != nil {
				return err
			}
			ranked, err := loadRanked(c, cfg, engine)
			if err != nil {
				return err
			}
			if err := report.WriteAll(cfg.ResultsDir, cfg.DatasetID, ranked, engine.Movers(ranked, 0), bands); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "reports written to %s\n", cfg.ResultsDir)
			return nil
		},
	}
}

func plotCommand() *cli.Command {
	return &cli.Command{
		Name:      "plot",
		Usage:     "render score, percentile and position change charts as PNG",
		ArgsUsage: "[event ...]",
		Flags:     dataFlags(),
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			applyDataFlags(c, cfg)
			engine := newEngine(cfg)

			ranked, err := loadRanked(c, cfg, engine)
			if err != nil {
				return err
			}
			paths, err := charts.WriteAll(cfg.ResultsDir, cfg.DatasetID, ranked, engine.Movers(ranked, 0))
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}

func scrapeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrape",
		Usage: "download one event's qualification results into a result file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "results site root (default ianseo_base_url)"},
			&cli.StringFlag{Name: "tour", Usage: "tournament code", Required: true},
			&cli.StringFlag{Name: "event", Usage: "event id recorded on each row", Required: true},
			&cli.StringFlag{Name: "data", Usage: "directory of result files"},
			&cli.StringFlag{Name: "out", Usage: "CSV path, - for stdout (default the event's result file)"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			if c.IsSet("data") {
				cfg.DataDir = c.String("data")
			}
			base := cfg.IanseoBaseURL
			if c.IsSet("url") {
				base = c.String("url")
			}
			scraper := ingest.NewScraper(
				ingest.WithBaseURL(base),
				ingest.WithHTTPClient(&http.Client{Timeout: httpTimeout(cfg)}),
				ingest.WithScraperLogger(logger.Named("scraper")),
			)

			event := c.String("event")
			records, err := scraper.FetchEvent(c.Context, c.String("tour"), event)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no results found for %s", scraper.TourURL(c.String("tour")))
			}

			out := c.String("out")
			if out == "" {
				cfg.FileExt = ".csv"
				out = cfg.ResultFile(event)
			}
			if err := writeOut(c, out, func(w io.Writer) error { return ingest.WriteCSV(w, records) }); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(c.App.Writer, "%s: %d records written to %s\n", event, len(records), out)
			}
			return nil
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "write synthetic result files, optionally submitting them to a server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "events", Value: 8, Usage: "number of events"},
			&cli.StringFlag{Name: "name", Value: "Synth", Usage: "event id prefix"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			&cli.IntFlag{Name: "workers", Usage: "generator workers (default worker_count)"},
			&cli.StringFlag{Name: "data", Usage: "directory of result files"},
			&cli.StringFlag{Name: "submit", Usage: "base URL of a quiver server to post the run to"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			if c.IsSet("data") {
				cfg.DataDir = c.String("data")
			}
			if c.Int("events") < 1 {
				return errors.New("events must be positive")
			}
			workers := cfg.WorkerCount
			if c.IsSet("workers") {
				workers = c.Int("workers")
			}

			ids := synth.EventIDs(c.String("name"), c.Int("events"))
			gen := synth.New(c.Uint64("seed"),
				synth.WithWorkers(workers),
				synth.WithLogger(logger.Named("synth")),
			)
			records, err := gen.Generate(c.Context, ids)
			if err != nil {
				return err
			}

			cfg.FileExt = ".csv"
			byEvent := groupByEvent(records)
			for _, id := range ids {
				path := cfg.ResultFile(id)
				if err := writeOut(c, path, func(w io.Writer) error { return ingest.WriteCSV(w, byEvent[id]) }); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s: %d records written to %s\n", id, len(byEvent[id]), path)
			}

			if url := c.String("submit"); url != "" {
				client := synth.NewClient(url, httpTimeout(cfg))
				if err := client.Healthy(c.Context); err != nil {
					return err
				}
				sub, err := client.Submit(c.Context, fmt.Sprintf("%s-seed-%d", c.String("name"), c.Uint64("seed")), records)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "submitted run %s with %d records\n", sub.ID, sub.Records)
			}
			return nil
		},
	}
}

func groupByEvent(records []model.Record) map[string][]model.Record {
	out := make(map[string][]model.Record)
	for _, r := range records {
		out[r.EventID] = append(out[r.EventID], r)
	}
	return out
}

// writeOut creates path and hands it to write. "-" writes to the app's
// stdout.
func writeOut(c *cli.Context, path string, write func(io.Writer) error) error {
	w, err := createFile(path, c.App.Writer)
	if err != nil {
		return err
	}
	if err := write(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return w.Close()
}
