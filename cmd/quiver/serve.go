package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/okian/quiver/internal/adapters/http/api"
	"github.com/okian/quiver/internal/adapters/http/swagger"
	service "github.com/okian/quiver/internal/app"
	"github.com/okian/quiver/internal/config"
	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/report"
	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

// HTTP server timeout constants.
const (
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the ranking HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (default addr)"},
			&cli.StringFlag{Name: "store", Usage: "SQLite path for runs; empty keeps them in memory"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			if c.IsSet("addr") {
				cfg.Addr = c.String("addr")
			}
			if c.IsSet("store") {
				cfg.StorePath = c.String("store")
			}
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			return serve(c.Context, cfg, ln, c.App.Writer)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, ln net.Listener, out io.Writer) error {
	log := logger.Get()
	registerRuntimeCollectors()

	bands, err := report.RankBands(cfg.RankBandEdges)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	// Create and start the service with configuration options
	svc := service.New(
		service.WithLogger(logger.Named("service")),
		service.WithStore(store),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithTopN(cfg.TopN),
		service.WithMaxMoversLimit(cfg.MaxMoversLimit),
		service.WithBands(bands),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		if err := svc.Stop(context.Background()); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc,
		api.WithMaxMovers(cfg.MaxMoversLimit),
		api.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		api.WithLogger(logger.Named("api")),
	).Register(ctx, mux)

	timeout := httpTimeout(cfg)
	srv := &http.Server{
		Handler:           mux,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		fmt.Fprintf(out, "listening on %s\n", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for shutdown signal
	select {
	case err := <-errc:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
		return err
	}
	log.Info(ctx, "server stopped")
	return nil
}

// registerRuntimeCollectors adds Go runtime and process metrics to the
// service registry. Repeated calls are no-ops.
func registerRuntimeCollectors() {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		var are prometheus.AlreadyRegisteredError
		if err := metrics.GetRegistry().Register(c); err != nil && !errors.As(err, &are) {
			logger.Get().Warn(context.Background(), "runtime collector not registered", logger.Error(err))
		}
	}
}

// startServiceMetricsUpdater refreshes service gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	queueLen, _ := stats["queueLength"].(int)
	queueSize, _ := stats["queueSize"].(int)
	metrics.UpdateQueueSize(queueLen, queueSize)

	if n, ok := stats["runsStored"].(int); ok {
		metrics.UpdateRunsStored(n)
	}
	if n, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
}
