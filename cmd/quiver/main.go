// Command quiver ranks archery results separately by gender class and in a
// mixed field, and reports how merging the classes moves athletes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/okian/quiver/internal/config"
	"github.com/okian/quiver/pkg/logger"
)

const configKey = "config"

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "quiver:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "quiver",
		Usage: "compare separate and mixed gender rankings of archery results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file",
				EnvVars: []string{config.FileEnv},
			},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Before: setup,
		Commands: []*cli.Command{
			rankCommand(),
			moversCommand(),
			reportCommand(),
			plotCommand(),
			scrapeCommand(),
			generateCommand(),
			serveCommand(),
		},
		Metadata: map[string]any{},
	}
}

// setup loads configuration (defaults -> optional file -> env) and
// initializes logging on stderr so stdout stays free for tables.
func setup(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		if err := os.Setenv(config.FileEnv, path); err != nil {
			return err
		}
	}
	cfg, err := config.Load(c.Context)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	errw := c.App.ErrWriter
	if errw == nil {
		errw = os.Stderr
	}
	if err := logger.Init(logger.WithWriter(errw), logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(c.Context, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata[configKey].(*config.Config)
	return cfg
}
