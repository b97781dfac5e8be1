package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/fulfillment/internal/bootstrap"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}

// open loads the configuration and wires the application without telemetry
// or migrations; the server owns both.
func open(ctx context.Context, opts *cli.RootOptions) (*cli.Session, error) {
	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(&logger.Config{
		Level:  level,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	passes, err := app.NewScheduler()
	if err != nil {
		_ = app.Close(ctx)
		_ = log.Sync()
		return nil, err
	}

	return &cli.Session{
		Trackers: app.Reconciler,
		Leads:    app.Leads,
		Orders:   app.Orders,
		Passes:   passes,
		Close: func() error {
			defer func() { _ = log.Sync() }()
			return app.Close(context.WithoutCancel(ctx))
		},
	}, nil
}

