package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/execution"
	httpserver "github.com/fyrsmithlabs/waypoint/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the queue worker",
	Long: `Start waypointd. The HTTP server exposes /health, /metrics and
/processes; the worker drains queued executions unless worker.disabled is
set. SIGINT or SIGTERM triggers a graceful shutdown bounded by
server.shutdown_timeout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

// runServe blocks until ctx is cancelled, then shuts the HTTP server down
// and waits for the worker to finish its current item.
func runServe(ctx context.Context) error {
	a, err := newApp(ctx, appOptions{services: true})
	if err != nil {
		return err
	}
	cfg := a.cfg
	zl := a.logger.Underlying()

	a.logger.Info(ctx, "starting waypointd",
		zap.String("version", version),
		zap.String("database", a.store.Driver()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("worker", !cfg.Worker.Disabled))

	srv, err := httpserver.NewServer(a.store, a.coordinator, zl.Named("http"), &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		_ = a.Close(ctx)
		return fmt.Errorf("creating http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if !cfg.Worker.Disabled {
		worker, err := execution.NewWorker(a.store, a.coordinator,
			execution.WithInterval(cfg.Worker.Interval.Duration()),
			execution.WithBatchSize(cfg.Worker.BatchSize),
			execution.WithWorkerLogger(a.logger.Named("worker")))
		if err != nil {
			_ = a.Close(ctx)
			return fmt.Errorf("creating worker: %w", err)
		}
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		a.logger.Info(shutdownCtx, "shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr == nil {
		a.logger.Info(ctx, "servers stopped, releasing dependencies")
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.logger.Warn(closeCtx, "errors while releasing dependencies", zap.Error(err))
	}
	return runErr
}
