package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	"github.com/fyrsmithlabs/waypoint/internal/embeddings"
	"github.com/fyrsmithlabs/waypoint/internal/events"
	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/process/builtin"
	"github.com/fyrsmithlabs/waypoint/internal/secrets"
	"github.com/fyrsmithlabs/waypoint/internal/services"
	"github.com/fyrsmithlabs/waypoint/internal/store"
	"github.com/fyrsmithlabs/waypoint/internal/telemetry"
	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
	"go.uber.org/zap"
)

// app holds every wired dependency of one waypointd invocation.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
	store       *store.Store
	coordinator *execution.Coordinator

	closers []func() error
}

// appOptions selects which optional dependencies are built.
type appOptions struct {
	// services builds the embedding and text backends. Commands that only
	// inspect or queue executions skip them.
	services bool
}

// newApp loads configuration and wires dependencies in order: logging,
// telemetry, the relational store, shared services, the process registry,
// lifecycle events and finally the coordinator.
func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.ConfigFromSettings(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version), logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.store, err = store.Open(ctx, store.FromSettings(cfg.Database), logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	scrubber, err := secrets.New(secrets.Config{
		Disabled:      cfg.Secrets.Disabled,
		AllowlistPath: cfg.Secrets.AllowlistPath,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing secret scrubber: %w", err)
	}

	svcOpts := services.Options{Scrubber: scrubber}
	if opts.services {
		if err := a.initServices(ctx, &svcOpts); err != nil {
			return nil, err
		}
	}

	registry, err := builtin.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("registering processes: %w", err)
	}

	notifier, closeEvents, err := events.Connect(cfg.Events, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("connecting to event bus: %w", err)
	}
	a.closers = append(a.closers, func() error { closeEvents(); return nil })

	a.coordinator, err = execution.NewCoordinator(a.store, a.store, registry,
		execution.WithLogger(logger.Named("execution")),
		execution.WithServices(services.NewRegistry(svcOpts)),
		execution.WithNotifier(notifier),
	)
	if err != nil {
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}
	return a, nil
}

// initServices builds the vector store, the embedding generator and the
// optional text generator. An unavailable embedding backend is logged and
// left unset; processes that need it fail with a clear message.
func (a *app) initServices(ctx context.Context, opts *services.Options) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	backend, err := vectorstore.NewBackendRegistry().New(ctx, cfg.VectorStore.Provider, vectorstore.BackendParams{
		Config: cfg.VectorStore,
		Logger: zl.Named("vectorstore"),
	})
	if err != nil {
		return fmt.Errorf("creating vector backend: %w", err)
	}
	shards, err := vectorstore.NewShards(cfg.VectorStore.Dimensions)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("configuring shards: %w", err)
	}
	policy, err := vectorstore.ParseDuplicatePolicy(cfg.VectorStore.DuplicatePolicy)
	if err != nil {
		_ = backend.Close()
		return err
	}
	vectors, err := vectorstore.NewStore(backend, a.store, shards,
		vectorstore.WithDuplicatePolicy(policy),
		vectorstore.WithLogger(zl.Named("vectorstore")))
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("creating vector store: %w", err)
	}
	a.closers = append(a.closers, vectors.Close)

	provider, err := embeddings.NewProviderRegistry().New(ctx, cfg.Embeddings.Provider, embeddings.ProviderParams{
		Config: cfg.Embeddings,
		Logger: zl.Named("embeddings"),
	})
	if err != nil {
		a.logger.Warn(ctx, "embedding backend unavailable, embedding processes will fail",
			zap.String("provider", cfg.Embeddings.Provider),
			zap.Error(err))
	} else {
		a.closers = append(a.closers, provider.Close)
		generator, err := embeddings.NewGenerator(provider, vectors,
			embeddings.WithRateLimit(cfg.Embeddings.RateLimit, cfg.Embeddings.Burst),
			embeddings.WithMetrics(embeddings.NewMetrics(a.telemetry.Meter("waypoint.embeddings"), zl)),
			embeddings.WithLogger(zl.Named("embeddings")))
		if err != nil {
			return fmt.Errorf("creating embedding generator: %w", err)
		}
		opts.Embeddings = generator
		a.logger.Info(ctx, "embeddings initialized",
			zap.String("provider", cfg.Embeddings.Provider),
			zap.String("model", provider.Model()),
			zap.Int("dimension", provider.Dimension()))
	}

	if cfg.LLM.Enabled {
		text, err := embeddings.NewTextGenerator(cfg.LLM)
		if err != nil {
			return fmt.Errorf("creating text generator: %w", err)
		}
		opts.Text = text
	}
	return nil
}

// Close releases dependencies in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
