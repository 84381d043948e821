package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"taskrails/internal/adapter/store"
	"taskrails/internal/infra/config"
	"taskrails/internal/infra/logger"
	"taskrails/internal/infra/tracer"
	"taskrails/internal/usecase/dispatch"
	"taskrails/internal/usecase/eventbus"
	"taskrails/internal/usecase/hub"
	"taskrails/internal/usecase/state"
)

// app holds the in-process core shared by serve and stdio.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *eventbus.Bus
	state      *state.Manager
	hub        *hub.Hub
	db         *store.SQLiteTaskStore
	tasks      *store.BreakerStore
	dispatcher *dispatch.Dispatcher

	closers []func(context.Context) error
}

type appOptions struct {
	// forceStderr keeps stdout free for protocol traffic.
	forceStderr bool
	// logWriter, when set, replaces the configured log output.
	logWriter io.Writer
}

func newApp(ctx context.Context, cfgPath string, opts appOptions) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.forceStderr && cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}

	a := &app{cfg: cfg}

	if opts.logWriter != nil {
		a.logger = logger.NewWithWriter(opts.logWriter, cfg.Logger.Level, "text")
	} else {
		log, closeLog, err := logger.New(cfg.Logger)
		if err != nil {
			return nil, err
		}
		a.logger = log
		a.closers = append(a.closers, func(context.Context) error { return closeLog() })
	}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer, version)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("setup tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	dbPath := cfg.ResolvePath(cfg.Store.Path)
	db, err := store.NewSQLiteTaskStore(dbPath)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open task store: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	a.tasks = store.WithBreaker(db, store.BreakerConfig{
		MaxFailures: cfg.Store.BreakerFailures,
		Timeout:     cfg.Store.BreakerTimeout,
	}, a.logger)

	a.bus = eventbus.New(cfg.Bus.Capacity, a.logger)
	a.closers = append(a.closers, func(context.Context) error { a.bus.Close(); return nil })
	a.state = state.NewManager(a.bus, a.logger)
	a.hub = hub.New(a.logger,
		hub.WithPublisher(a.bus),
		hub.WithDefaultLimits(cfg.Hub.PeekLimit, cfg.Hub.ResultsLimit),
	)

	a.dispatcher, err = dispatch.New(dispatch.Config{Version: version}, a.state, a.tasks, a.bus, a.logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.logger.Debug("core ready", "workspace", cfg.Workspace, "store", dbPath)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
