package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/careloop/notedigest/internal/api"
	"github.com/careloop/notedigest/internal/config"
	"github.com/careloop/notedigest/internal/job"
	"github.com/careloop/notedigest/internal/llm"
	"github.com/careloop/notedigest/internal/notify"
	"github.com/careloop/notedigest/internal/pipeline"
	"github.com/careloop/notedigest/internal/platform/gemini"
	"github.com/careloop/notedigest/internal/platform/postgres"
	"github.com/careloop/notedigest/internal/ratelimit"
	"github.com/careloop/notedigest/internal/usage"
)

// application holds the wired components and owns their lifecycle.
type application struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	manager *job.Manager
	tracker *usage.Tracker
	server  *http.Server
}

// newApplication wires every component from configuration: repository,
// rate limiter, usage tracker, model caller, pipeline, job manager and
// HTTP server.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	noteStore := postgres.NewNoteStore(db, cfg.Processing.BulkBatchSize)
	usageStore := postgres.NewUsageStore(db, cfg.Processing.BulkBatchSize)

	limiter := ratelimit.New(cfg.LLM.RequestsPerSecond, cfg.LLM.BurstCapacity)

	prices := usage.DefaultPriceTable()
	if cfg.LLM.PriceTablePath != "" {
		prices, err = usage.LoadPriceTable(cfg.LLM.PriceTablePath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load price table: %w", err)
		}
	}
	tracker := usage.NewTracker(usageStore, prices, cfg.Processing.BulkBatchSize, logger)

	invoker, err := gemini.NewInvoker(ctx, logger, cfg.LLM)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create model invoker: %w", err)
	}

	caller := llm.NewCaller(invoker, limiter, tracker, llm.CallerConfig{
		ModelID:    cfg.LLM.ModelID,
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  cfg.LLM.RetryBaseDelay(),
	}, logger)

	notifier := notify.NewClient(cfg.Notify.Endpoint, cfg.Notify.Timeout(), logger)

	processor := pipeline.NewProcessor(noteStore, caller, tracker, notifier, pipeline.Config{
		PreviousVisits:  cfg.Processing.PreviousVisits,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
	}, logger)

	manager := job.NewManager(processor, job.Config{
		Workers:         cfg.Processing.Workers,
		QueueSize:       cfg.Processing.QueueSize,
		JobTimeout:      cfg.Processing.JobTimeout(),
		RetentionPeriod: cfg.Processing.JobRetention(),
	}, logger)

	router := api.NewRouter(
		api.NewNoteHandler(manager),
		api.NewJobHandler(manager),
		api.NewStatsHandler(manager, limiter, tracker),
		db.PingContext,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		manager: manager,
		tracker: tracker,
		server:  server,
	}, nil
}

// run starts the worker pool and serves HTTP until the context is
// cancelled, then drains.
func (a *application) run(ctx context.Context) error {
	// Workers run detached from the signal context so a SIGTERM drains
	// in-flight jobs instead of interrupting them.
	a.manager.Start(context.WithoutCancel(ctx))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	return a.shutdown()
}

// shutdown drains in order: stop accepting HTTP, drain the worker
// pool, flush pending usage records, close the database.
func (a *application) shutdown() error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown incomplete", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.cfg.Processing.JobTimeout())
	defer cancelDrain()
	if err := a.manager.Shutdown(drainCtx); err != nil {
		a.logger.Warn("worker pool drain incomplete", "error", err)
	}

	a.tracker.Flush(shutdownCtx)

	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}
