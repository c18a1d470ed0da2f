package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/forgeq/internal/api"
	"github.com/nadmax/forgeq/internal/app"
	"github.com/nadmax/forgeq/internal/config"
	"github.com/nadmax/forgeq/internal/coordinator"
	"github.com/nadmax/forgeq/internal/middleware"
	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, s, err := app.Backends(cfg)
	if err != nil {
		logger.Fatal("failed to open backends", zap.String("backend", cfg.Backend), zap.Error(err))
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn("failed to close queue", zap.Error(err))
		}
		if err := s.Close(); err != nil {
			logger.Warn("failed to close status store", zap.Error(err))
		}
	}()

	repo, persistent, err := app.Repository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close repository", zap.Error(err))
		}
	}()

	coord := coordinator.New(q, s,
		coordinator.WithPollInterval(cfg.PollInterval),
		coordinator.WithLogger(logger.Named("coordinator")),
	)

	if cfg.EmbeddedWorkers {
		brokers, err := app.Brokers(cfg, logger)
		if err != nil {
			logger.Fatal("failed to connect task event brokers", zap.Error(err))
		}
		defer func() {
			if err := brokers.Close(); err != nil {
				logger.Warn("failed to close task event brokers", zap.Error(err))
			}
		}()

		pool, concurrency := app.NewPool("embedded", cfg, q, s, app.Assistant(cfg), repo, logger.Named("worker"))
		pool.SetPublisher(append(notify.Multi{repo}, brokers...))
		if err := pool.Start(ctx, concurrency); err != nil {
			logger.Fatal("failed to start worker pool", zap.Error(err))
		}
		defer pool.Stop()
		logger.Info("embedded workers started", zap.Int("workers", pool.Size()))
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithStageTimeout(cfg.StageTimeout),
		pipeline.WithArchiver(repo),
		pipeline.WithLogger(logger.Named("pipeline")),
	}
	if cfg.EmailEnabled() {
		pipelineOpts = append(pipelineOpts, pipeline.WithNotifier(app.EmailNotifier(cfg)))
	}
	orchestrator := pipeline.New(coord, pipelineOpts...)

	apiOpts := []api.Option{api.WithLogger(logger.Named("api"))}
	if persistent {
		apiOpts = append(apiOpts, api.WithHistory(repo))
	}
	apiHandler := api.NewAPI(coord, orchestrator, apiOpts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", middleware.Chain(apiHandler,
		middleware.TraceID,
		middleware.Recovery(logger),
		middleware.Logging(logger.Named("http")),
		middleware.MetricsMiddleware,
	))

	go startMetricsCollector(ctx, coord, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// a pipeline request holds the connection for every stage
		WriteTimeout: 4*cfg.StageTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("backend", cfg.Backend),
			zap.Bool("postgres", persistent),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
