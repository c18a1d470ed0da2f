package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/forgeq/internal/app"
	"github.com/nadmax/forgeq/internal/config"
	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/repository"
	"go.uber.org/zap"
)

// A standalone worker only makes sense against shared Redis backends, and it
// indexes straight into PostgreSQL.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Backend != config.BackendRedis {
		log.Fatal("BACKEND=redis is required for standalone workers")
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}
	logger = logger.With(zap.String("pool", workerID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgres(cfg.PostgresDSN, logger.Named("postgres"))
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close Postgres repository", zap.Error(err))
		}
	}()
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	q, s, err := app.Backends(cfg)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn("failed to close worker queue", zap.Error(err))
		}
		if err := s.Close(); err != nil {
			logger.Warn("failed to close status store", zap.Error(err))
		}
	}()

	brokers, err := app.Brokers(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect task event brokers", zap.Error(err))
	}
	defer func() {
		if err := brokers.Close(); err != nil {
			logger.Warn("failed to close task event brokers", zap.Error(err))
		}
	}()

	pool, concurrency := app.NewPool(workerID, cfg, q, s, app.Assistant(cfg), repo, logger)
	pool.SetPublisher(append(notify.Multi{repo}, brokers...))
	if err := pool.Start(ctx, concurrency); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}
	logger.Info("worker pool started", zap.Int("workers", pool.Size()))

	<-ctx.Done()
	logger.Info("shutting down worker pool")
	pool.Stop()
}
