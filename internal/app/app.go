// Package app assembles the shared runtime pieces used by both binaries.
package app

import (
	"context"
	"fmt"

	"github.com/nadmax/forgeq/internal/config"
	"github.com/nadmax/forgeq/internal/llm"
	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/queue"
	"github.com/nadmax/forgeq/internal/repository"
	"github.com/nadmax/forgeq/internal/store"
	"github.com/nadmax/forgeq/internal/task"
	"github.com/nadmax/forgeq/internal/worker"
	"github.com/nadmax/forgeq/internal/worker/handlers"
	"go.uber.org/zap"
)

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Backends opens the queue and status store selected by cfg.Backend.
func Backends(cfg *config.Config) (queue.Queue, store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return queue.NewMemory(), store.NewMemory(), nil
	case config.BackendRedis:
		q, err := queue.NewRedis(cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			_ = q.Close()
			return nil, nil, err
		}
		return q, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Repository connects to PostgreSQL when a DSN is configured. Without one it
// returns an in-memory repository and persistent is false.
func Repository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repo repository.Repository, persistent bool, err error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set, artifacts and run history are kept in memory")
		return repository.NewMockRepository(), false, nil
	}

	pg, err := repository.NewPostgres(cfg.PostgresDSN, logger.Named("postgres"))
	if err != nil {
		return nil, false, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, false, err
	}
	return pg, true, nil
}

// Brokers opens the configured task event brokers. The caller owns the returned
// publishers and closes them on shutdown.
func Brokers(cfg *config.Config, logger *zap.Logger) (notify.Multi, error) {
	var pubs notify.Multi

	if cfg.AMQPURL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			_ = pubs.Close()
			return nil, err
		}
		logger.Info("publishing task events to AMQP", zap.String("queue", cfg.AMQPQueue))
		pubs = append(pubs, p)
	}

	if len(cfg.KafkaBrokers) > 0 {
		p, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			_ = pubs.Close()
			return nil, err
		}
		logger.Info("publishing task events to Kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
		pubs = append(pubs, p)
	}

	return pubs, nil
}

func EmailNotifier(cfg *config.Config) *notify.EmailNotifier {
	return notify.NewEmailNotifier(notify.EmailConfig{
		APIKey:      cfg.EmailAPIKey,
		FromName:    cfg.FromName,
		FromAddress: cfg.FromAddress,
		To:          cfg.NotifyEmail,
	})
}

func Assistant(cfg *config.Config) *llm.Assistant {
	return llm.NewAssistant(llm.NewHTTPClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		APIKey:  cfg.LLMAPIKey,
		Timeout: cfg.LLMTimeout,
	}))
}

// NewPool registers the three stage handlers on a pool sized from cfg.
func NewPool(name string, cfg *config.Config, q queue.Queue, s store.Store, assistant *llm.Assistant, indexer handlers.Indexer, logger *zap.Logger) (*worker.Pool, map[task.Category]int) {
	pool := worker.NewPool(name, q, s)
	pool.SetLogger(logger)
	pool.SetPollInterval(cfg.WorkerPollInterval)

	pool.RegisterHandler(task.CategoryGeneration, handlers.NewGenerationHandler(assistant, logger).Handle)
	pool.RegisterHandler(task.CategoryValidation, handlers.NewValidationHandler(assistant, logger).Handle)
	pool.RegisterHandler(task.CategoryIndexing, handlers.NewIndexingHandler(indexer).Handle)

	return pool, Concurrency(cfg)
}

func Concurrency(cfg *config.Config) map[task.Category]int {
	return map[task.Category]int{
		task.CategoryGeneration: cfg.GenerationWorkers,
		task.CategoryValidation: cfg.ValidationWorkers,
		task.CategoryIndexing:   cfg.IndexingWorkers,
	}
}
