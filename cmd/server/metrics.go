package main

import (
	"context"
	"time"

	"github.com/nadmax/forgeq/internal/metrics"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

type metricsSource interface {
	Records(ctx context.Context) ([]*task.Record, error)
	QueueDepth(ctx context.Context, category task.Category) (int, error)
}

func startMetricsCollector(ctx context.Context, src metricsSource, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateQueueMetrics(ctx, src, logger)
		}
	}
}

func updateQueueMetrics(ctx context.Context, src metricsSource, logger *zap.Logger) {
	records, err := src.Records(ctx)
	if err != nil {
		logger.Warn("failed to list task records for metrics", zap.Error(err))
		return
	}

	byState := make(map[task.State]map[task.Category]int)
	for _, rec := range records {
		if byState[rec.State] == nil {
			byState[rec.State] = make(map[task.Category]int)
		}
		byState[rec.State][rec.Category]++
	}
	metrics.UpdateTaskGauges(byState)

	for _, c := range task.Categories() {
		depth, err := src.QueueDepth(ctx, c)
		if err != nil {
			logger.Warn("failed to read queue depth", zap.String("category", string(c)), zap.Error(err))
			continue
		}
		metrics.UpdateQueueDepth(c, depth)
	}
}
