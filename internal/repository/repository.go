package repository

import (
	"context"

	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/pipeline"
)

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Index(ctx context.Context, artifact string, metadata map[string]string) (string, error)
	ArchiveRun(ctx context.Context, run *pipeline.Run) error
	Publish(ctx context.Context, event notify.TaskEvent) error
	GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error)
	GetRecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}

var (
	_ Repository       = (*Postgres)(nil)
	_ Repository       = (*MockRepository)(nil)
	_ notify.Publisher = (*Postgres)(nil)
)
