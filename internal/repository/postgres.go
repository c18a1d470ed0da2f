// Package repository provides PostgreSQL persistence for indexed artifacts,
// archived pipeline runs and terminal task history.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/pipeline"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS artifacts (
		id          BIGSERIAL PRIMARY KEY,
		content     TEXT NOT NULL,
		language    TEXT,
		metadata    JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id       TEXT PRIMARY KEY,
		input        TEXT NOT NULL,
		description  TEXT,
		state        TEXT NOT NULL,
		failed_stage TEXT,
		error        TEXT,
		score        INTEGER NOT NULL DEFAULT 0,
		artifact     TEXT,
		document_id  TEXT,
		stages       JSONB NOT NULL,
		task_ids     JSONB NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ,
		duration_ms  BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS task_history (
		task_id      TEXT PRIMARY KEY,
		category     TEXT NOT NULL,
		state        TEXT NOT NULL,
		error        TEXT,
		worker_id    TEXT,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
}

type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

type TaskStats struct {
	Category string `json:"category"`
	State    string `json:"state"`
	Count    int    `json:"count"`
}

type RunSummary struct {
	RunID       string     `json:"run_id"`
	State       string     `json:"state"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Score       int        `json:"score"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
}

func NewPostgres(connectionString string, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newPostgres(db, logger), nil
}

func newPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Index stores an artifact and returns its document ID.
func (r *Postgres) Index(ctx context.Context, artifact string, metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	md, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var language any
	if lang := metadata["language"]; lang != "" {
		language = lang
	}

	query := `
		INSERT INTO artifacts (content, language, metadata)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, artifact, language, md).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to index artifact: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (r *Postgres) ArchiveRun(ctx context.Context, run *pipeline.Run) error {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}
	taskIDs, err := json.Marshal(run.TaskIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal task ids: %w", err)
	}

	var finishedAt, durationMs any
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
		durationMs = run.Duration().Milliseconds()
	}

	query := `
		INSERT INTO pipeline_runs (
			run_id, input, description, state, failed_stage, error,
			score, artifact, document_id, stages, task_ids,
			started_at, finished_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			failed_stage = EXCLUDED.failed_stage,
			error = EXCLUDED.error,
			score = EXCLUDED.score,
			artifact = EXCLUDED.artifact,
			document_id = EXCLUDED.document_id,
			stages = EXCLUDED.stages,
			task_ids = EXCLUDED.task_ids,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.Input,
		nullString(run.Description),
		string(run.State),
		nullString(run.FailedStage),
		nullString(run.Error),
		run.Score,
		nullString(run.Artifact),
		nullString(run.DocumentID),
		stages,
		taskIDs,
		run.StartedAt,
		finishedAt,
		durationMs,
	)
	return err
}

// Publish records a terminal task event in task_history, so the repository can
// sit alongside the broker publishers.
func (r *Postgres) Publish(ctx context.Context, event notify.TaskEvent) error {
	query := `
		INSERT INTO task_history (task_id, category, state, error, worker_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		event.TaskID,
		string(event.Category),
		string(event.State),
		nullString(event.Error),
		nullString(event.WorkerID),
		event.CompletedAt,
	)
	return err
}

func (r *Postgres) GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error) {
	query := `
		SELECT category, state, COUNT(*) AS count
		FROM task_history
		WHERE completed_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY category, state
		ORDER BY category, state
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	stats := []TaskStats{}
	for rows.Next() {
		var s TaskStats
		if err := rows.Scan(&s.Category, &s.State, &s.Count); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *Postgres) GetRecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT run_id, state, COALESCE(failed_stage, ''), score,
		       started_at, finished_at, duration_ms
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	runs := []RunSummary{}
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(
			&s.RunID,
			&s.State,
			&s.FailedStage,
			&s.Score,
			&s.StartedAt,
			&s.FinishedAt,
			&s.DurationMs,
		); err != nil {
			return nil, err
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

func (r *Postgres) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.Warn("failed to close rows", zap.Error(err))
	}
}

func (r *Postgres) Close() error {
	return r.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
