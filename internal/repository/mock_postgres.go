package repository

import (
	"context"
	"strconv"
	"sync"

	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/pipeline"
)

// MockRepository is an in-memory Repository for tests and single-process runs
// without PostgreSQL.
type MockRepository struct {
	mu              sync.Mutex
	IndexCalls      []IndexCall
	ArchivedRuns    []*pipeline.Run
	Events          []notify.TaskEvent
	TaskStats       []TaskStats
	RecentRuns      []RunSummary
	EnsureSchemaErr error
	IndexError      error
	ArchiveRunError error
	PublishError    error
	GetStatsError   error
	GetRunsError    error
	nextID          int
}

type IndexCall struct {
	Artifact string
	Metadata map[string]string
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		TaskStats:  make([]TaskStats, 0),
		RecentRuns: make([]RunSummary, 0),
	}
}

func (m *MockRepository) EnsureSchema(context.Context) error {
	return m.EnsureSchemaErr
}

func (m *MockRepository) Index(_ context.Context, artifact string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IndexCalls = append(m.IndexCalls, IndexCall{Artifact: artifact, Metadata: metadata})
	if m.IndexError != nil {
		return "", m.IndexError
	}
	m.nextID++
	return strconv.Itoa(m.nextID), nil
}

func (m *MockRepository) ArchiveRun(_ context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ArchiveRunError != nil {
		return m.ArchiveRunError
	}
	m.ArchivedRuns = append(m.ArchivedRuns, run)
	m.RecentRuns = append([]RunSummary{summarize(run)}, m.RecentRuns...)
	return nil
}

func (m *MockRepository) Publish(_ context.Context, event notify.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishError != nil {
		return m.PublishError
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockRepository) GetTaskStats(context.Context, int) ([]TaskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetStatsError != nil {
		return nil, m.GetStatsError
	}
	return append([]TaskStats(nil), m.TaskStats...), nil
}

func (m *MockRepository) GetRecentRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetRunsError != nil {
		return nil, m.GetRunsError
	}
	runs := m.RecentRuns
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return append([]RunSummary(nil), runs...), nil
}

func (m *MockRepository) Close() error {
	return nil
}

func summarize(run *pipeline.Run) RunSummary {
	s := RunSummary{
		RunID:       run.ID,
		State:       string(run.State),
		FailedStage: run.FailedStage,
		Score:       run.Score,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.FinishedAt != nil {
		ms := run.Duration().Milliseconds()
		s.DurationMs = &ms
	}
	return s
}
