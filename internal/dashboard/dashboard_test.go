package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/forgeq/internal/coordinator"
	"github.com/nadmax/forgeq/internal/queue"
	"github.com/nadmax/forgeq/internal/store"
	"github.com/nadmax/forgeq/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDashboard(t *testing.T) (*Dashboard, *coordinator.Coordinator, store.Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	q, err := queue.NewRedis(mr.Addr())
	require.NoError(t, err)
	s, err := store.NewRedis(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Close()
		_ = s.Close()
	})

	c := coordinator.New(q, s)
	return NewDashboard(c), c, s, mr
}

func TestNewDashboard(t *testing.T) {
	dash, _, _, mr := setupTestDashboard(t)
	defer mr.Close()

	assert.NotNil(t, dash)
	assert.NotNil(t, dash.source)
}

func TestGetStats_Empty(t *testing.T) {
	dash, _, _, mr := setupTestDashboard(t)
	defer mr.Close()

	req := httptest.NewRequest("GET", "/api/dashboard/stats", nil)
	w := httptest.NewRecorder()

	dash.GetStats(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.Equal(t, 0, stats.TotalTasks)
	assert.Equal(t, 0, stats.PendingTasks)
	assert.Equal(t, 0, stats.SucceededTasks)
	assert.Equal(t, 0, stats.FailedTasks)
	assert.Equal(t, "N/A", stats.AverageDuration)
	assert.Equal(t, 0, stats.QueueDepth["generation"])
	assert.NotZero(t, stats.LastUpdated)
}

func TestGetStats_WithTasks(t *testing.T) {
	dash, c, s, mr := setupTestDashboard(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := c.Submit(ctx, task.CategoryGeneration, task.GenerationPayload{Mode: task.ModeCreate, Prompt: "a"}, task.PriorityNormal)
	require.NoError(t, err)

	succeeded, err := c.Submit(ctx, task.CategoryValidation, task.ValidationPayload{Artifact: "x"}, task.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, succeeded, []byte(`{"score":90}`)))

	failed, err := c.Submit(ctx, task.CategoryValidation, task.ValidationPayload{Artifact: "y"}, task.PriorityUrgent)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, failed, "review failed"))

	w := httptest.NewRecorder()
	dash.GetStats(w, httptest.NewRequest("GET", "/api/dashboard/stats", nil))

	require.Equal(t, 200, w.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.Equal(t, 3, stats.TotalTasks)
	assert.Equal(t, 1, stats.PendingTasks)
	assert.Equal(t, 1, stats.SucceededTasks)
	assert.Equal(t, 1, stats.FailedTasks)
	assert.Equal(t, 1, stats.TasksByCategory["generation"])
	assert.Equal(t, 2, stats.TasksByCategory["validation"])
	assert.Equal(t, 1, stats.QueueDepth["generation"])
	assert.Equal(t, 2, stats.QueueDepth["validation"])
	assert.NotEqual(t, "N/A", stats.AverageDuration)
}

type failingSource struct{}

func (failingSource) Records(context.Context) ([]*task.Record, error) {
	return nil, errors.New("store unavailable")
}

func (failingSource) QueueDepth(context.Context, task.Category) (int, error) {
	return 0, nil
}

func TestGetStats_SourceError(t *testing.T) {
	dash := NewDashboard(failingSource{})

	w := httptest.NewRecorder()
	dash.GetStats(w, httptest.NewRequest("GET", "/api/dashboard/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "store unavailable")
}

type staticSource []*task.Record

func (s staticSource) Records(context.Context) ([]*task.Record, error) { return s, nil }

func (staticSource) QueueDepth(context.Context, task.Category) (int, error) { return 0, nil }

func TestGetRecentTasks(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)

	dash := NewDashboard(staticSource{
		{TaskID: "pending", Category: task.CategoryGeneration, State: task.StatePending, CreatedAt: now},
		{TaskID: "recent", Category: task.CategoryIndexing, State: task.StateFailed, Error: "db down", CreatedAt: recent.Add(-2 * time.Second), CompletedAt: &recent},
		{TaskID: "old", Category: task.CategoryIndexing, State: task.StateSucceeded, CreatedAt: old, CompletedAt: &old},
	})
	dash.now = func() time.Time { return now }

	w := httptest.NewRecorder()
	dash.GetRecentTasks(w, httptest.NewRequest("GET", "/api/dashboard/history", nil))

	require.Equal(t, 200, w.Code)
	var history []TaskHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "recent", history[0].TaskID)
	assert.Equal(t, "2s", history[0].Duration)
	assert.Equal(t, "db down", history[0].Error)
}
