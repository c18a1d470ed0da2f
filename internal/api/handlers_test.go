package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/forgeq/internal/coordinator"
	"github.com/nadmax/forgeq/internal/pipeline"
	"github.com/nadmax/forgeq/internal/queue"
	"github.com/nadmax/forgeq/internal/repository"
	"github.com/nadmax/forgeq/internal/store"
	"github.com/nadmax/forgeq/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	run *pipeline.Run
	err error

	input       string
	description string
}

func (f *fakeRunner) RunPipeline(_ context.Context, input, description string) (*pipeline.Run, error) {
	f.input = input
	f.description = description
	return f.run, f.err
}

func setupTestAPI(t *testing.T, opts ...Option) (*API, *coordinator.Coordinator, *store.Memory) {
	s := store.NewMemory()
	c := coordinator.New(queue.NewMemory(), s, coordinator.WithPollInterval(10*time.Millisecond))
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewAPI(c, &fakeRunner{}, opts...), c, s
}

func submit(t *testing.T, c *coordinator.Coordinator) string {
	t.Helper()
	id, err := c.Submit(context.Background(), task.CategoryValidation, task.ValidationPayload{Artifact: "print(1)"}, task.PriorityNormal)
	require.NoError(t, err)
	return id
}

func postJSON(t *testing.T, api *API, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)
	return w
}

func TestCreateTask(t *testing.T) {
	api, c, _ := setupTestAPI(t)

	w := postJSON(t, api, "/api/tasks", TaskRequest{
		Category: "generation",
		Payload:  json.RawMessage(`{"mode":"create","prompt":"write a parser"}`),
		Priority: "urgent",
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)

	rec, err := c.GetStatus(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, rec.State)
	assert.Equal(t, task.CategoryGeneration, rec.Category)

	depth, err := c.QueueDepth(context.Background(), task.CategoryGeneration)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCreateTask_InvalidJSON(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{invalid"))
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid JSON")
}

func TestCreateTask_Rejected(t *testing.T) {
	tests := []struct {
		name string
		req  TaskRequest
		want string
	}{
		{"unknown category", TaskRequest{Category: "deploy", Payload: json.RawMessage(`{}`)}, "unknown category"},
		{"unknown priority", TaskRequest{Category: "indexing", Payload: json.RawMessage(`{"artifact":"x"}`), Priority: "asap"}, "unknown priority"},
		{"missing payload", TaskRequest{Category: "indexing"}, "payload is required"},
		{"unknown field", TaskRequest{Category: "indexing", Payload: json.RawMessage(`{"artifact":"x","extra":1}`)}, "malformed indexing payload"},
		{"invalid payload", TaskRequest{Category: "validation", Payload: json.RawMessage(`{"artifact":""}`)}, "invalid submission"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, c, _ := setupTestAPI(t)

			w := postJSON(t, api, "/api/tasks", tt.req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var errResp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
			assert.Contains(t, errResp["error"], tt.want)

			records, err := c.Records(context.Background())
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestListTasks(t *testing.T) {
	api, c, _ := setupTestAPI(t)
	submit(t, c)
	_, err := c.Submit(context.Background(), task.CategoryIndexing, task.IndexingPayload{Artifact: "x"}, task.PriorityNormal)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var records []task.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	w = httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks?category=indexing", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, task.CategoryIndexing, records[0].Category)
}

func TestListTasks_Empty(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetTaskByID(t *testing.T) {
	api, c, _ := setupTestAPI(t)
	id := submit(t, c)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var rec task.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, id, rec.TaskID)
	assert.Equal(t, task.StatePending, rec.State)
}

func TestGetTaskByID_NotFound(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	for _, path := range []string{"/api/tasks/nonexistent", "/api/tasks/nonexistent/wait?timeout=10ms"} {
		w := httptest.NewRecorder()
		api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestHandleTaskByID_BadPaths(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/abc/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/tasks"},
		{http.MethodPost, "/api/tasks/abc"},
		{http.MethodGet, "/api/pipelines"},
		{http.MethodPost, "/api/history/stats"},
		{http.MethodPost, "/api/history/runs"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		api.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, tt.method+" "+tt.path)
	}
}

func TestWaitTask_Completed(t *testing.T) {
	api, c, s := setupTestAPI(t)
	id := submit(t, c)
	require.NoError(t, s.Complete(context.Background(), id, json.RawMessage(`{"score":88}`)))

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id+"/wait?timeout=1s", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var rec task.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, task.StateSucceeded, rec.State)
	assert.JSONEq(t, `{"score":88}`, string(rec.Result))
}

func TestWaitTask_CompletesWhileWaiting(t *testing.T) {
	api, c, s := setupTestAPI(t)
	id := submit(t, c)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = s.Fail(context.Background(), id, "review failed")
	}()

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id+"/wait?timeout=5s", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var rec task.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, task.StateFailed, rec.State)
	assert.Equal(t, "review failed", rec.Error)
}

func TestWaitTask_Timeout(t *testing.T) {
	api, c, _ := setupTestAPI(t)
	id := submit(t, c)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id+"/wait?timeout=50ms", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var rec task.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, id, rec.TaskID)
	assert.Equal(t, task.StatePending, rec.State)

	status, err := c.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, status.State)
}

func TestWaitTask_InvalidTimeout(t *testing.T) {
	api, c, _ := setupTestAPI(t)
	id := submit(t, c)

	for _, raw := range []string{"soon", "-1s", "0s"} {
		w := httptest.NewRecorder()
		api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id+"/wait?timeout="+raw, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestRunPipeline_Completed(t *testing.T) {
	runner := &fakeRunner{run: &pipeline.Run{ID: "run-1", State: pipeline.StateCompleted, Score: 92}}
	s := store.NewMemory()
	api := NewAPI(coordinator.New(queue.NewMemory(), s), runner)

	w := postJSON(t, api, "/api/pipelines", PipelineRequest{Input: "a csv parser", Description: "python"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a csv parser", runner.input)
	assert.Equal(t, "python", runner.description)

	var run pipeline.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, pipeline.StateCompleted, run.State)
	assert.Equal(t, 92, run.Score)
}

func TestRunPipeline_StageFailed(t *testing.T) {
	runner := &fakeRunner{
		run: &pipeline.Run{ID: "run-2", State: pipeline.StateFailedAtGeneration, FailedStage: pipeline.StageGeneration},
		err: &pipeline.StageError{Stage: pipeline.StageGeneration, Err: errors.New("model unavailable")},
	}
	api := NewAPI(coordinator.New(queue.NewMemory(), store.NewMemory()), runner)

	w := postJSON(t, api, "/api/pipelines", PipelineRequest{Input: "x"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var run pipeline.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, pipeline.StateFailedAtGeneration, run.State)
	assert.Equal(t, pipeline.StageGeneration, run.FailedStage)
}

func TestRunPipeline_EmptyInput(t *testing.T) {
	c := coordinator.New(queue.NewMemory(), store.NewMemory())
	api := NewAPI(c, pipeline.New(c))

	w := postJSON(t, api, "/api/pipelines", PipelineRequest{Input: "  "})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pipeline input is required")
}

func TestRunPipeline_NotConfigured(t *testing.T) {
	api := NewAPI(coordinator.New(queue.NewMemory(), store.NewMemory()), nil)

	w := postJSON(t, api, "/api/pipelines", PipelineRequest{Input: "x"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoryStatsWithMockRepo(t *testing.T) {
	mockRepo := repository.NewMockRepository()
	mockRepo.TaskStats = []repository.TaskStats{
		{Category: "validation", State: "succeeded", Count: 10},
	}
	api, _, _ := setupTestAPI(t, WithHistory(mockRepo))

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/stats?hours=6", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var stats []repository.TaskStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "validation", stats[0].Category)
	assert.Equal(t, 10, stats[0].Count)
}

func TestHistoryWithoutRepo(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	for _, path := range []string{"/api/history/stats", "/api/history/runs"} {
		w := httptest.NewRecorder()
		api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var errResp map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
		assert.Contains(t, errResp["error"], "PostgreSQL not configured")
	}
}

func TestHandleRecentRuns(t *testing.T) {
	mockRepo := repository.NewMockRepository()
	for range 3 {
		finished := time.Now()
		require.NoError(t, mockRepo.ArchiveRun(context.Background(), &pipeline.Run{
			ID:         "run",
			State:      pipeline.StateCompleted,
			StartedAt:  finished.Add(-time.Second),
			FinishedAt: &finished,
		}))
	}
	api, _, _ := setupTestAPI(t, WithHistory(mockRepo))

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/runs?limit=2", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var runs []repository.RunSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	assert.Len(t, runs, 2)

	w = httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/runs?limit=invalid", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRecentRuns_RepositoryError(t *testing.T) {
	mockRepo := repository.NewMockRepository()
	mockRepo.GetRunsError = errors.New("database connection failed")
	api, _, _ := setupTestAPI(t, WithHistory(mockRepo))

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/runs", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var errResp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Contains(t, errResp["error"], "database connection failed")
}

func TestDashboardRoutes(t *testing.T) {
	api, c, _ := setupTestAPI(t)
	submit(t, c)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_tasks":1`)

	w = httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/history", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRedisBackedAPI(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	q, err := queue.NewRedis(mr.Addr())
	require.NoError(t, err)
	s, err := store.NewRedis(mr.Addr())
	require.NoError(t, err)
	defer func() {
		_ = q.Close()
		_ = s.Close()
	}()

	api := NewAPI(coordinator.New(q, s), nil)

	w := postJSON(t, api, "/api/tasks", TaskRequest{
		Category: "validation",
		Payload:  json.RawMessage(`{"artifact":"x = 1","language":"python"}`),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = httptest.NewRecorder()
	api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+resp.TaskID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"pending"`)
}
