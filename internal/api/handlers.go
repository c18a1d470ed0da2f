// Package api exposes task submission, status, waiting and pipeline runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/forgeq/internal/coordinator"
	"github.com/nadmax/forgeq/internal/dashboard"
	"github.com/nadmax/forgeq/internal/httputil"
	"github.com/nadmax/forgeq/internal/pipeline"
	"github.com/nadmax/forgeq/internal/repository"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

const (
	DefaultWaitTimeout = 30 * time.Second
	MaxWaitTimeout     = 10 * time.Minute
	maxBodyBytes       = 4 << 20
)

// TaskService is the coordinator surface used by the handlers.
type TaskService interface {
	Submit(ctx context.Context, category task.Category, payload task.Payload, priority task.TaskPriority) (string, error)
	GetStatus(ctx context.Context, taskID string) (*task.Record, error)
	Wait(ctx context.Context, taskID string, timeout time.Duration) (*task.Record, error)
	Records(ctx context.Context) ([]*task.Record, error)
	QueueDepth(ctx context.Context, category task.Category) (int, error)
}

type PipelineRunner interface {
	RunPipeline(ctx context.Context, input, description string) (*pipeline.Run, error)
}

type HistoryRepository interface {
	GetTaskStats(ctx context.Context, hours int) ([]repository.TaskStats, error)
	GetRecentRuns(ctx context.Context, limit int) ([]repository.RunSummary, error)
}

type Option func(*API)

func WithHistory(repo HistoryRepository) Option {
	return func(a *API) { a.history = repo }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

type API struct {
	tasks     TaskService
	pipelines PipelineRunner
	history   HistoryRepository
	logger    *zap.Logger
	mux       *http.ServeMux
}

type TaskRequest struct {
	Category string          `json:"category"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority"`
}

type TaskResponse struct {
	TaskID string `json:"task_id"`
}

type PipelineRequest struct {
	Input       string `json:"input"`
	Description string `json:"description"`
}

func NewAPI(tasks TaskService, pipelines PipelineRunner, opts ...Option) *API {
	api := &API{
		tasks:     tasks,
		pipelines: pipelines,
		logger:    zap.NewNop(),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(api)
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)
	a.mux.HandleFunc("/api/pipelines", a.handlePipelines)

	dash := dashboard.NewDashboard(a.tasks)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentTasks)

	a.mux.HandleFunc("/api/history/stats", a.handleHistoryStats)
	a.mux.HandleFunc("/api/history/runs", a.handleRecentRuns)

	a.mux.HandleFunc("/health", a.handleHealth)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	category, err := task.ParseCategory(req.Category)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	priority, err := task.ParsePriority(req.Priority)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := task.DecodePayload(category, req.Payload)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := a.tasks.Submit(r.Context(), category, payload, priority)
	if err != nil {
		a.writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, TaskResponse{TaskID: id})
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	records, err := a.tasks.Records(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	if c := r.URL.Query().Get("category"); c != "" {
		filtered := make([]*task.Record, 0, len(records))
		for _, rec := range records {
			if string(rec.Category) == c {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []*task.Record{}
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}

// handleTaskByID serves /api/tasks/{id} and /api/tasks/{id}/wait.
func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		a.getTask(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "wait":
		a.waitTask(w, r, parts[0])
	default:
		httputil.WriteJSONError(w, "Invalid endpoint", http.StatusNotFound)
	}
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	rec, err := a.tasks.GetStatus(r.Context(), taskID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (a *API) waitTask(w http.ResponseWriter, r *http.Request, taskID string) {
	timeout := DefaultWaitTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httputil.WriteJSONError(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = min(d, MaxWaitTimeout)
	}

	rec, err := a.tasks.Wait(r.Context(), taskID, timeout)
	if errors.Is(err, coordinator.ErrWaitTimeout) {
		httputil.WriteJSON(w, http.StatusAccepted, rec)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (a *API) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.pipelines == nil {
		httputil.WriteJSONError(w, "Pipelines not configured", http.StatusServiceUnavailable)
		return
	}

	var req PipelineRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	run, err := a.pipelines.RunPipeline(r.Context(), req.Input, req.Description)
	var stageErr *pipeline.StageError
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, run)
	case errors.As(err, &stageErr) && run != nil:
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, run)
	default:
		a.writeError(w, err)
	}
}

func (a *API) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.history == nil {
		httputil.WriteJSONError(w, "PostgreSQL not configured", http.StatusServiceUnavailable)
		return
	}

	hours := queryInt(r, "hours", 24)
	stats, err := a.history.GetTaskStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (a *API) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.history == nil {
		httputil.WriteJSONError(w, "PostgreSQL not configured", http.StatusServiceUnavailable)
		return
	}

	limit := queryInt(r, "limit", 20)
	runs, err := a.history.GetRecentRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() {
		if err := r.Body.Close(); err != nil {
			a.logger.Debug("failed to close request body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrInvalidSubmission):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, coordinator.ErrNotFound):
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		httputil.WriteJSONError(w, "Request canceled", http.StatusServiceUnavailable)
	default:
		a.logger.Error("request failed", zap.Error(err))
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
