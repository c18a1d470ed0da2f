// Package dashboard serves the monitoring views over task records and queue depth.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nadmax/forgeq/internal/httputil"
	"github.com/nadmax/forgeq/internal/task"
)

type Source interface {
	Records(ctx context.Context) ([]*task.Record, error)
	QueueDepth(ctx context.Context, category task.Category) (int, error)
}

type Dashboard struct {
	source Source
	now    func() time.Time
}

type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	PendingTasks    int            `json:"pending_tasks"`
	SucceededTasks  int            `json:"succeeded_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	TasksByCategory map[string]int `json:"tasks_by_category"`
	QueueDepth      map[string]int `json:"queue_depth"`
	AverageDuration string         `json:"average_duration"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID      string        `json:"task_id"`
	Category    task.Category `json:"category"`
	State       task.State    `json:"state"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at"`
	Duration    string        `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

func NewDashboard(source Source) *Dashboard {
	return &Dashboard{source: source, now: time.Now}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	records, err := d.source.Records(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := Stats{
		TotalTasks:      len(records),
		TasksByCategory: make(map[string]int),
		QueueDepth:      make(map[string]int),
		LastUpdated:     d.now(),
	}

	var total time.Duration
	finished := 0
	for _, rec := range records {
		switch rec.State {
		case task.StatePending:
			stats.PendingTasks++
		case task.StateSucceeded:
			stats.SucceededTasks++
		case task.StateFailed:
			stats.FailedTasks++
		}
		stats.TasksByCategory[string(rec.Category)]++

		if rec.CompletedAt != nil {
			total += rec.CompletedAt.Sub(rec.CreatedAt)
			finished++
		}
	}

	for _, c := range task.Categories() {
		depth, err := d.source.QueueDepth(r.Context(), c)
		if err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stats.QueueDepth[string(c)] = depth
	}

	if finished > 0 {
		stats.AverageDuration = (total / time.Duration(finished)).Round(time.Millisecond).String()
	} else {
		stats.AverageDuration = "N/A"
	}

	writeJSON(w, stats)
}

// GetRecentTasks lists tasks that reached a terminal state in the last 24 hours.
func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	records, err := d.source.Records(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cutoff := d.now().Add(-24 * time.Hour)
	history := []TaskHistory{}

	for _, rec := range records {
		if rec.CompletedAt == nil || rec.CompletedAt.Before(cutoff) {
			continue
		}

		history = append(history, TaskHistory{
			TaskID:      rec.TaskID,
			Category:    rec.Category,
			State:       rec.State,
			CreatedAt:   rec.CreatedAt,
			CompletedAt: rec.CompletedAt,
			Duration:    rec.CompletedAt.Sub(rec.CreatedAt).Round(time.Millisecond).String(),
			Error:       rec.Error,
		})
	}

	writeJSON(w, history)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		httputil.WriteJSONError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
