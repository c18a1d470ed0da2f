// Package notify publishes task and pipeline lifecycle events to external systems.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nadmax/forgeq/internal/task"
)

// TaskEvent is emitted once per task when it reaches a terminal state.
type TaskEvent struct {
	TaskID      string        `json:"task_id"`
	Category    task.Category `json:"category"`
	State       task.State    `json:"state"`
	Error       string        `json:"error,omitempty"`
	WorkerID    string        `json:"worker_id,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

func (e TaskEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, event TaskEvent) error
	Close() error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event TaskEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
