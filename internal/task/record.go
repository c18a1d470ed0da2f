package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Record is the status store entry for a task. Once State is terminal the record
// is never mutated again.
type Record struct {
	TaskID      string          `json:"task_id"`
	Category    Category        `json:"category"`
	State       State           `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Handle      string          `json:"handle,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func NewPendingRecord(t *Task, handle string) *Record {
	return &Record{
		TaskID:    t.ID,
		Category:  t.Category,
		State:     StatePending,
		Handle:    handle,
		CreatedAt: t.CreatedAt,
	}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func (r *Record) DecodeResult(v any) error {
	if r.State != StateSucceeded {
		return fmt.Errorf("task %s has no result in state %s", r.TaskID, r.State)
	}
	if len(r.Result) == 0 {
		return errors.New("empty result")
	}
	return json.Unmarshal(r.Result, v)
}
