package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/forgeq/internal/task"
)

type entry struct {
	record *task.Record
	done   chan struct{}
}

// Memory is a mutex-guarded status store for single-process deployments.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *Memory) Create(_ context.Context, rec *task.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.TaskID]; ok {
		return ErrExists
	}
	s.records[rec.TaskID] = &entry{
		record: rec.Clone(),
		done:   make(chan struct{}),
	}
	return nil
}

func (s *Memory) Get(_ context.Context, taskID string) (*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.record.Clone(), nil
}

func (s *Memory) Complete(_ context.Context, taskID string, result json.RawMessage) error {
	return s.finish(taskID, func(r *task.Record) {
		r.State = task.StateSucceeded
		r.Result = append(json.RawMessage(nil), result...)
	})
}

func (s *Memory) Fail(_ context.Context, taskID string, msg string) error {
	return s.finish(taskID, func(r *task.Record) {
		r.State = task.StateFailed
		r.Error = msg
	})
}

func (s *Memory) finish(taskID string, apply func(*task.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[taskID]
	if !ok {
		return ErrNotFound
	}
	if e.record.State.Terminal() {
		return ErrTerminal
	}

	apply(e.record)
	completedAt := s.now()
	e.record.CompletedAt = &completedAt
	close(e.done)
	return nil
}

func (s *Memory) List(_ context.Context) ([]*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Record, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e.record.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Memory) Done(_ context.Context, taskID string) <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[taskID]
	if !ok {
		return nil
	}
	return e.done
}

func (s *Memory) Close() error {
	return nil
}
