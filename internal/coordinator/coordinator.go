// Package coordinator is the entry point for submitting tasks and observing their
// outcome. A Coordinator owns its queue and status store; construct one per process
// and pass it to every caller.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/forgeq/internal/metrics"
	"github.com/nadmax/forgeq/internal/queue"
	"github.com/nadmax/forgeq/internal/store"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

const DefaultPollInterval = time.Second

var (
	ErrNotFound    = store.ErrNotFound
	ErrWaitTimeout = errors.New("timed out waiting for task")
)

// WaitTimeoutError is returned by Wait when the caller stops waiting. The task is
// not affected and may still complete afterwards.
type WaitTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for task %s", e.Timeout, e.TaskID)
}

func (e *WaitTimeoutError) Unwrap() error {
	return ErrWaitTimeout
}

type Option func(*Coordinator)

func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Coordinator struct {
	queue        queue.Queue
	store        store.Store
	pollInterval time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	terminal map[string]*task.Record
}

func New(q queue.Queue, s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:        q,
		store:        s,
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
		terminal:     make(map[string]*task.Record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates the payload, records the task as pending and enqueues it.
func (c *Coordinator) Submit(ctx context.Context, category task.Category, payload task.Payload, priority task.TaskPriority) (string, error) {
	t, err := task.NewTask(category, payload, priority)
	if err != nil {
		metrics.RecordTaskRejected(category)
		return "", err
	}

	handle := c.queue.Handle(t)
	if err := c.store.Create(ctx, task.NewPendingRecord(t, handle)); err != nil {
		return "", fmt.Errorf("failed to record task %s: %w", t.ID, err)
	}

	if err := c.queue.Enqueue(ctx, t); err != nil {
		if failErr := c.store.Fail(ctx, t.ID, "enqueue failed: "+err.Error()); failErr != nil {
			c.logger.Warn("failed to mark unqueued task as failed",
				zap.String("task_id", t.ID), zap.Error(failErr))
		}
		return "", fmt.Errorf("failed to enqueue task %s: %w", t.ID, err)
	}

	metrics.RecordTaskEnqueued(category, priority)
	c.logger.Debug("task submitted",
		zap.String("task_id", t.ID),
		zap.String("category", string(category)),
		zap.String("priority", priority.String()),
		zap.String("handle", handle),
	)

	return t.ID, nil
}

// GetStatus never blocks on workers. Terminal records are served from the local
// cache; pending ones are refreshed from the store.
func (c *Coordinator) GetStatus(ctx context.Context, taskID string) (*task.Record, error) {
	c.mu.RLock()
	cached, ok := c.terminal[taskID]
	c.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	rec, err := c.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if rec.State.Terminal() {
		c.mu.Lock()
		if existing, ok := c.terminal[taskID]; ok {
			rec = existing
		} else {
			c.terminal[taskID] = rec
		}
		c.mu.Unlock()
		return rec.Clone(), nil
	}

	return rec, nil
}

// Wait blocks until the task is terminal, the timeout elapses or ctx is done. On
// timeout it returns the last pending snapshot with a *WaitTimeoutError.
func (c *Coordinator) Wait(ctx context.Context, taskID string, timeout time.Duration) (*task.Record, error) {
	rec, err := c.GetStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := c.store.Done(waitCtx, taskID)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			done = nil
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return rec, ctx.Err()
			}
			metrics.RecordWaitTimeout(rec.Category)
			c.logger.Info("stopped waiting for task",
				zap.String("task_id", taskID),
				zap.Duration("timeout", timeout),
			)
			return rec, &WaitTimeoutError{TaskID: taskID, Timeout: timeout}
		}

		latest, err := c.GetStatus(waitCtx, taskID)
		if err != nil {
			if waitCtx.Err() != nil {
				continue
			}
			return rec, err
		}
		rec = latest
		if rec.State.Terminal() {
			return rec, nil
		}
	}
}

func (c *Coordinator) Records(ctx context.Context) ([]*task.Record, error) {
	return c.store.List(ctx)
}

func (c *Coordinator) QueueDepth(ctx context.Context, category task.Category) (int, error) {
	return c.queue.Len(ctx, category)
}
