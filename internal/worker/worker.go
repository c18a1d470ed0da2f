// Package worker provides the background processors that drain category queues
// and write each task's terminal outcome to the status store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/forgeq/internal/metrics"
	"github.com/nadmax/forgeq/internal/notify"
	"github.com/nadmax/forgeq/internal/queue"
	"github.com/nadmax/forgeq/internal/store"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

const DefaultPollInterval = 100 * time.Millisecond

// TaskHandler executes one task. The returned value is stored as the task result
// after JSON encoding; a json.RawMessage is stored as is.
type TaskHandler func(ctx context.Context, t *task.Task) (any, error)

type Worker struct {
	id           string
	queue        queue.Queue
	store        store.Store
	handlers     map[task.Category]TaskHandler
	categories   []task.Category
	publisher    notify.Publisher
	logger       *zap.Logger
	stop         chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration
}

func NewWorker(id string, q queue.Queue, s store.Store) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		store:        s,
		handlers:     make(map[task.Category]TaskHandler),
		logger:       zap.NewNop(),
		stop:         make(chan struct{}),
		pollInterval: DefaultPollInterval,
	}
}

// RegisterHandler binds a handler and makes the worker poll that category.
func (w *Worker) RegisterHandler(category task.Category, handler TaskHandler) {
	if _, ok := w.handlers[category]; !ok {
		w.categories = append(w.categories, category)
	}
	w.handlers[category] = handler
}

func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

func (w *Worker) SetLogger(logger *zap.Logger) {
	if logger != nil {
		w.logger = logger.With(zap.String("worker_id", w.id))
	}
}

func (w *Worker) SetPublisher(p notify.Publisher) {
	w.publisher = p
}

// Start polls the registered categories until Stop is called or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("categories", len(w.categories)))
	for _, c := range w.categories {
		metrics.WorkerStarted(c)
	}
	defer func() {
		for _, c := range w.categories {
			metrics.WorkerStopped(c)
		}
		w.logger.Info("worker stopped")
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !w.pollOnce(ctx) {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// pollOnce processes at most one task and reports whether it found one.
func (w *Worker) pollOnce(ctx context.Context) bool {
	for _, c := range w.categories {
		t, err := w.queue.Dequeue(ctx, c)
		if err != nil {
			w.dequeueFailed(ctx, c, err)
			continue
		}
		if t == nil {
			continue
		}
		w.processTask(ctx, t)
		return true
	}
	return false
}

// dequeueFailed fails the record of a task that left its queue undelivered so
// waiters do not block on it forever.
func (w *Worker) dequeueFailed(ctx context.Context, category task.Category, err error) {
	var dqErr *queue.DequeueError
	if !errors.As(err, &dqErr) {
		if ctx.Err() == nil {
			w.logger.Warn("dequeue failed", zap.String("category", string(category)), zap.Error(err))
		}
		return
	}

	logger := w.logger.With(zap.String("task_id", dqErr.TaskID), zap.String("category", string(category)))
	logger.Error("dropping undeliverable task", zap.Error(dqErr.Err))
	if err := w.store.Fail(context.WithoutCancel(ctx), dqErr.TaskID, "dequeue failed: "+dqErr.Err.Error()); err != nil {
		w.logWriteError(logger, err)
		return
	}
	metrics.RecordTaskFailed(category, 0)
}

func (w *Worker) processTask(ctx context.Context, t *task.Task) {
	logger := w.logger.With(zap.String("task_id", t.ID), zap.String("category", string(t.Category)))
	logger.Debug("processing task")
	metrics.RecordTaskWaitTime(t.Category, t.Priority, time.Since(t.CreatedAt))

	// Terminal writes must land even when the worker is shutting down.
	writeCtx := context.WithoutCancel(ctx)
	started := time.Now()

	handler, exists := w.handlers[t.Category]
	if !exists {
		w.fail(writeCtx, logger, t, fmt.Sprintf("no handler for category: %s", t.Category), started)
		return
	}

	result, err := runHandler(ctx, handler, t)
	if err != nil {
		w.fail(writeCtx, logger, t, err.Error(), started)
		return
	}

	encoded, err := encodeResult(result)
	if err != nil {
		w.fail(writeCtx, logger, t, "encode result: "+err.Error(), started)
		return
	}

	if err := w.store.Complete(writeCtx, t.ID, encoded); err != nil {
		w.logWriteError(logger, err)
		return
	}
	metrics.RecordTaskSucceeded(t.Category, time.Since(started))
	logger.Info("task succeeded", zap.Duration("duration", time.Since(started)))
	w.publish(writeCtx, logger, t, task.StateSucceeded, "")
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, t *task.Task, msg string, started time.Time) {
	if err := w.store.Fail(ctx, t.ID, msg); err != nil {
		w.logWriteError(logger, err)
		return
	}
	metrics.RecordTaskFailed(t.Category, time.Since(started))
	logger.Warn("task failed", zap.String("error", msg))
	w.publish(ctx, logger, t, task.StateFailed, msg)
}

func (w *Worker) logWriteError(logger *zap.Logger, err error) {
	if errors.Is(err, store.ErrTerminal) {
		logger.Debug("task already terminal")
		return
	}
	logger.Error("failed to write task outcome", zap.Error(err))
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, t *task.Task, state task.State, msg string) {
	if w.publisher == nil {
		return
	}
	event := notify.TaskEvent{
		TaskID:      t.ID,
		Category:    t.Category,
		State:       state,
		Error:       msg,
		WorkerID:    w.id,
		CompletedAt: time.Now().UTC(),
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish task event", zap.Error(err))
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func runHandler(ctx context.Context, handler TaskHandler, t *task.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, t)
}

func encodeResult(result any) (json.RawMessage, error) {
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(result)
}
