// Package queue provides per-category priority queues. Urgent tasks are dequeued
// before normal ones; within a priority the order is FIFO.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/nadmax/forgeq/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	tasksKey    = "forgeq:tasks"
	sequenceKey = "forgeq:seq"
	queuePrefix = "forgeq:queue:"

	// Keeps priority bands apart in a float64 score while seq stays below 2^53.
	priorityBand = 1e15
)

type Queue interface {
	// Handle is the correlation handle recorded for t before it is enqueued.
	Handle(t *task.Task) string
	Enqueue(ctx context.Context, t *task.Task) error
	Dequeue(ctx context.Context, category task.Category) (*task.Task, error)
	Len(ctx context.Context, category task.Category) (int, error)
	Close() error
}

// DequeueError reports a task that was removed from its queue but could not be
// loaded. The task will not be delivered again.
type DequeueError struct {
	TaskID string
	Err    error
}

func (e *DequeueError) Error() string {
	return fmt.Sprintf("dequeue task %s: %v", e.TaskID, e.Err)
}

func (e *DequeueError) Unwrap() error {
	return e.Err
}

type Redis struct {
	client *redis.Client
}

func NewRedis(redisAddr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func queueKey(category task.Category) string {
	return queuePrefix + string(category)
}

func score(priority task.TaskPriority, seq int64) float64 {
	invertedPriority := float64(task.PriorityUrgent - priority)
	return invertedPriority*priorityBand + float64(seq)
}

func (q *Redis) Handle(t *task.Task) string {
	return queueKey(t.Category) + "/" + t.ID
}

func (q *Redis) Enqueue(ctx context.Context, t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	seq, err := q.client.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	key := queueKey(t.Category)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tasksKey, t.ID, taskJSON)
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  score(t.Priority, seq),
			Member: t.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", t.ID, err)
	}

	return nil
}

func (q *Redis) Dequeue(ctx context.Context, category task.Category) (*task.Task, error) {
	results, err := q.client.ZPopMin(ctx, queueKey(category), 1).Result()
	if err != nil || len(results) == 0 {
		return nil, err
	}

	taskID, ok := results[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue member %v", results[0].Member)
	}

	taskJSON, err := q.client.HGet(ctx, tasksKey, taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &DequeueError{TaskID: taskID, Err: errors.New("missing from task table")}
	}
	if err != nil {
		return nil, &DequeueError{TaskID: taskID, Err: err}
	}

	if err := q.client.HDel(ctx, tasksKey, taskID).Err(); err != nil {
		return nil, &DequeueError{TaskID: taskID, Err: err}
	}

	t, err := task.TaskFromJSON(taskJSON)
	if err != nil {
		return nil, &DequeueError{TaskID: taskID, Err: err}
	}
	return t, nil
}

func (q *Redis) Len(ctx context.Context, category task.Category) (int, error) {
	n, err := q.client.ZCard(ctx, queueKey(category)).Result()
	return int(n), err
}

func (q *Redis) Close() error {
	return q.client.Close()
}
