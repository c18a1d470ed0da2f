package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nadmax/forgeq/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	recordPrefix = "forgeq:record:"
	recordsKey   = "forgeq:records"
	donePrefix   = "forgeq:done:"
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'category', ARGV[1], 'state', ARGV[2], 'handle', ARGV[3], 'created_at', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[5])
return 1
`)

// finishScript performs the single pending -> terminal transition.
var finishScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return -1
end
if state ~= 'pending' then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], ARGV[2], ARGV[3], 'completed_at', ARGV[4])
return 1
`)

// Redis keeps records in Redis so that workers in other processes can publish
// outcomes the coordinator reads lazily.
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

func recordKey(taskID string) string {
	return recordPrefix + taskID
}

func doneChannel(taskID string) string {
	return donePrefix + taskID
}

func (s *Redis) Create(ctx context.Context, rec *task.Record) error {
	created, err := createScript.Run(ctx, s.client,
		[]string{recordKey(rec.TaskID), recordsKey},
		string(rec.Category),
		string(rec.State),
		rec.Handle,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.TaskID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.TaskID, err)
	}
	if created == 0 {
		return ErrExists
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, taskID string) (*task.Record, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(taskID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return recordFromFields(taskID, fields)
}

func (s *Redis) Complete(ctx context.Context, taskID string, result json.RawMessage) error {
	return s.finish(ctx, taskID, task.StateSucceeded, "result", string(result))
}

func (s *Redis) Fail(ctx context.Context, taskID string, msg string) error {
	return s.finish(ctx, taskID, task.StateFailed, "error", msg)
}

func (s *Redis) finish(ctx context.Context, taskID string, state task.State, field, value string) error {
	outcome, err := finishScript.Run(ctx, s.client,
		[]string{recordKey(taskID)},
		string(state),
		field,
		value,
		time.Now().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to finish record %s: %w", taskID, err)
	}

	switch outcome {
	case -1:
		return ErrNotFound
	case 0:
		return ErrTerminal
	}

	return s.client.Publish(ctx, doneChannel(taskID), string(state)).Err()
}

func (s *Redis) List(ctx context.Context) ([]*task.Record, error) {
	ids, err := s.client.SMembers(ctx, recordsKey).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]*task.Record, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromFields(ids[i], fields)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func (s *Redis) Done(ctx context.Context, taskID string) <-chan struct{} {
	done := make(chan struct{})
	pubsub := s.client.Subscribe(ctx, doneChannel(taskID))

	go func() {
		defer func() { _ = pubsub.Close() }()

		if _, err := pubsub.Receive(ctx); err != nil {
			return
		}

		// The transition may have happened before the subscription was live.
		state, err := s.client.HGet(ctx, recordKey(taskID), "state").Result()
		if err == nil && task.State(state).Terminal() {
			close(done)
			return
		}

		select {
		case <-pubsub.Channel():
			close(done)
		case <-ctx.Done():
		}
	}()

	return done
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func recordFromFields(taskID string, fields map[string]string) (*task.Record, error) {
	rec := &task.Record{
		TaskID:   taskID,
		Category: task.Category(fields["category"]),
		State:    task.State(fields["state"]),
		Error:    fields["error"],
		Handle:   fields["handle"],
	}

	if raw, ok := fields["result"]; ok {
		rec.Result = json.RawMessage(raw)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at for %s: %w", taskID, err)
	}
	rec.CreatedAt = createdAt

	if raw, ok := fields["completed_at"]; ok {
		completedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid completed_at for %s: %w", taskID, err)
		}
		rec.CompletedAt = &completedAt
	}

	return rec, nil
}
