// Package store holds task status records. Records move from pending to a terminal
// state exactly once; later terminal writes are rejected with ErrTerminal.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nadmax/forgeq/internal/task"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrTerminal = errors.New("task already terminal")
	ErrExists   = errors.New("task already exists")
)

type Store interface {
	Create(ctx context.Context, rec *task.Record) error
	Get(ctx context.Context, taskID string) (*task.Record, error)
	Complete(ctx context.Context, taskID string, result json.RawMessage) error
	Fail(ctx context.Context, taskID string, msg string) error
	List(ctx context.Context) ([]*task.Record, error)
	// Done returns a channel closed once the record is terminal. The channel for
	// an unknown task never closes.
	Done(ctx context.Context, taskID string) <-chan struct{}
	Close() error
}
