package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/forgeq/internal/task"
)

type State string

const (
	StateStarted            State = "started"
	StateCompleted          State = "completed"
	StateFailedAtGeneration State = "failed_at_generation"
	StateFailedAtValidation State = "failed_at_validation"
	// StateFailedAtIndexing is never entered: an indexing failure is recorded on
	// its stage and the run still completes.
	StateFailedAtIndexing State = "failed_at_indexing"
)

func (s State) Terminal() bool {
	return s != StateStarted
}

const (
	StageGeneration  = "generation"
	StageValidation  = "validation"
	StageRemediation = "remediation"
	StageIndexing    = "indexing"
)

var (
	ErrStageFailed   = errors.New("pipeline stage failed")
	ErrEmptyArtifact = errors.New("stage produced an empty artifact")
)

// StageError reports the stage that aborted a run. Err carries the underlying
// task error verbatim, or the wait/submit error when no terminal record was seen.
type StageError struct {
	Stage  string
	TaskID string
	Err    error
}

func (e *StageError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage failed (task %s): %v", e.Stage, e.TaskID, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrStageFailed, e.Err}
}

type StageOutcome struct {
	Name   string     `json:"name"`
	TaskID string     `json:"task_id,omitempty"`
	State  task.State `json:"state"`
	Error  string     `json:"error,omitempty"`
}

type Run struct {
	ID          string                 `json:"id"`
	Input       string                 `json:"input"`
	Description string                 `json:"description,omitempty"`
	State       State                  `json:"state"`
	Stages      []StageOutcome         `json:"stages"`
	Artifact    string                 `json:"artifact,omitempty"`
	Language    string                 `json:"language,omitempty"`
	Score       int                    `json:"score"`
	Validation  *task.ValidationResult `json:"validation,omitempty"`
	DocumentID  string                 `json:"document_id,omitempty"`
	TaskIDs     []string               `json:"task_ids"`
	FailedStage string                 `json:"failed_stage,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

// StageNames lists the stages executed so far, in order.
func (r *Run) StageNames() []string {
	names := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		names = append(names, s.Name)
	}
	return names
}

func (r *Run) Stage(name string) (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageOutcome{}, false
}

func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func failedState(stage string) State {
	switch stage {
	case StageGeneration:
		return StateFailedAtGeneration
	case StageValidation:
		return StateFailedAtValidation
	default:
		// only generation and validation abort a run
		panic(fmt.Sprintf("pipeline: stage %q cannot fail a run", stage))
	}
}
