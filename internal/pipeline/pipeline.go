// Package pipeline drives the generation, validation, remediation and indexing
// stages of a run through the coordinator. It never touches queues or the status
// store directly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/forgeq/internal/metrics"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

const DefaultStageTimeout = 5 * time.Minute

type Coordinator interface {
	Submit(ctx context.Context, category task.Category, payload task.Payload, priority task.TaskPriority) (string, error)
	Wait(ctx context.Context, taskID string, timeout time.Duration) (*task.Record, error)
}

// Archiver persists terminal runs.
type Archiver interface {
	ArchiveRun(ctx context.Context, run *Run) error
}

// RunNotifier is told about every terminal run.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *Run) error
}

type Option func(*Orchestrator)

func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

func WithNotifier(n RunNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type Orchestrator struct {
	coord        Coordinator
	stageTimeout time.Duration
	archiver     Archiver
	notifier     RunNotifier
	logger       *zap.Logger
}

func New(coord Coordinator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		coord:        coord,
		stageTimeout: DefaultStageTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunPipeline executes one run to a terminal state. A failed generation or
// validation stage returns the run together with a *StageError. Remediation and
// indexing failures are recorded on their stage without failing the run.
func (o *Orchestrator) RunPipeline(ctx context.Context, input, description string) (*Run, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &task.SubmissionError{Reason: "pipeline input is required"}
	}

	run := &Run{
		ID:          uuid.New().String(),
		Input:       input,
		Description: description,
		State:       StateStarted,
		Stages:      []StageOutcome{},
		TaskIDs:     []string{},
		StartedAt:   time.Now().UTC(),
	}
	logger := o.logger.With(zap.String("pipeline_id", run.ID))
	logger.Info("pipeline started")

	var gen task.GenerationResult
	if err := o.runStage(ctx, run, StageGeneration, task.CategoryGeneration, task.GenerationPayload{
		Mode:   task.ModeCreate,
		Prompt: generationPrompt(input, description),
	}, &gen); err != nil {
		return o.fail(ctx, logger, run, err)
	}
	if strings.TrimSpace(gen.Artifact) == "" {
		return o.fail(ctx, logger, run, emptyArtifact(run, StageGeneration))
	}
	run.Artifact = gen.Artifact
	run.Language = gen.Language

	var review task.ValidationResult
	if err := o.runStage(ctx, run, StageValidation, task.CategoryValidation, task.ValidationPayload{
		Artifact: run.Artifact,
		Language: run.Language,
		Context:  description,
	}, &review); err != nil {
		return o.fail(ctx, logger, run, err)
	}
	run.Validation = &review
	run.Score = review.Score

	if review.IssuesFound {
		var fixed task.GenerationResult
		err := o.runStage(ctx, run, StageRemediation, task.CategoryGeneration, task.GenerationPayload{
			Mode:     task.ModeApplyFixes,
			Artifact: run.Artifact,
			Language: run.Language,
			Fixes:    remediationFixes(review),
		}, &fixed)
		if err == nil && strings.TrimSpace(fixed.Artifact) == "" {
			err = emptyArtifact(run, StageRemediation)
		}
		if err != nil {
			logger.Warn("remediation failed, keeping validated artifact", zap.Error(err))
		} else {
			run.Artifact = fixed.Artifact
			if fixed.Language != "" {
				run.Language = fixed.Language
			}
		}
	}

	var indexed task.IndexingResult
	if err := o.runStage(ctx, run, StageIndexing, task.CategoryIndexing, task.IndexingPayload{
		Artifact: run.Artifact,
		Metadata: indexMetadata(run),
	}, &indexed); err != nil {
		logger.Warn("indexing failed, run still completes", zap.Error(err))
	} else {
		run.DocumentID = indexed.DocumentID
	}

	run.State = StateCompleted
	o.finish(ctx, logger, run)
	return run, nil
}

// runStage submits one task, waits for it and decodes its result into out. The
// outcome is appended to run.Stages in every case.
func (o *Orchestrator) runStage(ctx context.Context, run *Run, stage string, category task.Category, payload task.Payload, out any) error {
	id, err := o.coord.Submit(ctx, category, payload, task.PriorityNormal)
	if err != nil {
		run.Stages = append(run.Stages, StageOutcome{Name: stage, State: task.StateFailed, Error: err.Error()})
		return &StageError{Stage: stage, Err: err}
	}
	run.TaskIDs = append(run.TaskIDs, id)

	rec, err := o.coord.Wait(ctx, id, o.stageTimeout)
	if err != nil {
		outcome := StageOutcome{Name: stage, TaskID: id, State: task.StatePending, Error: err.Error()}
		if rec != nil {
			outcome.State = rec.State
		}
		run.Stages = append(run.Stages, outcome)
		return &StageError{Stage: stage, TaskID: id, Err: err}
	}

	outcome := StageOutcome{Name: stage, TaskID: id, State: rec.State, Error: rec.Error}
	if rec.State != task.StateSucceeded {
		run.Stages = append(run.Stages, outcome)
		return &StageError{Stage: stage, TaskID: id, Err: errors.New(rec.Error)}
	}
	if err := rec.DecodeResult(out); err != nil {
		outcome.State = task.StateFailed
		outcome.Error = err.Error()
		run.Stages = append(run.Stages, outcome)
		return &StageError{Stage: stage, TaskID: id, Err: fmt.Errorf("decode result: %w", err)}
	}
	run.Stages = append(run.Stages, outcome)
	return nil
}

// emptyArtifact marks the last recorded outcome of stage as failed. A stage that
// succeeds without producing an artifact has nothing for the next stage to use.
func emptyArtifact(run *Run, stage string) error {
	err := &StageError{Stage: stage, Err: ErrEmptyArtifact}
	if n := len(run.Stages); n > 0 && run.Stages[n-1].Name == stage {
		last := &run.Stages[n-1]
		last.State = task.StateFailed
		last.Error = ErrEmptyArtifact.Error()
		err.TaskID = last.TaskID
	}
	return err
}

func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, run *Run, err error) (*Run, error) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		run.FailedStage = stageErr.Stage
		run.Error = stageErr.Err.Error()
	} else {
		run.Error = err.Error()
	}
	run.State = failedState(run.FailedStage)
	o.finish(ctx, logger, run)
	return run, err
}

func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, run *Run) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	metrics.RecordPipelineRun(string(run.State), run.Duration())

	logger.Info("pipeline finished",
		zap.String("state", string(run.State)),
		zap.Int("score", run.Score),
		zap.Strings("stages", run.StageNames()),
		zap.Duration("duration", run.Duration()),
	)

	// Hooks observe the outcome; they cannot change it.
	hookCtx := context.WithoutCancel(ctx)
	if o.archiver != nil {
		if err := o.archiver.ArchiveRun(hookCtx, run); err != nil {
			logger.Warn("failed to archive pipeline run", zap.Error(err))
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyRun(hookCtx, run); err != nil {
			logger.Warn("failed to send pipeline notification", zap.Error(err))
		}
	}
}

func generationPrompt(input, description string) string {
	if strings.TrimSpace(description) == "" {
		return input
	}
	return input + "\n\nDescription: " + description
}

// remediationFixes prefers the review's fix list and falls back to the issues.
func remediationFixes(v task.ValidationResult) []string {
	if len(v.Fixes) > 0 {
		return v.Fixes
	}
	fixes := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		if issue.SuggestedFix != "" {
			fixes = append(fixes, issue.SuggestedFix)
		} else {
			fixes = append(fixes, "Resolve: "+issue.Description)
		}
	}
	return fixes
}

func indexMetadata(run *Run) map[string]string {
	md := map[string]string{
		"pipeline_id": run.ID,
		"score":       strconv.Itoa(run.Score),
	}
	if run.Description != "" {
		md["description"] = run.Description
	}
	if run.Language != "" {
		md["language"] = run.Language
	}
	return md
}
