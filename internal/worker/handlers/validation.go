package handlers

import (
	"context"
	"fmt"

	"github.com/nadmax/forgeq/internal/checks"
	"github.com/nadmax/forgeq/internal/metrics"
	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

type Reviewer interface {
	Review(ctx context.Context, artifact, reviewContext string) (string, error)
}

type ValidationHandler struct {
	reviewer Reviewer
	logger   *zap.Logger
}

func NewValidationHandler(reviewer Reviewer, logger *zap.Logger) *ValidationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationHandler{reviewer: reviewer, logger: logger}
}

// Handle merges the external review with the local checks. Only local issues
// lower the score; the review's own score already accounts for what it found.
func (h *ValidationHandler) Handle(ctx context.Context, t *task.Task) (any, error) {
	p, ok := t.Payload.(task.ValidationPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for validation", t.Payload)
	}

	raw, err := h.reviewer.Review(ctx, p.Artifact, p.Context)
	if err != nil {
		return nil, fmt.Errorf("review failed: %w", err)
	}

	result, ok := ParseReview(raw)
	if !ok {
		metrics.RecordReviewFallback()
		h.logger.Warn("review response not parseable, using fallback",
			zap.String("task_id", t.ID),
			zap.Int("response_bytes", len(raw)),
		)
		result = FallbackReview()
	}

	local := checks.Run(p.Artifact, p.Language)
	for _, issue := range local {
		if issue.SuggestedFix != "" {
			result.Fixes = appendUnique(result.Fixes, issue.SuggestedFix)
		}
	}
	result.Issues = append(result.Issues, local...)
	result.IssuesFound = len(result.Issues) > 0
	result.Score = task.ApplyPenalties(result.Score, local)

	return &result, nil
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
