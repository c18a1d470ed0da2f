// Package handlers holds the per-category task handlers run by workers. Each
// handler delegates the expensive work to an external collaborator and turns its
// output into the category's result type.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nadmax/forgeq/internal/task"
	"go.uber.org/zap"
)

var ErrEmptyArtifact = errors.New("generator returned an empty artifact")

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GenerationHandler struct {
	generator Generator
	logger    *zap.Logger
}

func NewGenerationHandler(generator Generator, logger *zap.Logger) *GenerationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationHandler{generator: generator, logger: logger}
}

func (h *GenerationHandler) Handle(ctx context.Context, t *task.Task) (any, error) {
	p, ok := t.Payload.(task.GenerationPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for generation", t.Payload)
	}

	switch p.Mode {
	case task.ModeApplyFixes:
		return h.applyFixes(ctx, t.ID, p)
	default:
		return h.create(ctx, p)
	}
}

func (h *GenerationHandler) create(ctx context.Context, p task.GenerationPayload) (*task.GenerationResult, error) {
	text, err := h.generator.Generate(ctx, createPrompt(p))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	code, lang := ExtractCodeBlock(text)
	if code == "" {
		return nil, ErrEmptyArtifact
	}
	return &task.GenerationResult{Artifact: code, Language: firstNonEmpty(lang, p.Language)}, nil
}

// applyFixes re-prompts once per fix, feeding each answer into the next prompt.
func (h *GenerationHandler) applyFixes(ctx context.Context, taskID string, p task.GenerationPayload) (*task.GenerationResult, error) {
	current := p.Artifact
	language := p.Language

	for i, fix := range p.Fixes {
		text, err := h.generator.Generate(ctx, fixPrompt(current, language, fix))
		if err != nil {
			return nil, fmt.Errorf("applying fix %d of %d: %w", i+1, len(p.Fixes), err)
		}
		code, lang := ExtractCodeBlock(text)
		if code == "" {
			return nil, fmt.Errorf("applying fix %d of %d: %w", i+1, len(p.Fixes), ErrEmptyArtifact)
		}
		current = code
		language = firstNonEmpty(lang, language)

		h.logger.Debug("fix applied",
			zap.String("task_id", taskID),
			zap.Int("fix", i+1),
			zap.Int("fixes", len(p.Fixes)),
		)
	}

	return &task.GenerationResult{Artifact: current, Language: language, FixesApplied: len(p.Fixes)}, nil
}

func createPrompt(p task.GenerationPayload) string {
	var b strings.Builder
	if p.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n\n", p.Language)
	}
	if strings.TrimSpace(p.Artifact) == "" {
		b.WriteString(p.Prompt)
		return b.String()
	}

	b.WriteString("Modify the artifact below as requested and return the complete result.\n\n")
	fmt.Fprintf(&b, "Request: %s\n\n", p.Prompt)
	fmt.Fprintf(&b, "%s%s\n%s\n%s", fence, p.Language, p.Artifact, fence)
	return b.String()
}

func fixPrompt(artifact, language, fix string) string {
	return fmt.Sprintf("Apply this fix and return the complete updated artifact.\n\nFix: %s\n\n%s%s\n%s\n%s",
		fix, fence, language, artifact, fence)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
