package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	generateSystemPrompt = "You are a senior software engineer. Reply with the complete artifact in a single fenced code block."
	reviewSystemPrompt   = `You review code for correctness and security. Reply with JSON only:
{"score": 0-100, "issues": [{"severity": "high|medium|low", "description": "...", "suggested_fix": "..."}], "fixes": ["..."], "suggestions": ["..."], "issues_found": true|false}`
)

// Assistant adapts a chat Client to the generation and review collaborators used
// by the worker handlers.
type Assistant struct {
	client      Client
	temperature float32
}

func NewAssistant(client Client) *Assistant {
	return &Assistant{client: client, temperature: 0.2}
}

func (a *Assistant) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: generateSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: a.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Content, nil
}

func (a *Assistant) Review(ctx context.Context, artifact, reviewContext string) (string, error) {
	var b strings.Builder
	if strings.TrimSpace(reviewContext) != "" {
		b.WriteString("Context: ")
		b.WriteString(reviewContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Review this artifact:\n```\n")
	b.WriteString(artifact)
	b.WriteString("\n```")

	resp, err := a.client.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("review: %w", err)
	}
	return resp.Content, nil
}
