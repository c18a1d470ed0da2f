package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nadmax/forgeq/internal/task"
)

const (
	ReviewSource       = "review"
	FallbackScore      = 70
	FallbackSuggestion = "manual review recommended"
)

// FallbackReview is substituted when a review response cannot be parsed.
func FallbackReview() task.ValidationResult {
	return task.ValidationResult{
		Score:       FallbackScore,
		Issues:      []task.Issue{},
		Fixes:       []string{},
		Suggestions: []string{FallbackSuggestion},
		IssuesFound: false,
		Fallback:    true,
	}
}

// ParseReview decodes a structured review from raw collaborator output. The JSON
// object may be wrapped in a fence or surrounded by prose; fields are coerced
// loosely. The second return is false when no usable review could be found.
func ParseReview(raw string) (task.ValidationResult, bool) {
	obj, ok := extractJSONObject(stripFence(raw))
	if !ok {
		return task.ValidationResult{}, false
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return task.ValidationResult{}, false
	}

	score, ok := coerceScore(fields["score"])
	if !ok {
		return task.ValidationResult{}, false
	}

	issues := coerceIssues(fields["issues"])
	return task.ValidationResult{
		Score:       task.ClampScore(score),
		Issues:      issues,
		Fixes:       coerceStrings(fields["fixes"]),
		Suggestions: coerceStrings(fields["suggestions"]),
		IssuesFound: len(issues) > 0,
	}, true
}

func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, fence) {
		trimmed = strings.TrimPrefix(trimmed, fence)
		trimmed = strings.TrimLeft(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasSuffix(trimmed, fence) {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, fence))
	}
	return trimmed
}

func extractJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escape := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func coerceScore(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(math.Round(t)), true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "/100")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64, bool:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

func coerceStrings(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func coerceSeverity(v any) task.Severity {
	switch strings.ToLower(coerceString(v)) {
	case "critical", "high", "error", "severe":
		return task.SeverityHigh
	case "medium", "moderate", "warning", "warn":
		return task.SeverityMedium
	default:
		return task.SeverityLow
	}
}

func coerceIssues(v any) []task.Issue {
	items, _ := v.([]any)
	issues := make([]task.Issue, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				issues = append(issues, task.Issue{Severity: task.SeverityLow, Description: s, Source: ReviewSource})
			}
		case map[string]any:
			desc := firstNonEmpty(coerceString(t["description"]), coerceString(t["issue"]), coerceString(t["message"]))
			if desc == "" {
				continue
			}
			issues = append(issues, task.Issue{
				Severity:     coerceSeverity(t["severity"]),
				Description:  desc,
				SuggestedFix: firstNonEmpty(coerceString(t["suggested_fix"]), coerceString(t["fix"])),
				Source:       ReviewSource,
			})
		}
	}
	return issues
}
