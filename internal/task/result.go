package task

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

var severityPenalty = map[Severity]int{
	SeverityHigh:   20,
	SeverityMedium: 10,
	SeverityLow:    5,
}

func (s Severity) Penalty() int {
	return severityPenalty[s]
}

type Issue struct {
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
	Source       string   `json:"source,omitempty"`
}

type GenerationResult struct {
	Artifact     string `json:"artifact"`
	Language     string `json:"language,omitempty"`
	FixesApplied int    `json:"fixes_applied,omitempty"`
}

type ValidationResult struct {
	Score       int      `json:"score"`
	Issues      []Issue  `json:"issues"`
	Fixes       []string `json:"fixes"`
	Suggestions []string `json:"suggestions,omitempty"`
	IssuesFound bool     `json:"issues_found"`
	Fallback    bool     `json:"fallback,omitempty"`
}

type IndexingResult struct {
	DocumentID string `json:"document_id"`
}

// ApplyPenalties lowers base by the fixed per-severity penalty of every issue and
// clamps the outcome to [0,100].
func ApplyPenalties(base int, issues []Issue) int {
	score := base
	for _, issue := range issues {
		score -= issue.Severity.Penalty()
	}
	return ClampScore(score)
}

func ClampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
