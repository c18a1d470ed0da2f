package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/nadmax/forgeq/internal/checks"
	"github.com/nadmax/forgeq/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp, nil
}

type stubReviewer struct {
	response string
	err      error
}

func (r stubReviewer) Review(context.Context, string, string) (string, error) {
	return r.response, r.err
}

type stubIndexer struct {
	id       string
	err      error
	metadata map[string]string
}

func (i *stubIndexer) Index(_ context.Context, _ string, metadata map[string]string) (string, error) {
	i.metadata = metadata
	return i.id, i.err
}

func mustTask(t *testing.T, p task.Payload) *task.Task {
	tk, err := task.NewTask(p.Category(), p, task.PriorityNormal)
	require.NoError(t, err)
	return tk
}

func TestExtractCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		code     string
		language string
	}{
		{"tagged block", "```python\nprint(1)\n```", "print(1)", "python"},
		{"surrounding prose", "Here you go:\n```go\nfunc main() {}\n```\nEnjoy.", "func main() {}", "go"},
		{"untagged block", "```\nx = 1\n```", "x = 1", ""},
		{"unknown tag kept", "```rust\nfn main() {}\n```", "rust\nfn main() {}", ""},
		{"first block wins", "```bash\necho a\n```\n```bash\necho b\n```", "echo a", "bash"},
		{"unterminated", "```json\n{\"a\": 1}", "{\"a\": 1}", "json"},
		{"no fence", "  plain text answer \n", "plain text answer", ""},
		{"indentation kept", "```python\ndef f():\n    return 1\n```", "def f():\n    return 1", "python"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, language := ExtractCodeBlock(tt.text)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.language, language)
		})
	}
}

func TestGenerationHandler_Create(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"```python\nprint(1)\n```"}}
	h := NewGenerationHandler(gen, nil)

	out, err := h.Handle(context.Background(), mustTask(t, task.GenerationPayload{Mode: task.ModeCreate, Prompt: "print one"}))

	require.NoError(t, err)
	res := out.(*task.GenerationResult)
	assert.Equal(t, "print(1)", res.Artifact)
	assert.Equal(t, "python", res.Language)
	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "print one", gen.prompts[0])
}

func TestGenerationHandler_EditIncludesArtifact(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"```python\nprint(2)\n```"}}
	h := NewGenerationHandler(gen, nil)

	_, err := h.Handle(context.Background(), mustTask(t, task.GenerationPayload{
		Mode:     task.ModeCreate,
		Prompt:   "print two instead",
		Language: "python",
		Artifact: "print(1)",
	}))

	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "print two instead")
	assert.Contains(t, gen.prompts[0], "print(1)")
}

func TestGenerationHandler_ApplyFixesKeepsLatestBlock(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"```python\nv2\n```",
		"```python\nv3\n```",
	}}
	h := NewGenerationHandler(gen, nil)

	out, err := h.Handle(context.Background(), mustTask(t, task.GenerationPayload{
		Mode:     task.ModeApplyFixes,
		Artifact: "v1",
		Fixes:    []string{"fix a", "fix b"},
	}))

	require.NoError(t, err)
	res := out.(*task.GenerationResult)
	assert.Equal(t, "v3", res.Artifact)
	assert.Equal(t, 2, res.FixesApplied)
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[0], "v1")
	assert.Contains(t, gen.prompts[0], "fix a")
	assert.Contains(t, gen.prompts[1], "v2")
	assert.Contains(t, gen.prompts[1], "fix b")
}

func TestGenerationHandler_Error(t *testing.T) {
	h := NewGenerationHandler(&scriptedGenerator{err: errors.New("model offline")}, nil)

	_, err := h.Handle(context.Background(), mustTask(t, task.GenerationPayload{Mode: task.ModeCreate, Prompt: "x"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestGenerationHandler_EmptyArtifactFails(t *testing.T) {
	for _, reply := range []string{"```python\n```", "```\n\n```", "   "} {
		h := NewGenerationHandler(&scriptedGenerator{responses: []string{reply}}, nil)

		out, err := h.Handle(context.Background(), mustTask(t, task.GenerationPayload{Mode: task.ModeCreate, Prompt: "x"}))

		assert.ErrorIs(t, err, ErrEmptyArtifact, reply)
		assert.Nil(t, out)
	}
}

func TestGenerationHandler_EmptyFixFails(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"```python\nv2\n```", "```python\n```"}}
	h := NewGenerationHandler(gen, nil)

	_, err := h.Handle(context.Background(), mustTask(t, task.GenerationPayload{
		Mode:     task.ModeApplyFixes,
		Artifact: "v1",
		Fixes:    []string{"fix a", "fix b"},
	}))

	require.ErrorIs(t, err, ErrEmptyArtifact)
	assert.Contains(t, err.Error(), "fix 2 of 2")
}

func TestParseReview(t *testing.T) {
	raw := "Sure!\n```json\n{\"score\": \"85\", \"issues\": [{\"severity\": \"Critical\", \"issue\": \"sql injection\", \"fix\": \"use params\"}, \"minor nit\"], \"fixes\": [\"use params\"], \"suggestions\": \"add tests\"}\n```"

	res, ok := ParseReview(raw)

	require.True(t, ok)
	assert.Equal(t, 85, res.Score)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, task.SeverityHigh, res.Issues[0].Severity)
	assert.Equal(t, "sql injection", res.Issues[0].Description)
	assert.Equal(t, "use params", res.Issues[0].SuggestedFix)
	assert.Equal(t, ReviewSource, res.Issues[0].Source)
	assert.Equal(t, task.SeverityLow, res.Issues[1].Severity)
	assert.Equal(t, []string{"use params"}, res.Fixes)
	assert.Equal(t, []string{"add tests"}, res.Suggestions)
	assert.True(t, res.IssuesFound)
}

func TestParseReview_Unparseable(t *testing.T) {
	for _, raw := range []string{"", "looks fine to me", `{"issues": []}`, `{"score": "high"}`, `{"score": 90`} {
		_, ok := ParseReview(raw)
		assert.False(t, ok, raw)
	}
}

func TestValidationHandler_ScoreLaw(t *testing.T) {
	h := NewValidationHandler(stubReviewer{response: `{"score": 70, "issues": []}`}, nil)

	// eval( is high, pickle.loads medium; the artifact itself parses.
	artifact := "import pickle\nx = eval(data)\ny = pickle.loads(blob)\n"
	out, err := h.Handle(context.Background(), mustTask(t, task.ValidationPayload{Artifact: artifact, Language: "python"}))

	require.NoError(t, err)
	res := out.(*task.ValidationResult)
	assert.Equal(t, 40, res.Score)
	assert.True(t, res.IssuesFound)
	require.Len(t, res.Issues, 2)
	for _, issue := range res.Issues {
		assert.Equal(t, checks.Source, issue.Source)
	}
	assert.Len(t, res.Fixes, 2)
}

func TestValidationHandler_UntaggedArtifactKeepsScore(t *testing.T) {
	h := NewValidationHandler(stubReviewer{response: `{"score": 90, "issues": []}`}, nil)

	out, err := h.Handle(context.Background(), mustTask(t, task.ValidationPayload{Artifact: "// don't panic\nconsole.log(1)\n"}))

	require.NoError(t, err)
	res := out.(*task.ValidationResult)
	assert.Equal(t, 90, res.Score)
	assert.False(t, res.IssuesFound)
	assert.Empty(t, res.Issues)
}

func TestValidationHandler_Fallback(t *testing.T) {
	h := NewValidationHandler(stubReviewer{response: "I cannot produce JSON today"}, nil)

	out, err := h.Handle(context.Background(), mustTask(t, task.ValidationPayload{Artifact: "print(1)\n", Language: "python"}))

	require.NoError(t, err)
	res := out.(*task.ValidationResult)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackScore, res.Score)
	assert.False(t, res.IssuesFound)
	assert.Equal(t, []string{FallbackSuggestion}, res.Suggestions)
	assert.Empty(t, res.Issues)
}

func TestValidationHandler_FallbackStillRunsLocalChecks(t *testing.T) {
	h := NewValidationHandler(stubReviewer{response: "no"}, nil)

	out, err := h.Handle(context.Background(), mustTask(t, task.ValidationPayload{Artifact: "os.system('ls')\n", Language: "python"}))

	require.NoError(t, err)
	res := out.(*task.ValidationResult)
	assert.True(t, res.Fallback)
	assert.True(t, res.IssuesFound)
	assert.Equal(t, 60, res.Score)
}

func TestValidationHandler_ReviewError(t *testing.T) {
	h := NewValidationHandler(stubReviewer{err: errors.New("timeout")}, nil)

	_, err := h.Handle(context.Background(), mustTask(t, task.ValidationPayload{Artifact: "x"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestIndexingHandler(t *testing.T) {
	idx := &stubIndexer{id: "42"}
	h := NewIndexingHandler(idx)

	out, err := h.Handle(context.Background(), mustTask(t, task.IndexingPayload{
		Artifact: "print(1)",
		Metadata: map[string]string{"description": "hello"},
	}))

	require.NoError(t, err)
	assert.Equal(t, "42", out.(*task.IndexingResult).DocumentID)
	assert.Equal(t, "hello", idx.metadata["description"])
}

func TestIndexingHandler_Error(t *testing.T) {
	h := NewIndexingHandler(&stubIndexer{err: errors.New("db down")})

	_, err := h.Handle(context.Background(), mustTask(t, task.IndexingPayload{Artifact: "x"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
