package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string, inspect func(r *http.Request, body ChatRequest)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(r, body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}))
}

func TestSplitBaseURLs(t *testing.T) {
	got := splitBaseURLs("10.0.0.2:1234/v1, http://10.0.0.3:1234 ;10.0.0.2:1234/v1")

	assert.Equal(t, []string{"http://10.0.0.2:1234/v1", "http://10.0.0.3:1234/v1"}, got)
}

func TestChat(t *testing.T) {
	srv := completionServer(t, "hello", func(r *http.Request, body ChatRequest) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "coder-7b", body.Model)
	})
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL, Model: "coder-7b", APIKey: "secret", Timeout: 5 * time.Second})
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestChatFallsBackToNextEndpoint(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	ok := completionServer(t, "from-second", nil)
	defer ok.Close()

	client := NewHTTPClient(Config{BaseURL: failing.URL + "," + ok.URL})
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "from-second", resp.Content)
}

func TestChatAllEndpointsFail(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer failing.Close()

	client := NewHTTPClient(Config{BaseURL: failing.URL})
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestChatRejectsEmptyInput(t *testing.T) {
	client := NewHTTPClient(Config{})
	_, err := client.Chat(context.Background(), ChatRequest{})
	assert.Error(t, err)
}

func TestChatRejectsEmptyContent(t *testing.T) {
	srv := completionServer(t, "   ", nil)
	defer srv.Close()

	client := NewHTTPClient(Config{BaseURL: srv.URL})
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	assert.Error(t, err)
}

func TestAssistantGenerate(t *testing.T) {
	srv := completionServer(t, "```python\nprint(1)\n```", func(_ *http.Request, body ChatRequest) {
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "write hello world", body.Messages[1].Content)
	})
	defer srv.Close()

	a := NewAssistant(NewHTTPClient(Config{BaseURL: srv.URL}))
	out, err := a.Generate(context.Background(), "write hello world")

	require.NoError(t, err)
	assert.Contains(t, out, "print(1)")
}

func TestAssistantReviewRequestsJSON(t *testing.T) {
	srv := completionServer(t, `{"score": 90}`, func(_ *http.Request, body ChatRequest) {
		assert.NotNil(t, body.ResponseFormat)
		assert.True(t, strings.HasPrefix(body.Messages[1].Content, "Context: cli tool"))
		assert.Contains(t, body.Messages[1].Content, "print(1)")
	})
	defer srv.Close()

	a := NewAssistant(NewHTTPClient(Config{BaseURL: srv.URL}))
	out, err := a.Review(context.Background(), "print(1)", "cli tool")

	require.NoError(t, err)
	assert.Equal(t, `{"score": 90}`, out)
}
