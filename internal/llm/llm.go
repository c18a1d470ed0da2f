// Package llm is a client for OpenAI-compatible chat completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float32   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type ChatResponse struct {
	Content      string
	FinishReason string
}

type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type HTTPClient struct {
	baseURLs []string
	model    string
	apiKey   string
	http     *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	baseURLs := splitBaseURLs(cfg.BaseURL)
	if len(baseURLs) == 0 {
		baseURLs = []string{normalizeBaseURL("http://localhost:1234/v1")}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURLs: baseURLs,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// Chat tries each configured endpoint in order and returns the first success.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if c == nil {
		return ChatResponse{}, errors.New("llm client is nil")
	}
	if len(req.Messages) == 0 {
		return ChatResponse{}, errors.New("llm chat requires at least one message")
	}
	if req.Model == "" {
		req.Model = c.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	failures := make([]string, 0, len(c.baseURLs))
	for _, baseURL := range c.baseURLs {
		resp, err := c.chatAtEndpoint(ctx, baseURL+"/chat/completions", payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", baseURL, err))
	}
	return ChatResponse{}, fmt.Errorf("llm request failed across endpoints: %s", strings.Join(failures, " | "))
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func splitBaseURLs(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\t' || r == ' '
	})
	out := make([]string, 0, len(tokens))
	seen := map[string]struct{}{}
	for _, token := range tokens {
		normalized := normalizeBaseURL(token)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func (c *HTTPClient) chatAtEndpoint(ctx context.Context, endpoint string, payload []byte) (ChatResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResponse{}, fmt.Errorf("status %s", resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return ChatResponse{}, errors.New("response missing choices")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return ChatResponse{}, errors.New("response empty")
	}
	return ChatResponse{
		Content:      content,
		FinishReason: strings.TrimSpace(decoded.Choices[0].FinishReason),
	}, nil
}
