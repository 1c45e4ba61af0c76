package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// CompletionClient implements Completer against a llama.cpp server's /v1/completions
type CompletionClient struct {
	BaseURL     string
	MaxTokens   int
	Temperature float64
	TopP        float64
	client      *http.Client
}

// NewCompletionClient creates a completion-style client.
// baseURL is typically "http://localhost:8080". A zero timeout uses the
// family default (30s).
func NewCompletionClient(baseURL string, timeout time.Duration) *CompletionClient {
	if timeout == 0 {
		timeout = DefaultTimeout(FamilyCompletion)
	}
	return &CompletionClient{
		BaseURL:     baseURL,
		MaxTokens:   1024,
		Temperature: 0.1, // low temperature keeps field values literal
		TopP:        0.9,
		client:      &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// Complete sends the prompt and returns the generated text
func (c *CompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := postJSON(ctx, c.client, FamilyCompletion, c.BaseURL+"/v1/completions", "", completionRequest{
		Prompt:      prompt,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
	})
	if err != nil {
		return "", err
	}
	return NormalizeCompletion(body), nil
}

// NormalizeCompletion returns the trimmed text of the first choice.
// When the envelope has no usable choices the whole body is returned instead,
// so recovery can still look for JSON in whatever the server sent.
func NormalizeCompletion(body []byte) string {
	var envelope struct {
		Choices []json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Choices) == 0 {
		return string(body)
	}

	var first map[string]any
	if err := json.Unmarshal(envelope.Choices[0], &first); err != nil {
		return string(body)
	}

	text, _ := first["text"].(string)
	return strings.TrimSpace(text)
}
