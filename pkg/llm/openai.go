package llm

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultModel         = "gpt-4o-mini"
	initialRetryDelay    = 1 * time.Second
	backoffFactor        = 2.0
)

// OpenAILLM implements Completer for OpenAI compatible Chat Completions APIs
type OpenAILLM struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int // zero disables retries
	client     *http.Client
	logger     *zap.Logger
}

// NewOpenAILLM creates a new chat-style client
func NewOpenAILLM(apiKey string, timeout time.Duration) *OpenAILLM {
	if timeout == 0 {
		timeout = DefaultTimeout(FamilyChat)
	}
	return &OpenAILLM{
		APIKey:  apiKey,
		Model:   defaultModel,
		BaseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete sends a prompt to the Chat Completions API and returns the first message content
func (o *OpenAILLM) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := initialRetryDelay

	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter to delay: random value between 0.5x and 1.5x of delay
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			o.logger.Debug("retrying chat completion",
				zap.Int("attempt", attempt),
				zap.Duration("delay", jitter),
				zap.Error(lastErr))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", &TransportError{Backend: FamilyChat, Err: ctx.Err()}
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		result, err := o.makeRequest(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) || ctx.Err() != nil {
			return "", err
		}
	}

	return "", lastErr
}

func (o *OpenAILLM) makeRequest(ctx context.Context, prompt string) (string, error) {
	body, err := postJSON(ctx, o.client, FamilyChat, o.BaseURL+"/chat/completions", o.APIKey, openAIRequest{
		Model:    o.Model,
		Messages: []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return NormalizeChat(body)
}

// NormalizeChat extracts choices[0].message.content from a chat envelope.
// An in-band error object is surfaced as *UpstreamError.
func NormalizeChat(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", envelopeError(FamilyChat, body, "response is not a JSON object")
	}
	if resp.Error != nil {
		return "", envelopeError(FamilyChat, body, "backend reported error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", envelopeError(FamilyChat, body, "no completion choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// shouldRetry reports whether err is transient: a transport failure, a 429 or a 5xx
func shouldRetry(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode == http.StatusTooManyRequests || ue.StatusCode >= 500
	}
	return false
}
