// Package llm provides adapters for the text-completion backends used by entity extraction.
//
// Each backend family wraps its generated text in a different response
// envelope. The adapters issue the HTTP call and normalise the envelope to a
// plain string; recovering structure from that string is left to the caller.
package llm

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Completer sends a prompt to a backend and returns the generated text
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Family names a backend envelope family
type Family string

const (
	// FamilyCompletion is a llama.cpp style /v1/completions endpoint
	FamilyCompletion Family = "completion"
	// FamilyGenerate is an Ollama style /api/generate endpoint
	FamilyGenerate Family = "generate"
	// FamilyChat is an OpenAI compatible /chat/completions endpoint
	FamilyChat Family = "chat"
)

// DefaultTimeout returns the request timeout for a backend family.
// Generate backends decode the whole reply server-side with little batching,
// so they get a much longer budget than interactive completion.
func DefaultTimeout(f Family) time.Duration {
	switch f {
	case FamilyGenerate:
		return 300 * time.Second
	case FamilyChat:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// DefaultBaseURL returns the usual local address of a backend family
func DefaultBaseURL(f Family) string {
	switch f {
	case FamilyGenerate:
		return "http://localhost:11434"
	case FamilyChat:
		return defaultOpenAIBaseURL
	default:
		return "http://localhost:8080"
	}
}

// Config selects and parameterises a backend adapter
type Config struct {
	Family      Family
	BaseURL     string
	Model       string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	TopP        float64
	Envelope    GenerateEnvelope
	MaxRetries  int
}

// New builds the adapter for cfg.Family. An empty BaseURL or zero Timeout
// takes the family default; Temperature and TopP are used as given.
func New(cfg Config, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout(cfg.Family)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(cfg.Family)
	}

	switch cfg.Family {
	case FamilyCompletion, "":
		c := NewCompletionClient(cfg.BaseURL, cfg.Timeout)
		if cfg.MaxTokens > 0 {
			c.MaxTokens = cfg.MaxTokens
		}
		c.Temperature = cfg.Temperature
		c.TopP = cfg.TopP
		return c, nil
	case FamilyGenerate:
		c := NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Timeout)
		if cfg.Envelope.Field != "" || cfg.Envelope.Nested {
			c.Envelope = cfg.Envelope
		}
		return c, nil
	case FamilyChat:
		c := NewOpenAILLM(cfg.APIKey, cfg.Timeout)
		c.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		c.MaxRetries = cfg.MaxRetries
		c.logger = logger
		return c, nil
	}
	return nil, errors.Newf("unknown backend family %q", cfg.Family)
}
