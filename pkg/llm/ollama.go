package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// GenerateEnvelope declares where a generate-style backend puts its text.
//
// Plain mode (the Ollama API) reads a string from Field. Nested mode expects
// Field to hold an object with a choices[0].text substructure, which some
// proxies emit; a plain string there is reported as an UpstreamError.
type GenerateEnvelope struct {
	Field  string `mapstructure:"field" yaml:"field"`
	Nested bool   `mapstructure:"nested" yaml:"nested"`
}

// DefaultGenerateEnvelope is the Ollama shape: {"response": "<text>", ...}
var DefaultGenerateEnvelope = GenerateEnvelope{Field: "response"}

// OllamaClient implements Completer using the Ollama /api/generate endpoint
type OllamaClient struct {
	BaseURL  string
	Model    string
	Envelope GenerateEnvelope
	client   *http.Client
}

// NewOllamaClient creates a new Ollama client
// baseURL is typically "http://localhost:11434"
// model is the model name, e.g. "gemma3-4b-it-Q8_0"
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if timeout == 0 {
		timeout = DefaultTimeout(FamilyGenerate) // 5 minutes for slow local models
	}
	return &OllamaClient{
		BaseURL:  baseURL,
		Model:    model,
		Envelope: DefaultGenerateEnvelope,
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Complete sends a prompt and returns the text found in the configured envelope field
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := postJSON(ctx, c.client, FamilyGenerate, c.BaseURL+"/api/generate", "", ollamaGenerateRequest{
		Model:  c.Model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	return NormalizeGenerate(body, c.Envelope)
}

// NormalizeGenerate extracts generated text from a generate-style envelope.
// Shape mismatches are returned as *UpstreamError, never a panic.
func NormalizeGenerate(body []byte, env GenerateEnvelope) (string, error) {
	field := env.Field
	if field == "" {
		field = DefaultGenerateEnvelope.Field
	}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		return "", envelopeError(FamilyGenerate, body, "response is not a JSON object")
	}

	raw, ok := envelope[field]
	if !ok {
		if msg, ok := envelope["error"].(string); ok {
			return "", envelopeError(FamilyGenerate, body, "backend reported error: %s", msg)
		}
		return "", envelopeError(FamilyGenerate, body, "missing field %q", field)
	}

	if !env.Nested {
		text, ok := raw.(string)
		if !ok {
			return "", envelopeError(FamilyGenerate, body, "field %q is %s, want string", field, jsonKind(raw))
		}
		return text, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return "", envelopeError(FamilyGenerate, body, "field %q is %s, want object with choices", field, jsonKind(raw))
	}

	choices, _ := obj["choices"].([]any)
	if len(choices) == 0 {
		// same degradation as the completion family: hand over what we got
		fallback, err := json.Marshal(obj)
		if err != nil {
			return "", envelopeError(FamilyGenerate, body, "re-encode field %q: %v", field, err)
		}
		return string(fallback), nil
	}

	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", envelopeError(FamilyGenerate, body, "%s.choices[0] is %s, want object", field, jsonKind(choices[0]))
	}
	text, _ := first["text"].(string)
	return strings.TrimSpace(text), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a plain string"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	}
	return "unknown"
}
