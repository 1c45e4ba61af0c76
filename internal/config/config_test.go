package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/prompt"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "completion", cfg.Backend.Family)
	assert.Empty(t, cfg.Backend.BaseURL)
	assert.Equal(t, "http://localhost:8080", cfg.Backend.LLM().BaseURL)
	assert.Equal(t, "gemma3-4b-it-Q8_0", cfg.Backend.Model)
	assert.Zero(t, cfg.Backend.Timeout)
	assert.Equal(t, 1024, cfg.Backend.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Backend.Temperature, 1e-9)
	assert.InDelta(t, 0.9, cfg.Backend.TopP, 1e-9)
	assert.Equal(t, "response", cfg.Backend.Envelope.Field)
	assert.False(t, cfg.Backend.Envelope.Nested)
	assert.Equal(t, prompt.DefaultTemplate, cfg.Extraction.PromptTemplate)
	assert.Equal(t, "http://localhost:8081/entity-extraction", cfg.Harness.Endpoint)
	assert.InDelta(t, 0.6, cfg.Harness.PassRatio, 1e-9)
	assert.Equal(t, 1, cfg.Harness.Parallelism)
	assert.Equal(t, 30*time.Second, cfg.Harness.RequestTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Trace.File)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entityx.yaml")
	content := `
backend:
  family: generate
  base_url: http://ollama:11434
  model: llama3
  timeout: 2m
  envelope:
    field: output
    nested: true
harness:
  parallelism: 4
  case_timeout: 45s
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "generate", cfg.Backend.Family)
	assert.Equal(t, "http://ollama:11434", cfg.Backend.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Backend.Timeout)
	assert.Equal(t, llm.GenerateEnvelope{Field: "output", Nested: true}, cfg.Backend.Envelope)
	assert.Equal(t, 4, cfg.Harness.Parallelism)
	assert.Equal(t, 45*time.Second, cfg.Harness.CaseTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	// untouched keys keep their defaults
	assert.Equal(t, ":8081", cfg.Server.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entityx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  model: from-file\n"), 0o644))

	t.Setenv("ENTITYX_BACKEND_MODEL", "from-env")
	t.Setenv("ENTITYX_HARNESS_PASS_RATIO", "0.75")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backend.Model)
	assert.InDelta(t, 0.75, cfg.Harness.PassRatio, 1e-9)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ENTITYX_BACKEND_API_KEY=sk-test\n"), 0o644))

	// registers cleanup so the variable godotenv sets does not leak
	t.Setenv("ENTITYX_BACKEND_API_KEY", "")
	require.NoError(t, os.Unsetenv("ENTITYX_BACKEND_API_KEY"))

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Backend.APIKey)
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("", "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown family", func(c *Config) { c.Backend.Family = "grpc" }, "backend.family"},
		{"negative timeout", func(c *Config) { c.Backend.Timeout = -time.Second }, "backend.timeout"},
		{"ratio above one", func(c *Config) { c.Harness.PassRatio = 1.5 }, "harness.pass_ratio"},
		{"ratio below zero", func(c *Config) { c.Harness.PassRatio = -0.1 }, "harness.pass_ratio"},
		{"no parallelism", func(c *Config) { c.Harness.Parallelism = 0 }, "harness.parallelism"},
		{"template without slots", func(c *Config) { c.Extraction.PromptTemplate = "extract {{text}}" }, "prompt_template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, valid().Validate())
}

func TestBackendConfig_LLM(t *testing.T) {
	b := BackendConfig{
		Family:     "chat",
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		APIKey:     "sk",
		Timeout:    time.Minute,
		MaxRetries: 2,
	}
	got := b.LLM()
	assert.Equal(t, llm.FamilyChat, got.Family)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, time.Minute, got.Timeout)
	assert.Equal(t, 2, got.MaxRetries)
	assert.Equal(t, "https://api.openai.com/v1", got.BaseURL)
}

func TestLoad_GenerateFamilyDefaultsToOllama(t *testing.T) {
	t.Setenv("ENTITYX_BACKEND_FAMILY", "generate")
	t.Setenv("ENTITYX_BACKEND_TEMPERATURE", "0")

	cfg, err := Load("", "")
	require.NoError(t, err)

	got := cfg.Backend.LLM()
	assert.Equal(t, "http://localhost:11434", got.BaseURL)
	assert.Equal(t, llm.FamilyGenerate, got.Family)
	assert.Zero(t, got.Temperature)
}
